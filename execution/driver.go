package execution

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tempolabs/tempo/block"
	"github.com/tempolabs/tempo/common/log"
)

// Config parameterizes a Driver's pacing, per spec §4.3 "Timeouts are
// paced at coarse granularity (≈20ms quanta for build polls, 50ms for
// validation)".
type Config struct {
	Engine Engine
	Log    log.Logger
	// NewPayloadWaitTime is the wall-clock budget for a payload build
	// before it is interrupted and the partial result resolved (spec
	// §5 "Cancellation and timeouts").
	NewPayloadWaitTime time.Duration
	// BuildPollInterval is defaulted but not read: a build is resolved
	// once, after the full NewPayloadWaitTime, without polling.
	BuildPollInterval  time.Duration
	ValidatePace       time.Duration
}

func (c Config) withDefaults() Config {
	if c.NewPayloadWaitTime <= 0 {
		c.NewPayloadWaitTime = 800 * time.Millisecond
	}
	if c.BuildPollInterval <= 0 {
		c.BuildPollInterval = 20 * time.Millisecond
	}
	if c.ValidatePace <= 0 {
		c.ValidatePace = 50 * time.Millisecond
	}
	return c
}

// mutation is applied serially, inside the Driver's message loop, to
// the fields it owns exclusively — the only form of write access to
// driverState, so no lock is ever held across a suspension point (spec
// §5 "no locks held across suspension points").
type mutation func(*driverState)

type driverState struct {
	latest     block.Hash
	safe       block.Hash
	finalized  block.Hash
	genesis    block.Hash
	backfilled bool // true once a SYNCING episode has resumed at VALID
	backfill   bool
}

type request interface {
	// run executes on the message-loop goroutine, which waits for it to
	// return before taking the next request, so engine I/O inside run
	// (a payload build and its wait, a newPayload validation) holds up
	// later requests. It returns the state mutation (if any) to apply
	// back on the loop, plus the reply to deliver to the caller.
	run(ctx context.Context, d *Driver, snapshot driverState) (mutation, func())
}

// Driver is the single serial point of contact with the execution
// layer (spec §4.4). Propose/Verify/Finalized/Broadcast/Genesis are
// safe for concurrent callers; builds, validations, finalized reports
// and broadcasts are funneled through one channel and processed by one
// goroutine, preserving the delivery order consensus emits them in
// (spec §5 "Ordering guarantees"). Genesis, and the newPayload call
// Propose makes after a build resolves, go to the Engine directly from
// the caller's goroutine.
type Driver struct {
	cfg Config
	log log.Logger

	requests  chan requestEnvelope
	mutations chan mutation

	done chan struct{}
}

type requestEnvelope struct {
	req request
}

// NewDriver constructs a Driver and starts its message loop. Call
// Close to stop it.
func NewDriver(cfg Config) *Driver {
	cfg = cfg.withDefaults()
	d := &Driver{
		cfg:       cfg,
		log:       cfg.Log,
		requests:  make(chan requestEnvelope, 64),
		mutations: make(chan mutation, 64),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Close stops the message loop. Outstanding requests already admitted
// are allowed to finish; no new ones are accepted afterward.
func (d *Driver) Close() { close(d.requests) }

// run is the message loop: the only goroutine that ever reads or
// writes driverState. It selects over newly admitted requests and
// mutations posted back by workers those requests spawned, mirroring
// the teacher's chainStore.run select-loop shape
// (internal/chain/beacon/chainstore.go) generalized from beacon
// aggregation to Engine-API dispatch.
func (d *Driver) run() {
	var st driverState
	for {
		select {
		case env, ok := <-d.requests:
			if !ok {
				close(d.done)
				return
			}
			snapshot := st
			mut, reply := env.req.run(context.Background(), d, snapshot)
			if mut != nil {
				d.mutations <- mut
			}
			if reply != nil {
				reply()
			}
		case mut := <-d.mutations:
			mut(&st)
		}
	}
}

func (d *Driver) submit(ctx context.Context, r request) {
	select {
	case d.requests <- requestEnvelope{req: r}:
	case <-ctx.Done():
	}
}

// ---- Propose ----

type proposeRequest struct {
	parent    block.Hash
	attrs     PayloadAttributes
	requestID string
	out       chan proposeResult
}

type proposeResult struct {
	payload BuiltPayload
	err     error
}

func (r *proposeRequest) run(ctx context.Context, d *Driver, snapshot driverState) (mutation, func()) {
	id := block.DerivePayloadID(r.parent)
	if d.log != nil {
		d.log.Debugw("execution: build requested", "request_id", r.requestID, "payload_id", id)
	}
	var res proposeResult
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.cfg.Engine.SendNewPayload(ctx, id, r.attrs); err != nil {
			res.err = err
			return
		}
		waitCtx, cancel := context.WithTimeout(ctx, d.cfg.NewPayloadWaitTime)
		defer cancel()
		<-waitCtx.Done() // new_payload_wait_time quantum, spec §4.3 step 3
		built, err := d.cfg.Engine.Resolve(context.Background(), id)
		res.payload, res.err = built, err
	}()
	<-done

	var mut mutation
	if res.err == nil {
		fcHash := res.payload.Digest
		mut = func(st *driverState) { st.latest = fcHash }
	}
	reply := func() { r.out <- res }
	return mut, reply
}

// Propose requests a payload build atop parent carrying attrs,
// submits it as newPayload, and on acceptance advances the latest
// head, per spec §4.3's propose algorithm steps 3-5.
func (d *Driver) Propose(ctx context.Context, parent block.Hash, attrs PayloadAttributes) (block.Hash, error) {
	req := &proposeRequest{parent: parent, attrs: attrs, requestID: uuid.NewString(), out: make(chan proposeResult, 1)}
	d.submit(ctx, req)
	select {
	case res := <-req.out:
		if res.err != nil {
			return block.Hash{}, res.err
		}
		status, err := d.cfg.Engine.NewPayload(ctx, res.payload)
		if err != nil {
			return block.Hash{}, err
		}
		switch status.Status {
		case StatusValid, StatusAccepted:
			return res.payload.Digest, nil
		case StatusSyncing:
			if d.log != nil {
				d.log.Warnw("execution: newPayload SYNCING, entering backfill", "parent", parent)
			}
			d.enterBackfill(ctx)
			return block.Hash{}, tmErrSyncing
		default:
			return block.Hash{}, nil // INVALID: spec §4.3 step 4, return None
		}
	case <-ctx.Done():
		return block.Hash{}, ctx.Err()
	}
}

// ---- Verify ----

type verifyRequest struct {
	payload BuiltPayload
	out     chan verifyResult
}

type verifyResult struct {
	status PayloadStatusResult
	err    error
}

func (r *verifyRequest) run(ctx context.Context, d *Driver, snapshot driverState) (mutation, func()) {
	time.Sleep(d.cfg.ValidatePace)
	status, err := d.cfg.Engine.NewPayload(ctx, r.payload)
	var mut mutation
	if err == nil && (status.Status == StatusValid || status.Status == StatusAccepted) {
		digest := r.payload.Digest
		valid := status.Status == StatusValid
		mut = func(st *driverState) {
			st.latest = digest
			if valid && st.backfill {
				st.backfill = false
				st.backfilled = true
			}
		}
	}
	if err == nil && status.Status == StatusSyncing {
		mut = func(st *driverState) { st.backfill = true }
	}
	res := verifyResult{status: status, err: err}
	reply := func() { r.out <- res }
	return mut, reply
}

// Verify validates payload against the execution layer with parent
// already notarized, returning true iff the engine reports VALID or
// ACCEPTED. A SYNCING response puts the Driver into Backfill mode
// (spec §4.4 "Sync semantics") and is reported as false, not an error:
// the caller treats it exactly like any other not-yet-acceptable
// payload until backfill resolves it.
func (d *Driver) Verify(ctx context.Context, parent block.Hash, payload BuiltPayload) (bool, error) {
	req := &verifyRequest{payload: payload, out: make(chan verifyResult, 1)}
	d.submit(ctx, req)
	select {
	case res := <-req.out:
		if res.err != nil {
			return false, res.err
		}
		return res.status.Status == StatusValid || res.status.Status == StatusAccepted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// enterBackfill is called from a caller goroutine (Propose/Verify),
// not the loop; it posts a mutation rather than touching state
// directly.
func (d *Driver) enterBackfill(ctx context.Context) {
	d.submit(ctx, &backfillEnter{})
}

type backfillEnter struct{}

func (*backfillEnter) run(ctx context.Context, d *Driver, snapshot driverState) (mutation, func()) {
	return func(st *driverState) { st.backfill = true }, nil
}

// ---- Finalized ----

type finalizedRequest struct {
	h   block.Hash
	out chan error
}

func (r *finalizedRequest) run(ctx context.Context, d *Driver, snapshot driverState) (mutation, func()) {
	h := r.h
	mut := func(st *driverState) { st.finalized = h }
	reply := func() { r.out <- nil }
	return mut, reply
}

// Finalized records h as finalized, advancing the Driver's finalized
// head monotonically (spec §4.4 "Canonical chain discipline" — callers
// are trusted to only report non-decreasing finalized heights; the
// Driver does not itself compare heights since it only ever sees
// opaque hashes here).
func (d *Driver) Finalized(ctx context.Context, h block.Hash) error {
	req := &finalizedRequest{h: h, out: make(chan error, 1)}
	d.submit(ctx, req)
	select {
	case err := <-req.out:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- Broadcast ----

type broadcastRequest struct {
	digest    block.Hash
	broadcast func(block.Hash)
	out       chan struct{}
}

func (r *broadcastRequest) run(ctx context.Context, d *Driver, snapshot driverState) (mutation, func()) {
	if r.broadcast != nil {
		r.broadcast(r.digest)
	}
	return nil, func() { close(r.out) }
}

// Broadcast is an advisory hand-off of digest to the gossip layer
// (spec §4.4); sink is the p2p integration point, a Non-goal here.
func (d *Driver) Broadcast(ctx context.Context, digest block.Hash, sink func(block.Hash)) {
	req := &broadcastRequest{digest: digest, broadcast: sink, out: make(chan struct{})}
	d.submit(ctx, req)
	select {
	case <-req.out:
	case <-ctx.Done():
	}
}

// ---- Genesis ----

// Genesis returns the execution layer's genesis digest.
func (d *Driver) Genesis(ctx context.Context) (block.Hash, error) {
	return d.cfg.Engine.Genesis(ctx)
}

// Backfilling reports whether the Driver is currently in Backfill mode
// (spec §4.4 "Sync semantics"). Exposed for metrics and tests only;
// the Driver otherwise manages the transition internally.
func (d *Driver) Backfilling(ctx context.Context) bool {
	out := make(chan bool, 1)
	d.submit(ctx, &readBackfillRequest{out: out})
	select {
	case v := <-out:
		return v
	case <-ctx.Done():
		return false
	}
}

type readBackfillRequest struct{ out chan bool }

func (r *readBackfillRequest) run(ctx context.Context, d *Driver, snapshot driverState) (mutation, func()) {
	v := snapshot.backfill
	return nil, func() { r.out <- v }
}

var tmErrSyncing = &syncingError{}

type syncingError struct{}

func (*syncingError) Error() string { return "execution: engine reported SYNCING" }
