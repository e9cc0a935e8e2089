package consensus_test

import (
	"context"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempolabs/tempo/block"
	"github.com/tempolabs/tempo/ceremony"
	"github.com/tempolabs/tempo/consensus"
	"github.com/tempolabs/tempo/crypto"
	"github.com/tempolabs/tempo/epoch"
	"github.com/tempolabs/tempo/execution"
)

// fakeEngine is a deterministic stand-in for the EVM execution layer:
// the digest it assigns a build is a hash of the parent and extra_data,
// so two proposals over the same inputs always agree.
type fakeEngine struct {
	mu     sync.Mutex
	built  map[block.PayloadID]execution.BuiltPayload
	status execution.PayloadStatus
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{built: make(map[block.PayloadID]execution.BuiltPayload), status: execution.StatusValid}
}

func (e *fakeEngine) SendNewPayload(ctx context.Context, id block.PayloadID, attrs execution.PayloadAttributes) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := sha256.New()
	h.Write(attrs.ParentHash[:])
	h.Write(attrs.ExtraData)
	var digest block.Hash
	copy(digest[:], h.Sum(nil))
	e.built[id] = execution.BuiltPayload{
		ID:       id,
		Digest:   digest,
		Header:   block.NewBuilder(0, attrs.ParentHash).WithExtraData(attrs.ExtraData).WithDigest(digest).Finish(time.Unix(0, 0)),
		Complete: true,
	}
	return nil
}

func (e *fakeEngine) Resolve(ctx context.Context, id block.PayloadID) (execution.BuiltPayload, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.built[id], nil
}

func (e *fakeEngine) NewPayload(ctx context.Context, p execution.BuiltPayload) (execution.PayloadStatusResult, error) {
	return execution.PayloadStatusResult{Status: e.status}, nil
}

func (e *fakeEngine) ForkchoiceUpdated(ctx context.Context, state execution.ForkchoiceState, attrs *execution.PayloadAttributes) (execution.PayloadStatusResult, block.PayloadID, error) {
	return execution.PayloadStatusResult{Status: e.status}, block.PayloadID{}, nil
}

func (e *fakeEngine) Genesis(ctx context.Context) (block.Hash, error) {
	var h block.Hash
	h[0] = 0xEE
	return h, nil
}

type fakeAncestors struct {
	headers map[uint64]block.Header
}

func (f *fakeAncestors) HeaderAt(height uint64) (block.Header, bool) {
	h, ok := f.headers[height]
	return h, ok
}

type fakeOutcomes struct {
	public map[uint64]*ceremony.PublicOutcome
	dealing map[uint64]*ceremony.IntermediateOutcome
}

func (f *fakeOutcomes) GetPublicCeremonyOutcome(epochNum uint64) (*ceremony.PublicOutcome, bool) {
	out, ok := f.public[epochNum]
	return out, ok
}

func (f *fakeOutcomes) GetIntermediateDealing(epochNum uint64) (*ceremony.IntermediateOutcome, error) {
	return f.dealing[epochNum], nil
}

func testDriver(t *testing.T, engine *fakeEngine) *execution.Driver {
	t.Helper()
	d := execution.NewDriver(execution.Config{
		Engine:             engine,
		NewPayloadWaitTime: 2 * time.Millisecond,
		BuildPollInterval:  time.Millisecond,
		ValidatePace:       time.Millisecond,
	})
	t.Cleanup(d.Close)
	return d
}

func TestProposeNonBoundaryEmptyExtraData(t *testing.T) {
	sched := epoch.Config{EpochLength: 10, IntermediateOffset: 5}
	engine := newFakeEngine()
	driver := testDriver(t, engine)

	var genesisDigest block.Hash
	genesisDigest[0] = 1
	ancestors := &fakeAncestors{headers: map[uint64]block.Header{
		0: {Height: 0, Digest: genesisDigest},
	}}
	outcomes := &fakeOutcomes{public: map[uint64]*ceremony.PublicOutcome{}, dealing: map[uint64]*ceremony.IntermediateOutcome{}}

	app := consensus.New(consensus.Config{
		Schedule: sched,
		Scheme:   crypto.NewDefaultScheme(),
		Outcomes: outcomes,
		Driver:   driver,
		Genesis:  ancestors.headers[0],
	})

	h, ok, err := app.Propose(context.Background(), 0, ancestors, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), h.Height)
	require.Empty(t, h.ExtraData)
	require.Equal(t, genesisDigest, h.ParentHash)
	require.False(t, h.Digest.IsZero())
}

func TestProposeBoundaryEmbedsPublicOutcome(t *testing.T) {
	sched := epoch.Config{EpochLength: 4, IntermediateOffset: 2}
	engine := newFakeEngine()
	driver := testDriver(t, engine)
	scheme := crypto.NewDefaultScheme()

	d, err := crypto.NewFreshDealerPolynomial(scheme, 2)
	require.NoError(t, err)
	outcome := &ceremony.PublicOutcome{Epoch: 1, Participants: [][]byte{make([]byte, 32)}, Polynomial: d.Public}

	var parentDigest block.Hash
	parentDigest[0] = 2
	ancestors := &fakeAncestors{headers: map[uint64]block.Header{
		2: {Height: 2, Digest: parentDigest}, // parent at height 2; proposal lands at height 3, epoch 0's boundary
	}}
	outcomes := &fakeOutcomes{public: map[uint64]*ceremony.PublicOutcome{0: outcome}, dealing: map[uint64]*ceremony.IntermediateOutcome{}}

	app := consensus.New(consensus.Config{Schedule: sched, Scheme: scheme, Outcomes: outcomes, Driver: driver})

	h, ok, err := app.Propose(context.Background(), 0, ancestors, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), h.Height)
	require.True(t, sched.IsBoundary(h.Height))

	decoded, err := ceremony.DecodePublicOutcome(scheme, 2, h.ExtraData)
	require.NoError(t, err)
	require.True(t, outcome.Equal(decoded))
}

func TestProposeBoundaryWithoutOutcomeReturnsFalse(t *testing.T) {
	sched := epoch.Config{EpochLength: 4, IntermediateOffset: 2}
	engine := newFakeEngine()
	driver := testDriver(t, engine)

	ancestors := &fakeAncestors{headers: map[uint64]block.Header{2: {Height: 2}}}
	outcomes := &fakeOutcomes{public: map[uint64]*ceremony.PublicOutcome{}, dealing: map[uint64]*ceremony.IntermediateOutcome{}}
	app := consensus.New(consensus.Config{Schedule: sched, Scheme: crypto.NewDefaultScheme(), Outcomes: outcomes, Driver: driver})

	_, ok, err := app.Propose(context.Background(), 0, ancestors, 2)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyAcceptsProposedChain(t *testing.T) {
	sched := epoch.Config{EpochLength: 10, IntermediateOffset: 5}
	engine := newFakeEngine()
	driver := testDriver(t, engine)
	outcomes := &fakeOutcomes{public: map[uint64]*ceremony.PublicOutcome{}, dealing: map[uint64]*ceremony.IntermediateOutcome{}}
	app := consensus.New(consensus.Config{Schedule: sched, Scheme: crypto.NewDefaultScheme(), Outcomes: outcomes, Driver: driver})

	var genesisDigest block.Hash
	genesisDigest[0] = 9
	genesis := block.Header{Height: 0, Digest: genesisDigest}
	ancestors := &fakeAncestors{headers: map[uint64]block.Header{0: genesis}}

	ctx := context.Background()
	proposed, ok, err := app.Propose(ctx, 0, ancestors, 0)
	require.NoError(t, err)
	require.True(t, ok)
	ancestors.headers[1] = proposed

	accepted, err := app.Verify(ctx, 0, ancestors, 1)
	require.NoError(t, err)
	require.True(t, accepted)
}

func TestVerifyRejectsParentHashMismatch(t *testing.T) {
	sched := epoch.Config{EpochLength: 10, IntermediateOffset: 5}
	engine := newFakeEngine()
	driver := testDriver(t, engine)
	outcomes := &fakeOutcomes{public: map[uint64]*ceremony.PublicOutcome{}, dealing: map[uint64]*ceremony.IntermediateOutcome{}}
	app := consensus.New(consensus.Config{Schedule: sched, Scheme: crypto.NewDefaultScheme(), Outcomes: outcomes, Driver: driver})

	genesis := block.Header{Height: 0}
	var wrongParent block.Hash
	wrongParent[0] = 0xFF
	bad := block.Header{Height: 1, ParentHash: wrongParent, Digest: block.Hash{1}}
	ancestors := &fakeAncestors{headers: map[uint64]block.Header{0: genesis, 1: bad}}

	accepted, err := app.Verify(context.Background(), 0, ancestors, 1)
	require.NoError(t, err)
	require.False(t, accepted)
}

func TestVerifyRejectsMismatchedBoundaryOutcome(t *testing.T) {
	sched := epoch.Config{EpochLength: 4, IntermediateOffset: 2}
	engine := newFakeEngine()
	driver := testDriver(t, engine)
	scheme := crypto.NewDefaultScheme()

	local, err := crypto.NewFreshDealerPolynomial(scheme, 2)
	require.NoError(t, err)
	remote, err := crypto.NewFreshDealerPolynomial(scheme, 2)
	require.NoError(t, err)

	localOutcome := &ceremony.PublicOutcome{Epoch: 1, Participants: [][]byte{make([]byte, 32)}, Polynomial: local.Public}
	remoteOutcome := &ceremony.PublicOutcome{Epoch: 1, Participants: [][]byte{make([]byte, 32)}, Polynomial: remote.Public}
	remoteExtra, err := ceremony.EncodePublicOutcome(remoteOutcome)
	require.NoError(t, err)

	outcomes := &fakeOutcomes{public: map[uint64]*ceremony.PublicOutcome{0: localOutcome}, dealing: map[uint64]*ceremony.IntermediateOutcome{}}
	app := consensus.New(consensus.Config{Schedule: sched, Scheme: scheme, Outcomes: outcomes, Driver: driver})

	var parentDigest block.Hash
	parentDigest[0] = 2
	proposed := block.Header{Height: 3, ParentHash: parentDigest, ExtraData: remoteExtra, Digest: block.Hash{5}}
	ancestors := &fakeAncestors{headers: map[uint64]block.Header{2: {Height: 2, Digest: parentDigest}, 3: proposed}}

	require.True(t, sched.IsBoundary(3))
	accepted, err := app.Verify(context.Background(), 0, ancestors, 3)
	require.NoError(t, err)
	require.False(t, accepted, "diverging boundary polynomial must be rejected")
}
