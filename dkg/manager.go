package dkg

import (
	"context"
	"fmt"

	"github.com/tempolabs/tempo/block"
	"github.com/tempolabs/tempo/ceremony"
	"github.com/tempolabs/tempo/common/log"
	"github.com/tempolabs/tempo/crypto"
	"github.com/tempolabs/tempo/epoch"
	"github.com/tempolabs/tempo/metrics"
	"github.com/tempolabs/tempo/validator"
)

// Config is the fixed parameterization of a Manager: the epoch
// Schedule, the validator ConfigReader, the PeerManager and
// EpochManager collaborators, the ceremony and EpochState stores, a
// per-epoch Mux factory, and this node's own key pairs.
type Config struct {
	Schedule       epoch.Config
	Scheme         *crypto.Scheme
	Validators     validator.ConfigReader // wrap with validator.RetryingReader for the boundary-read retry loop
	Peers          validator.PeerManager
	Epochs         EpochManager
	Ceremonies     ceremony.PersistentStore
	States         *EpochStateStore
	MuxFor         func(epoch uint64) ceremony.Mux
	Self           *crypto.KeyPair
	SelfEncryption *crypto.EncryptionKeyPair
	Log            log.Logger
}

// Manager runs one Ceremony per epoch, synchronized to block-height
// landmarks, and serves the Consensus Application's queries for
// outcomes to embed (spec §4.2). It is never a goroutine: Finalize is
// called synchronously by whatever drives consensus (spec §4.2
// "finalize(block) ... Drives the state machine").
//
// Ceremony tagging: a Ceremony whose Config.Epoch == k runs during
// epoch k's blocks (started at the boundary of epoch k-1, or at
// genesis for k == 0) and produces PublicOutcome(k+1), finalized at
// epoch k's pre-boundary and embedded at epoch k's boundary. This is
// the Manager's resolution of the table's "start new Ceremony for
// epoch e+1" at a boundary of epoch e: the started ceremony is tagged
// e+1 because it runs throughout epoch e+1's blocks.
type Manager struct {
	cfg  Config
	ring *validator.Ring
	log  log.Logger

	active         *ceremony.Ceremony
	activeEpochNum uint64

	currentSet []validator.Participant // validators active this epoch (ceremony dealers)
	state      *EpochState             // most recently resolved key material

	publicByE map[uint64]*ceremony.PublicOutcome
}

// NewManager constructs a Manager, restoring EpochState if one was
// previously persisted. It does not itself start or resume a Ceremony;
// call Bootstrap once at process startup (for a non-genesis restart)
// before feeding it blocks.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		cfg:       cfg,
		ring:      validator.NewRing(),
		log:       cfg.Log,
		publicByE: make(map[uint64]*ceremony.PublicOutcome),
	}
	state, ok, err := cfg.States.Load()
	if err != nil {
		return nil, fmt.Errorf("dkg: load epoch state: %w", err)
	}
	if ok {
		m.state = state
	}
	return m, nil
}

// Bootstrap re-establishes in-memory state after a restart (spec §4.2
// "Persistence... re-initialize the Participants ring by reading
// validator sets at the boundaries of e-2 and e-1; the set for e is
// re-read when the Manager starts a new ceremony"). Call once after
// NewManager, before Finalize is fed any block, when resuming a chain
// already past genesis.
func (m *Manager) Bootstrap(ctx context.Context, currentEpoch uint64) error {
	if currentEpoch == 0 {
		return nil // genesis path handles epoch 0 itself
	}
	var twoAgo []validator.Participant
	var err error
	if currentEpoch >= 2 {
		twoAgo, err = m.cfg.Validators.GetValidators(ctx, m.cfg.Schedule.LastHeight(epoch.Epoch(currentEpoch-2)))
		if err != nil {
			return fmt.Errorf("dkg: bootstrap read epoch-2 validators: %w", err)
		}
	}
	oneAgo, err := m.cfg.Validators.GetValidators(ctx, m.cfg.Schedule.LastHeight(epoch.Epoch(currentEpoch-1)))
	if err != nil {
		return fmt.Errorf("dkg: bootstrap read epoch-1 validators: %w", err)
	}
	m.ring.Rebuild(twoAgo, oneAgo, nil)
	m.currentSet = oneAgo
	return nil
}

// GetIntermediateDealing returns the local dealer outcome for epoch if
// this node is a dealer and it has been constructed; else (nil, nil).
// Returns an error if the running ceremony is for a different epoch
// (spec §4.2).
func (m *Manager) GetIntermediateDealing(epochNum uint64) (*ceremony.IntermediateOutcome, error) {
	if m.active == nil {
		return nil, nil
	}
	if m.activeEpochNum != epochNum {
		return nil, fmt.Errorf("dkg: get_intermediate_dealing: running ceremony is for epoch %d, not %d", m.activeEpochNum, epochNum)
	}
	return m.active.DealOutcome(), nil
}

// GetPublicCeremonyOutcome returns the finalized PublicOutcome of epoch
// if resolved, else (nil, false) (spec §4.2).
func (m *Manager) GetPublicCeremonyOutcome(epochNum uint64) (*ceremony.PublicOutcome, bool) {
	out, ok := m.publicByE[epochNum]
	return out, ok
}

// Finalize reports that block h was finalized by consensus, driving
// the state machine per spec §4.2's height-condition table. h.Height
// is absolute; e = h/E, pos = h mod E, mid = Schedule.IntermediateOffset
// (E/2 in epoch.DefaultConfig).
func (m *Manager) Finalize(ctx context.Context, h block.Header) error {
	if h.Height == 0 {
		return m.genesis(ctx, h)
	}

	sched := m.cfg.Schedule
	e := uint64(sched.Of(h.Height))
	pos := h.Height - sched.FirstHeight(sched.Of(h.Height))
	mid := sched.IntermediateOffset

	switch {
	case pos == 0:
		if err := m.cfg.Epochs.Exit(ctx, e-1); err != nil && m.log != nil {
			m.log.Warnw("dkg: epoch manager Exit failed", "epoch", e-1, "err", err)
		}
	case pos < mid:
		if m.active != nil {
			if m.active.Role().Has(ceremony.RoleDealer) {
				if err := m.active.DistributeShares(ctx); err != nil && m.log != nil {
					m.log.Warnw("dkg: distribute_shares failed", "epoch", e, "err", err)
				}
			}
			if err := m.active.ProcessMessages(ctx); err != nil && m.log != nil {
				m.log.Warnw("dkg: process_messages failed", "epoch", e, "err", err)
			}
		}
	case pos == mid:
		if m.active != nil {
			if err := m.active.ProcessMessages(ctx); err != nil && m.log != nil {
				m.log.Warnw("dkg: process_messages failed", "epoch", e, "err", err)
			}
			if err := m.active.ConstructIntermediateOutcome(); err != nil && m.log != nil {
				m.log.Warnw("dkg: construct_intermediate_outcome failed", "epoch", e, "err", err)
			}
		}
	case pos < sched.EpochLength-2:
		if m.active != nil {
			m.active.ProcessDealingsInBlock(h.ExtraData)
		}
	case pos == sched.EpochLength-2:
		if err := m.finalizeCeremony(e); err != nil && m.log != nil {
			m.log.Warnw("dkg: finalize ceremony failed", "epoch", e, "err", err)
		}
	case pos == sched.EpochLength-1:
		if err := m.startNextCeremony(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// genesis implements the h==0 row: read PublicOutcome from genesis
// extra_data if present, initialize EpochState for epoch 0, and start
// the ceremony that will run throughout epoch 0 and produce
// PublicOutcome(1).
func (m *Manager) genesis(ctx context.Context, h block.Header) error {
	validators, err := m.cfg.Validators.GetValidators(ctx, 0)
	if err != nil {
		return fmt.Errorf("dkg: genesis validator read: %w", err)
	}
	m.currentSet = validators
	m.ring.Rebuild(nil, nil, validators)
	if err := m.cfg.Peers.RegisterPeers(ctx, 0, m.ring.Union()); err != nil && m.log != nil {
		m.log.Warnw("dkg: register genesis peers failed", "err", err)
	}

	t := epoch.Threshold(len(validators))
	if len(h.ExtraData) > 0 {
		if out, err := ceremony.DecodePublicOutcome(m.cfg.Scheme, t, h.ExtraData); err == nil {
			m.publicByE[0] = out
			m.state = &EpochState{Epoch: 0, Participants: out.Participants, Public: out.Polynomial}
			if err := m.cfg.States.Save(m.state); err != nil {
				return fmt.Errorf("dkg: persist genesis epoch state: %w", err)
			}
		} else if m.log != nil {
			m.log.Warnw("dkg: genesis extra_data did not decode as a PublicOutcome", "err", err)
		}
	}

	c, err := ceremony.New(ceremony.Config{
		Scheme:         m.cfg.Scheme,
		Epoch:          0,
		Dealers:        validators,
		Players:        validators,
		Self:           m.cfg.Self,
		SelfEncryption: m.cfg.SelfEncryption,
		Threshold:      t,
	}, m.cfg.Ceremonies, m.cfg.MuxFor(0), m.log)
	if err != nil {
		return fmt.Errorf("dkg: start genesis ceremony: %w", err)
	}
	m.active = c
	m.activeEpochNum = 0
	return nil
}

// finalizeCeremony implements the pos==E-2 row: finalize the active
// ceremony (tagged epoch e, producing PublicOutcome(e+1)), persist the
// resulting EpochState, and prune the ceremony snapshot two epochs
// behind (spec §4.2, §5 "Resource policy").
func (m *Manager) finalizeCeremony(e uint64) error {
	if m.active == nil {
		return nil
	}
	out, err := m.active.Finalize()
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	next := e + 1
	state := &EpochState{Epoch: next, Participants: out.Participants, Public: out.Public, Share: out.Share}
	if err := m.cfg.States.Save(state); err != nil {
		return fmt.Errorf("persist epoch state %d: %w", next, err)
	}
	m.state = state
	if out.Success {
		m.publicByE[next] = &ceremony.PublicOutcome{Epoch: next, Participants: out.Participants, Polynomial: out.Public}
	} else {
		metrics.CeremonyFailures.Inc()
	}
	if e >= 2 {
		if err := m.cfg.Ceremonies.Prune(e - 2); err != nil && m.log != nil {
			m.log.Warnw("dkg: prune ceremony failed", "epoch", e-2, "err", err)
		}
	}
	return nil
}

// startNextCeremony implements the pos==E-1 (boundary) row: read the
// validator set effective at this boundary, push it into the
// Participants ring, register the ring's union as the peer set, report
// Enter(e+1), and start the ceremony tagged epoch e+1 that will
// produce PublicOutcome(e+2).
func (m *Manager) startNextCeremony(ctx context.Context, e uint64) error {
	newSet, err := retryValidators(ctx, m.cfg.Validators, m.cfg.Schedule.LastHeight(epoch.Epoch(e)), m.log)
	if err != nil {
		return fmt.Errorf("dkg: boundary validator read: %w", err)
	}
	m.ring.Push(newSet)
	if err := m.cfg.Peers.RegisterPeers(ctx, e+1, m.ring.Union()); err != nil && m.log != nil {
		m.log.Warnw("dkg: register peers failed", "epoch", e+1, "err", err)
	}

	dealers := m.currentSet
	players := newSet
	m.currentSet = newSet

	// Enter is reported before the next ceremony starts, per spec §9's
	// Open Questions resolution: "gate Enter(e+1) before
	// start_new_ceremony_for(e+1) to avoid the epoch manager receiving
	// work for a not-yet-known polynomial."
	if err := m.cfg.Epochs.Enter(ctx, e+1); err != nil && m.log != nil {
		m.log.Warnw("dkg: epoch manager Enter failed", "epoch", e+1, "err", err)
	}

	cfg := ceremony.Config{
		Scheme:         m.cfg.Scheme,
		Epoch:          e + 1,
		Dealers:        dealers,
		Players:        players,
		Self:           m.cfg.Self,
		SelfEncryption: m.cfg.SelfEncryption,
		Threshold:      epoch.Threshold(len(players)),
	}
	if m.state != nil && m.state.Share != nil {
		cfg.PreviousShare = m.state.Share
		cfg.PreviousPublic = m.state.Public
	}
	c, err := ceremony.New(cfg, m.cfg.Ceremonies, m.cfg.MuxFor(e+1), m.log)
	if err != nil {
		return fmt.Errorf("dkg: start ceremony for epoch %d: %w", e+1, err)
	}
	m.active = c
	m.activeEpochNum = e + 1
	return nil
}

// retryValidators wraps r in a RetryingReader if it isn't already one,
// so a caller that already constructed Config.Validators with custom
// backoff settings is not double-wrapped.
func retryValidators(ctx context.Context, r validator.ConfigReader, height uint64, logger log.Logger) ([]validator.Participant, error) {
	rr, ok := r.(*validator.RetryingReader)
	if !ok {
		rr = &validator.RetryingReader{Inner: r, Log: logger}
	}
	return rr.GetValidators(ctx, height)
}
