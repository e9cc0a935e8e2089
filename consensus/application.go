// Package consensus implements the Application contract a BFT
// consensus engine drives: propose a block extending the tip, verify
// blocks produced by others, and embed/check the DKG artifacts at the
// correct heights (spec §4.3).
package consensus

import (
	"bytes"
	"context"
	"time"

	"github.com/tempolabs/tempo/block"
	"github.com/tempolabs/tempo/ceremony"
	"github.com/tempolabs/tempo/common/log"
	"github.com/tempolabs/tempo/crypto"
	"github.com/tempolabs/tempo/epoch"
	"github.com/tempolabs/tempo/execution"
)

// OutcomeSource is the narrow view of dkg.Manager the Application
// needs: the public outcome to embed at a boundary, and this node's
// own intermediate dealing otherwise (spec §4.3 "require PublicOutcome
// ... or attach this dealer's IntermediateOutcome").
type OutcomeSource interface {
	GetPublicCeremonyOutcome(epochNum uint64) (*ceremony.PublicOutcome, bool)
	GetIntermediateDealing(epochNum uint64) (*ceremony.IntermediateOutcome, error)
}

// Config is the fixed parameterization of an Application.
type Config struct {
	Schedule  epoch.Config
	Scheme    *crypto.Scheme
	Outcomes  OutcomeSource
	Driver    *execution.Driver
	Genesis   block.Header
	Log       log.Logger
}

// Application implements genesis/propose/verify (spec §4.3).
type Application struct {
	cfg Config
	log log.Logger
}

// New constructs an Application.
func New(cfg Config) *Application {
	return &Application{cfg: cfg, log: cfg.Log}
}

// Genesis returns the persisted genesis block.
func (a *Application) Genesis() block.Header { return a.cfg.Genesis }

// Propose produces a candidate block extending the parent read from
// parentStream, or (zero, false) on any non-fatal failure (spec §4.3
// "Returns None on any non-fatal failure").
func (a *Application) Propose(ctx context.Context, epochNum uint64, parentStream block.Ancestors, parentHeight uint64) (block.Header, bool, error) {
	parent, ok := parentStream.HeaderAt(parentHeight)
	if !ok {
		return block.Header{}, false, nil
	}

	height := parent.Height + 1
	extra, ok := a.buildExtraData(epochNum, height)
	if !ok {
		return block.Header{}, false, nil
	}

	attrs := execution.PayloadAttributes{
		Timestamp:  uint64(time.Now().Unix()),
		ParentHash: parent.Digest,
		ExtraData:  extra,
	}
	digest, err := a.cfg.Driver.Propose(ctx, parent.Digest, attrs)
	if err != nil {
		return block.Header{}, false, err // SYNCING: fatal error upward, spec §4.3 step 4
	}
	if digest.IsZero() {
		return block.Header{}, false, nil // INVALID
	}

	h := block.NewBuilder(height, parent.Digest).
		WithExtraData(extra).
		WithDigest(digest).
		Finish(time.Now())
	h.Height = height
	return h, true, nil
}

// buildExtraData computes the extra_data to embed for the block at
// height, per spec §4.3 step 2: the finalized PublicOutcome at a
// boundary, else this dealer's IntermediateOutcome if available, else
// empty.
func (a *Application) buildExtraData(epochNum, height uint64) ([]byte, bool) {
	sched := a.cfg.Schedule
	if sched.IsBoundary(height) {
		out, ok := a.cfg.Outcomes.GetPublicCeremonyOutcome(epochNum)
		if !ok {
			return nil, false
		}
		enc, err := ceremony.EncodePublicOutcome(out)
		if err != nil {
			return nil, false
		}
		return enc, true
	}

	dealing, err := a.cfg.Outcomes.GetIntermediateDealing(epochNum)
	if err != nil || dealing == nil {
		return nil, true // no intermediate present: empty extra_data is valid
	}
	enc, err := ceremony.EncodeIntermediateOutcome(dealing)
	if err != nil {
		return nil, true
	}
	return enc, true
}

// Verify checks a block against its ancestors and the execution layer,
// per spec §4.3's four conditions. ancestorStream yields the block
// itself first, then its parent, then farther ancestors.
func (a *Application) Verify(ctx context.Context, epochNum uint64, ancestorStream block.Ancestors, height uint64) (bool, error) {
	h, ok := ancestorStream.HeaderAt(height)
	if !ok {
		return false, nil
	}
	parent, ok := ancestorStream.HeaderAt(height - 1)
	if !ok {
		return false, nil
	}
	if a.cfg.Schedule.Of(h.Height) != epoch.Epoch(epochNum) {
		return false, nil
	}
	if h.ParentHash != parent.Digest {
		return false, nil
	}

	accepted, err := a.cfg.Driver.Verify(ctx, parent.Digest, execution.BuiltPayload{Digest: h.Digest, Header: h})
	if err != nil {
		return false, err
	}
	if !accepted {
		return false, nil
	}

	if a.cfg.Schedule.IsBoundary(h.Height) {
		local, ok := a.cfg.Outcomes.GetPublicCeremonyOutcome(epochNum)
		if !ok {
			return false, nil
		}
		t := local.Polynomial.Threshold()
		remote, err := ceremony.DecodePublicOutcome(a.cfg.Scheme, t, h.ExtraData)
		if err != nil {
			return false, nil // KindDecodingError at boundary is BlockInvalid, spec §7
		}
		if !remote.Equal(local) {
			return false, nil
		}
	}
	return true, nil
}

// extraDataEqual is a byte-exact helper kept for callers that only
// need to compare raw extra_data without decoding (e.g. replay tests
// checking round-trip identity, spec §8 invariant 6).
func extraDataEqual(a, b []byte) bool { return bytes.Equal(a, b) }
