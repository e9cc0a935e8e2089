// Package validator wires the core to its execution-layer validator set
// and p2p peer membership: reading the ValidatorConfig precompile at a
// given height, and maintaining the rolling peer set across epochs
// (spec §3 "Participants ring", §4.2 "Ceremony start at boundary").
package validator

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	tmerrors "github.com/tempolabs/tempo/common/errors"
	"github.com/tempolabs/tempo/common/log"
)

// Participant is one entry of the ValidatorConfig precompile's result,
// spec §6 "Precompile surface consumed": a validator's identity key,
// its dial addresses, its index within the ordered set (used for
// deterministic Lagrange recovery, spec §9), and the execution-layer
// address it is addressed by on-chain.
type Participant struct {
	PublicKey    []byte // Ed25519 public key, 32 bytes
	InboundAddr  string // host:port
	OutboundAddr string // ip:port
	// Index is this participant's position in the ordered set it came
	// from (ValidatorConfig.get_validators() returns them in order);
	// ceremony dealer/player indexing assumes dealers[i].Index == i and
	// players[i].Index == i, i.e. the precompile assigns indices
	// positionally and never reorders an existing set.
	Index        int
	EthAddress   common.Address
	// EncryptionKey is the participant's X25519 key used to seal dealt
	// shares (crypto.Seal/crypto.Open), advertised alongside the
	// identity key but never used for signing.
	EncryptionKey [32]byte
}

// Key returns a comparable identity for de-duplication in the
// Participants ring (latest-wins on pubkey collision, spec I4).
func (p Participant) Key() string { return string(p.PublicKey) }

// ConfigReader reads the validator set in effect at a specific block
// height from the execution layer's ValidatorConfig precompile. It is
// a narrow contract only — the precompile's storage layout and ABI are
// a Non-goal here.
type ConfigReader interface {
	GetValidators(ctx context.Context, height uint64) ([]Participant, error)
}

// RetryingReader wraps a ConfigReader with the 1-second backoff retry
// spec §4.2 mandates for boundary-block validator reads: "If the block
// is not yet available (race with execution), retry with 1-second
// backoff until it appears." The retry is unbounded except by ctx
// cancellation, because the chain cannot progress past an epoch
// boundary without this data (spec §5 "Cancellation and timeouts").
type RetryingReader struct {
	Inner ConfigReader
	Log   log.Logger
	// Backoff is the pause between attempts; defaults to 1s when zero.
	Backoff time.Duration
}

// GetValidators retries Inner.GetValidators until it succeeds or ctx is
// cancelled, logging a warning on every attempt past the first —
// mirroring drand's startDKGExecution retry texture.
func (r *RetryingReader) GetValidators(ctx context.Context, height uint64) ([]Participant, error) {
	backoff := r.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	attempt := 0
	for {
		attempt++
		participants, err := r.Inner.GetValidators(ctx, height)
		if err == nil {
			return participants, nil
		}
		if attempt > 1 && r.Log != nil {
			r.Log.Warnw("validator config read failed, retrying",
				"height", height, "attempt", attempt, "err", err)
		}

		select {
		case <-ctx.Done():
			return nil, tmerrors.Wrap(tmerrors.KindFatal, ctx.Err(), "validator: boundary read cancelled")
		case <-time.After(backoff):
		}
	}
}
