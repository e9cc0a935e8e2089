// Package epoch computes the height<->epoch mapping and the ceremony
// scheduling offsets that drive when a new validator/key ceremony
// starts, goes intermediate, and finalizes, per spec §3/§4.1.
package epoch

import "fmt"

// Epoch indexes a validator-set/key generation; it increments once per
// EpochLength blocks (genesis is epoch 0).
type Epoch uint64

// Config holds the fixed scheduling constants that determine ceremony
// timing within an epoch. These come from genesis configuration, not
// from any precompile — the Validator Set precompile only reports the
// participant list for a given epoch (spec §4's ValidatorConfig
// contract), not the schedule itself.
type Config struct {
	// EpochLength is the number of blocks per epoch. Must be >= 3 so
	// there is room for a boundary block, at least one intermediate
	// block, and a gathering window.
	EpochLength uint64
	// IntermediateOffset is the block height, relative to an epoch's
	// first height, at which the DKG Manager has dealers construct their
	// IntermediateOutcome once that block is finalized; blocks after it
	// carry the outcome in extra_data.
	IntermediateOffset uint64
}

// DefaultConfig matches the example cadence used throughout spec §8's
// scenarios: a 100-block epoch with the intermediate checkpoint at the
// halfway point.
func DefaultConfig() Config {
	return Config{EpochLength: 100, IntermediateOffset: 50}
}

func (c Config) validate() error {
	if c.EpochLength < 3 {
		return fmt.Errorf("epoch: EpochLength must be >= 3, got %d", c.EpochLength)
	}
	if c.IntermediateOffset == 0 || c.IntermediateOffset >= c.EpochLength {
		return fmt.Errorf("epoch: IntermediateOffset must be in (0, %d), got %d", c.EpochLength, c.IntermediateOffset)
	}
	return nil
}

// MustValidate panics on a malformed Config; intended for use at
// process startup right after flags/TOML are parsed, mirroring the
// fail-fast config validation the teacher's cmd entrypoints perform.
func (c Config) MustValidate() Config {
	if err := c.validate(); err != nil {
		panic(err)
	}
	return c
}

// Of returns the epoch a given block height belongs to. Height 0 (and
// every height up to EpochLength-1) belongs to epoch 0.
func (c Config) Of(height uint64) Epoch {
	return Epoch(height / c.EpochLength)
}

// FirstHeight returns the first block height belonging to e.
func (c Config) FirstHeight(e Epoch) uint64 {
	return uint64(e) * c.EpochLength
}

// LastHeight returns the last block height belonging to e, i.e. the
// boundary block at which e+1's PublicOutcome must already be final.
func (c Config) LastHeight(e Epoch) uint64 {
	return c.FirstHeight(e) + c.EpochLength - 1
}

// IsBoundary reports whether height is the last height of its epoch —
// the block whose extra_data must carry the finalized PublicOutcome for
// the next epoch (spec §3 "epoch boundary").
func (c Config) IsBoundary(height uint64) bool {
	return height == c.LastHeight(c.Of(height))
}

// IntermediateHeight returns the height, within epoch e, at which the
// ceremony preparing epoch e+1 constructs its IntermediateOutcome.
func (c Config) IntermediateHeight(e Epoch) uint64 {
	return c.FirstHeight(e) + c.IntermediateOffset
}

// IsIntermediate reports whether height is the scheduled intermediate
// checkpoint of its epoch.
func (c Config) IsIntermediate(height uint64) bool {
	return height == c.IntermediateHeight(c.Of(height))
}

// HeightsRemaining returns how many blocks remain in e after height,
// including height itself (so HeightsRemaining at LastHeight is 1).
func (c Config) HeightsRemaining(height uint64) uint64 {
	return c.LastHeight(c.Of(height)) - height + 1
}

// Threshold computes t = ceil(2n/3) + 1, the minimum number of
// participants whose dealings/acks/shares are required for a ceremony
// to succeed (spec §3 invariants, BFT quorum size for n participants
// tolerating f = floor((n-1)/3) faults).
func Threshold(n int) int {
	if n <= 0 {
		return 0
	}
	return (2*n+2)/3 + 1
}
