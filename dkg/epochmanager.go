package dkg

import "context"

// EpochManager is the external collaborator the Manager reports epoch
// transitions to (spec §4.2 "Enter(e+1) must be reported to the
// EpochManager before start_new_ceremony_for(e+1) may begin, and Exit(e)
// after the epoch's final ceremony resolves"). Tempo does not prescribe
// what lives on the other side of this interface — validator-set
// activation, slashing windows, reward accounting are all plausible
// consumers and all out of scope here.
type EpochManager interface {
	// Enter is called at the boundary block of the preceding epoch (its
	// last height), before the Manager starts the ceremony tagged epoch.
	// It is not called for epoch 0.
	Enter(ctx context.Context, epoch uint64) error
	// Exit is called once epoch's ceremony has reached a terminal state
	// (success or fallback) and its EpochState has been persisted.
	Exit(ctx context.Context, epoch uint64) error
}

// NopEpochManager is a no-op EpochManager for deployments with no
// external epoch-transition consumer.
type NopEpochManager struct{}

func (NopEpochManager) Enter(ctx context.Context, epoch uint64) error { return nil }
func (NopEpochManager) Exit(ctx context.Context, epoch uint64) error  { return nil }
