// Package metrics declares Tempo's prometheus counters/gauges, grounded
// on the teacher's internal/metrics package conventions (a package-level
// registry of pre-declared collectors, registered once at process
// startup). The DKG Manager increments CeremonyFailures; EpochHeight,
// DKGState and ExecutionDriverBackfillBlocks are registered but no
// package in this module updates them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CeremonyFailures counts ceremonies that fell back to prior key
	// material for lack of quorum (spec §8 scenario S2).
	CeremonyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tempo",
		Subsystem: "dkg",
		Name:      "ceremony_failures_total",
		Help:      "Ceremonies that fell back to the previous epoch's key material.",
	})

	// EpochHeight reports the height of the most recently finalized
	// block, labeled by the epoch it belongs to.
	EpochHeight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tempo",
		Subsystem: "dkg",
		Name:      "epoch_height",
		Help:      "Height of the most recently finalized block, by epoch.",
	}, []string{"epoch"})

	// DKGState reports the active ceremony's state as a label-valued
	// gauge (1 on the current state, 0 otherwise), mirroring the
	// teacher's dkg state-machine gauge pattern.
	DKGState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tempo",
		Subsystem: "dkg",
		Name:      "state",
		Help:      "Current ceremony state (1 = active) by state name.",
	}, []string{"state"})

	// ExecutionDriverBackfillBlocks counts payloads forwarded while the
	// Execution Driver is in Backfill mode (spec §4.4 "Sync
	// semantics").
	ExecutionDriverBackfillBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tempo",
		Subsystem: "execution",
		Name:      "driver_backfill_blocks_total",
		Help:      "Payloads forwarded to newPayload while the Execution Driver is in Backfill mode.",
	})
)

// MustRegister registers all Tempo collectors against reg. Call once
// at process startup; panics on a duplicate registration, the same
// fail-fast convention the teacher's cmd entrypoints use for
// misconfiguration.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(CeremonyFailures, EpochHeight, DKGState, ExecutionDriverBackfillBlocks)
}
