package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tempolabs/tempo/metrics"
)

func TestMustRegisterAgainstFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { metrics.MustRegister(reg) })

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	// Gather only reports collectors with observed samples; the gauge
	// vectors have none until a label is set, so only the bare counters
	// are guaranteed to show up unconditionally.
	require.True(t, names["tempo_dkg_ceremony_failures_total"])
	require.True(t, names["tempo_execution_driver_backfill_blocks_total"])
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	require.Panics(t, func() { metrics.MustRegister(reg) })
}

func TestEpochHeightAndDKGStateAreUsable(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	metrics.EpochHeight.WithLabelValues("3").Set(42)
	metrics.DKGState.WithLabelValues("StateSuccess").Set(1)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	require.True(t, found["tempo_dkg_epoch_height"])
	require.True(t, found["tempo_dkg_state"])
}
