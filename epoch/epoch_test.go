package epoch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tempolabs/tempo/epoch"
)

func testConfig() epoch.Config {
	return epoch.Config{EpochLength: 100, IntermediateOffset: 50}
}

func TestOfAndFirstLastHeight(t *testing.T) {
	c := testConfig()
	require.Equal(t, epoch.Epoch(0), c.Of(0))
	require.Equal(t, epoch.Epoch(0), c.Of(99))
	require.Equal(t, epoch.Epoch(1), c.Of(100))
	require.Equal(t, uint64(0), c.FirstHeight(0))
	require.Equal(t, uint64(99), c.LastHeight(0))
	require.Equal(t, uint64(100), c.FirstHeight(1))
	require.Equal(t, uint64(199), c.LastHeight(1))
}

func TestIsBoundary(t *testing.T) {
	c := testConfig()
	require.True(t, c.IsBoundary(99))
	require.True(t, c.IsBoundary(199))
	require.False(t, c.IsBoundary(98))
	require.False(t, c.IsBoundary(0))
}

func TestIsIntermediate(t *testing.T) {
	c := testConfig()
	require.True(t, c.IsIntermediate(50))
	require.True(t, c.IsIntermediate(150))
	require.False(t, c.IsIntermediate(49))
	require.False(t, c.IsIntermediate(51))
}

func TestHeightsRemaining(t *testing.T) {
	c := testConfig()
	require.Equal(t, uint64(1), c.HeightsRemaining(99))
	require.Equal(t, uint64(100), c.HeightsRemaining(0))
	require.Equal(t, uint64(2), c.HeightsRemaining(98))
}

func TestThreshold(t *testing.T) {
	require.Equal(t, 0, epoch.Threshold(0))
	require.Equal(t, 2, epoch.Threshold(1))
	require.Equal(t, 3, epoch.Threshold(3))
	require.Equal(t, 4, epoch.Threshold(4))
	require.Equal(t, 5, epoch.Threshold(6))
}

func TestConfigValidation(t *testing.T) {
	require.Panics(t, func() { epoch.Config{EpochLength: 2, IntermediateOffset: 1}.MustValidate() })
	require.Panics(t, func() { epoch.Config{EpochLength: 10, IntermediateOffset: 0}.MustValidate() })
	require.NotPanics(t, func() { epoch.Config{EpochLength: 10, IntermediateOffset: 5}.MustValidate() })
}
