package validator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tempolabs/tempo/validator"
)

func participant(key byte) validator.Participant {
	return validator.Participant{PublicKey: []byte{key}, Index: int(key)}
}

func TestRingPushShiftsSlots(t *testing.T) {
	r := validator.NewRing()
	a := []validator.Participant{participant(1)}
	b := []validator.Participant{participant(2)}
	c := []validator.Participant{participant(3)}

	r.Push(a)
	r.Push(b)
	r.Push(c)

	require.Equal(t, a, r.Dealers())
	require.Equal(t, b, r.Players())
	require.Equal(t, c, r.Syncers())
}

func TestRingUnionLatestWins(t *testing.T) {
	r := validator.NewRing()
	stale := validator.Participant{PublicKey: []byte{1}, InboundAddr: "stale:1"}
	fresh := validator.Participant{PublicKey: []byte{1}, InboundAddr: "fresh:1"}
	other := participant(2)

	r.Rebuild([]validator.Participant{stale}, []validator.Participant{other}, []validator.Participant{fresh})

	union := r.Union()
	require.Len(t, union, 2)
	for _, p := range union {
		if p.Key() == fresh.Key() {
			require.Equal(t, "fresh:1", p.InboundAddr)
		}
	}
}

func TestRingSetCurrentDoesNotShift(t *testing.T) {
	r := validator.NewRing()
	r.Rebuild([]validator.Participant{participant(1)}, []validator.Participant{participant(2)}, nil)
	r.SetCurrent([]validator.Participant{participant(3)})

	require.Equal(t, []validator.Participant{participant(1)}, r.Dealers())
	require.Equal(t, []validator.Participant{participant(2)}, r.Players())
	require.Equal(t, []validator.Participant{participant(3)}, r.Syncers())
}

func TestStaticPeerManagerRegisterAndLookup(t *testing.T) {
	m := validator.NewStaticPeerManager()
	peers := []validator.Participant{participant(1), participant(2)}

	err := m.RegisterPeers(context.Background(), 5, peers)
	require.NoError(t, err)

	got, ok := m.PeersAt(5)
	require.True(t, ok)
	require.Equal(t, peers, got)

	_, ok = m.PeersAt(6)
	require.False(t, ok)
}

type flakyReader struct {
	failures int
	calls    int
}

func (f *flakyReader) GetValidators(ctx context.Context, height uint64) ([]validator.Participant, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("not yet available")
	}
	return []validator.Participant{participant(1)}, nil
}

func TestRetryingReaderRetriesUntilSuccess(t *testing.T) {
	inner := &flakyReader{failures: 2}
	r := &validator.RetryingReader{Inner: inner, Backoff: time.Millisecond}

	got, err := r.GetValidators(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 3, inner.calls)
}

func TestRetryingReaderRespectsCancellation(t *testing.T) {
	inner := &flakyReader{failures: 1000}
	r := &validator.RetryingReader{Inner: inner, Backoff: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	_, err := r.GetValidators(ctx, 100)
	require.Error(t, err)
}
