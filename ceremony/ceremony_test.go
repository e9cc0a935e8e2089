package ceremony_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tempolabs/tempo/ceremony"
	"github.com/tempolabs/tempo/crypto"
	"github.com/tempolabs/tempo/validator"
)

// memStore is a trivial in-memory PersistentStore, standing in for the
// bbolt-backed one in store.go for state-machine tests.
type memStore struct {
	snaps map[uint64]*ceremony.Snapshot
}

func newMemStore() *memStore { return &memStore{snaps: make(map[uint64]*ceremony.Snapshot)} }

func (m *memStore) Load(epoch uint64) (*ceremony.Snapshot, bool, error) {
	s, ok := m.snaps[epoch]
	return s, ok, nil
}

func (m *memStore) Save(epoch uint64, snap *ceremony.Snapshot) error {
	m.snaps[epoch] = snap
	return nil
}

func (m *memStore) Prune(epoch uint64) error {
	delete(m.snaps, epoch)
	return nil
}

func newParticipant(t *testing.T, index int) (validator.Participant, *crypto.KeyPair, *crypto.EncryptionKeyPair) {
	t.Helper()
	kp, err := crypto.NewKeyPair()
	require.NoError(t, err)
	ekp, err := crypto.NewEncryptionKeyPair()
	require.NoError(t, err)
	p := validator.Participant{PublicKey: kp.Public, Index: index, EncryptionKey: ekp.Public}
	return p, kp, ekp
}

func TestSingleNodeCeremonyFinalizesSuccessfully(t *testing.T) {
	scheme := crypto.NewDefaultScheme()
	p, kp, ekp := newParticipant(t, 0)

	// A single dealer/player acting as both, resharing its own previous
	// share — degenerate but exercises the full dealing/ack/finalize path
	// without needing a multi-process simulation.
	prevDealing, err := crypto.NewFreshDealerPolynomial(scheme, 1)
	require.NoError(t, err)
	prevShare := prevDealing.ShareFor(0)

	mux := ceremony.NewChannelMux(nil)
	var self [32]byte
	copy(self[:], p.PublicKey)
	ceremony.ConnectChannelMuxes(map[[32]byte]*ceremony.ChannelMux{self: mux})

	cfg := ceremony.Config{
		Scheme:         scheme,
		Epoch:          1,
		Dealers:        []validator.Participant{p},
		Players:        []validator.Participant{p},
		Self:           kp,
		SelfEncryption: ekp,
		PreviousShare:  prevShare,
		PreviousPublic: prevDealing.Public,
		Threshold:      1,
	}

	c, err := ceremony.New(cfg, newMemStore(), mux, nil)
	require.NoError(t, err)
	require.Equal(t, ceremony.RoleDealer|ceremony.RolePlayer, c.Role())
	require.Equal(t, ceremony.StateGathering, c.State())

	ctx := context.Background()
	require.NoError(t, c.DistributeShares(ctx))
	require.NoError(t, c.ProcessMessages(ctx)) // drains the self-addressed share, sends an ack, then drains that ack
	require.NoError(t, c.ProcessMessages(ctx)) // both channels already empty: no-op
	require.Equal(t, ceremony.StateAcked, c.State())

	require.NoError(t, c.ConstructIntermediateOutcome())
	require.NotNil(t, c.DealOutcome())

	out, err := c.Finalize()
	require.NoError(t, err)
	require.True(t, out.Success)
	require.NotNil(t, out.Share)
	require.NotNil(t, out.Public)
	require.Equal(t, ceremony.StateSuccess, c.State())

	// Finalize is idempotent on a terminal ceremony.
	again, err := c.Finalize()
	require.NoError(t, err)
	require.Same(t, out, again)
}

func TestCeremonyFallsBackWhenQuorumMissing(t *testing.T) {
	scheme := crypto.NewDefaultScheme()
	dealer, kpD, ekpD := newParticipant(t, 0)
	player, _, _ := newParticipant(t, 0) // distinct player identity, never acks

	prevDealing, err := crypto.NewFreshDealerPolynomial(scheme, 2)
	require.NoError(t, err)
	prevShare := prevDealing.ShareFor(0)

	mux := ceremony.NewChannelMux(nil)
	var self [32]byte
	copy(self[:], dealer.PublicKey)
	ceremony.ConnectChannelMuxes(map[[32]byte]*ceremony.ChannelMux{self: mux})

	cfg := ceremony.Config{
		Scheme:         scheme,
		Epoch:          1,
		Dealers:        []validator.Participant{dealer},
		Players:        []validator.Participant{player}, // dealer never receives its own ack
		Self:           kpD,
		SelfEncryption: ekpD,
		PreviousShare:  prevShare,
		PreviousPublic: prevDealing.Public,
		Threshold:      2,
	}

	c, err := ceremony.New(cfg, newMemStore(), mux, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.DistributeShares(ctx))
	require.NoError(t, c.ProcessMessages(ctx))

	out, err := c.Finalize()
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, prevDealing.Public, out.Public)
	require.Equal(t, prevShare, out.Share)
	require.Equal(t, ceremony.StateFailure, c.State())
}

func TestPublicOutcomeCodecRoundTrip(t *testing.T) {
	scheme := crypto.NewDefaultScheme()
	d, err := crypto.NewFreshDealerPolynomial(scheme, 3)
	require.NoError(t, err)

	out := &ceremony.PublicOutcome{
		Epoch:        7,
		Participants: [][]byte{make([]byte, 32), make([]byte, 32)},
		Polynomial:   d.Public,
	}
	out.Participants[0][0] = 1
	out.Participants[1][0] = 2

	encoded, err := ceremony.EncodePublicOutcome(out)
	require.NoError(t, err)

	decoded, err := ceremony.DecodePublicOutcome(scheme, 3, encoded)
	require.NoError(t, err)
	require.True(t, out.Equal(decoded))
}

func TestIntermediateOutcomeCodecRoundTrip(t *testing.T) {
	scheme := crypto.NewDefaultScheme()
	d, err := crypto.NewFreshDealerPolynomial(scheme, 2)
	require.NoError(t, err)

	kp, err := crypto.NewKeyPair()
	require.NoError(t, err)

	out := &ceremony.IntermediateOutcome{
		Epoch:      3,
		Commitment: d.Public,
		Acks: []ceremony.Ack{
			{PlayerPubKey: [32]byte{1}, Signature: [64]byte{2}},
		},
	}
	copy(out.DealerPubKey[:], kp.Public)
	sig := kp.Sign([]byte("dealer commitment digest"))
	copy(out.DealerSignature[:], sig)

	encoded, err := ceremony.EncodeIntermediateOutcome(out)
	require.NoError(t, err)

	decoded, err := ceremony.DecodeIntermediateOutcome(scheme, 2, encoded)
	require.NoError(t, err)
	require.Equal(t, out.Epoch, decoded.Epoch)
	require.Equal(t, out.DealerPubKey, decoded.DealerPubKey)
	require.Equal(t, out.Acks, decoded.Acks)
	require.True(t, out.Commitment.Equal(decoded.Commitment))
}

func TestResolveRoleAndIndexOf(t *testing.T) {
	dealers := [][]byte{{1}, {2}}
	players := [][]byte{{2}, {3}}

	require.Equal(t, ceremony.RoleDealer, ceremony.ResolveRole([]byte{1}, dealers, players, true))
	require.Equal(t, ceremony.RoleObserver, ceremony.ResolveRole([]byte{1}, dealers, players, false))
	require.Equal(t, ceremony.RoleDealer|ceremony.RolePlayer, ceremony.ResolveRole([]byte{2}, dealers, players, true))
	require.Equal(t, ceremony.RoleObserver, ceremony.ResolveRole([]byte{9}, dealers, players, true))

	require.Equal(t, 1, ceremony.IndexOf(dealers, []byte{2}))
	require.Equal(t, -1, ceremony.IndexOf(dealers, []byte{9}))
}
