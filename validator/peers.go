package validator

import "context"

// PeerManager registers the p2p peer set the node should dial/accept
// from, and is recomputed only at epoch boundaries (spec §5 "Resource
// policy"). It is a narrow contract over the actual p2p transport,
// which is a Non-goal here.
type PeerManager interface {
	// RegisterPeers replaces the peer set in effect for epoch with the
	// ring's current union (spec I4). Implementations are expected to
	// resolve InboundAddr/OutboundAddr into live connections/listeners
	// out of band; this call only updates the authorized set.
	RegisterPeers(ctx context.Context, epoch uint64, peers []Participant) error
}

// StaticPeerManager is a minimal in-memory PeerManager, useful for
// tests and single-process simulation (spec §8 scenario S4 replays a
// restart without a real p2p stack).
type StaticPeerManager struct {
	registered map[uint64][]Participant
}

// NewStaticPeerManager returns an empty StaticPeerManager.
func NewStaticPeerManager() *StaticPeerManager {
	return &StaticPeerManager{registered: make(map[uint64][]Participant)}
}

// RegisterPeers records peers for epoch, overwriting any prior
// registration for the same epoch.
func (m *StaticPeerManager) RegisterPeers(_ context.Context, epoch uint64, peers []Participant) error {
	cp := make([]Participant, len(peers))
	copy(cp, peers)
	m.registered[epoch] = cp
	return nil
}

// PeersAt returns the peer set last registered for epoch, if any.
func (m *StaticPeerManager) PeersAt(epoch uint64) ([]Participant, bool) {
	p, ok := m.registered[epoch]
	return p, ok
}
