package ceremony

import (
	"context"

	"github.com/tempolabs/tempo/common/log"
)

// Deal is a dealer's per-player encrypted share, exchanged over the
// SHARES mux channel (spec §3.1 "Deal"). It is never persisted
// on-chain; only the resulting Ack (and, for non-acking players, a
// Reveal) makes it into extra_data.
type Deal struct {
	DealerIndex    int
	PlayerIndex    int
	EncryptedShare []byte
}

// AckMessage is the in-memory, routable form of an Ack: it carries the
// dealer identity and commitment hash the signature is bound to, so a
// dealer receiving it on the ACKS channel knows which of its own
// commitments it acknowledges (spec §4.1 "Acks are signed over (epoch,
// dealer, player, share_commitment)"). The on-chain ceremony.Ack
// (outcome.go) omits the dealer/commitment fields because they are
// already implied by the enclosing IntermediateOutcome.
type AckMessage struct {
	Epoch          uint64
	DealerPubKey   [32]byte
	PlayerPubKey   [32]byte
	CommitmentHash [32]byte
	Signature      [64]byte
}
// Ack converts the routable message into the on-chain wire shape.
func (m AckMessage) Ack() Ack {
	return Ack{PlayerPubKey: m.PlayerPubKey, Signature: m.Signature}
}

// Mux is the p2p channel contract a Ceremony uses to distribute shares
// and collect acks (spec §4.1 "send an encrypted share over channel
// SHARES"; §5 "Resource policy" — bounded with per-channel
// backpressure, drop-on-overflow). The actual p2p transport is a
// Non-goal; this is the narrow surface the core depends on.
type Mux interface {
	SendShare(ctx context.Context, to [32]byte, d Deal) error
	Shares() <-chan Deal
	SendAck(ctx context.Context, to [32]byte, a AckMessage) error
	Acks() <-chan AckMessage
}

// ChannelMux is an in-process Mux backed by bounded Go channels,
// suitable for single-process simulation and tests (spec §8 scenarios)
// and as the shape a real p2p-backed Mux should present. Sends never
// block the caller: a full channel drops the message and logs a
// warning, mirroring drand's GrpcNetwork.Send fan-out-with-error-channel
// pattern generalized to local delivery (internal/dkg/network.go in the
// teacher).
type ChannelMux struct {
	log    log.Logger
	shares chan Deal
	acks   chan AckMessage
	// peers routes a send by recipient pubkey to its local inbound
	// channel, modeling per-peer delivery without a real transport.
	peers map[[32]byte]*ChannelMux
}

// DefaultMuxBuffer is the bounded channel depth; large enough to absorb
// a full epoch's worth of dealer fan-out without blocking in the
// common case, small enough that an unresponsive peer's backlog is
// bounded (spec §5 "bounded with per-channel backpressure").
const DefaultMuxBuffer = 256

// NewChannelMux creates a ChannelMux for one participant. Use
// ConnectChannelMuxes to wire a simulated peer set together.
func NewChannelMux(logger log.Logger) *ChannelMux {
	return &ChannelMux{
		log:    logger,
		shares: make(chan Deal, DefaultMuxBuffer),
		acks:   make(chan AckMessage, DefaultMuxBuffer),
	}
}

// ConnectChannelMuxes wires a set of per-participant muxes so that
// SendShare/SendAck addressed to a pubkey in the set is delivered to
// that participant's inbound channels.
func ConnectChannelMuxes(byPubKey map[[32]byte]*ChannelMux) {
	for _, m := range byPubKey {
		m.peers = byPubKey
	}
}

func (m *ChannelMux) SendShare(ctx context.Context, to [32]byte, d Deal) error {
	target, ok := m.peers[to]
	if !ok {
		return nil // unknown peer: silently dropped, like an unreachable address
	}
	select {
	case target.shares <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if m.log != nil {
			m.log.Warnw("mux: SHARES channel full, dropping deal",
				"dealer_index", d.DealerIndex, "player_index", d.PlayerIndex)
		}
		return nil
	}
}

func (m *ChannelMux) SendAck(ctx context.Context, to [32]byte, a AckMessage) error {
	target, ok := m.peers[to]
	if !ok {
		return nil
	}
	select {
	case target.acks <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if m.log != nil {
			m.log.Warnw("mux: ACKS channel full, dropping ack",
				"player", a.PlayerPubKey, "dealer", a.DealerPubKey)
		}
		return nil
	}
}

func (m *ChannelMux) Shares() <-chan Deal     { return m.shares }
func (m *ChannelMux) Acks() <-chan AckMessage { return m.acks }
