// Package ceremony runs one resharing DKG instance — dealing shares,
// collecting acks, producing an intermediate commitment, and finalizing
// a public polynomial and private share — plus the on-chain wire
// encoding of its outcomes (spec §4.1, §6).
package ceremony

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/drand/kyber"

	"github.com/tempolabs/tempo/crypto"
)

// PublicOutcome is the finalized, boundary-block artifact of an epoch's
// ceremony: the participant set and the threshold public polynomial
// that fully determines the group public key and per-participant
// verification keys (spec §3 "PublicOutcome").
type PublicOutcome struct {
	Epoch        uint64
	Participants [][]byte // ordered Ed25519 public keys, 32 bytes each
	Polynomial   *crypto.Polynomial
}

// Equal compares two PublicOutcomes field-by-field, the check
// Application.verify runs at a boundary block (spec §4.3).
func (o *PublicOutcome) Equal(other *PublicOutcome) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.Epoch != other.Epoch || len(o.Participants) != len(other.Participants) {
		return false
	}
	for i := range o.Participants {
		if !bytes.Equal(o.Participants[i], other.Participants[i]) {
			return false
		}
	}
	return o.Polynomial.Equal(other.Polynomial)
}

// Ack is a player's signed acknowledgement of a dealt share, binding
// dealer, player, and round per spec §4.1 "Acks are signed over
// (epoch, dealer, player, share_commitment)".
type Ack struct {
	PlayerPubKey [32]byte
	Signature    [64]byte
}

// Reveal discloses a non-acking player's share so that
// construct_intermediate_outcome can still reach quorum without that
// player's cooperation (spec §3.1 "Reveal", Feldman-VSS complaint
// resolution).
type Reveal struct {
	PlayerIndex int
	Share       []byte // marshaled kyber.Scalar, fixed RevealShareLen bytes
}

// RevealShareLen is the fixed marshaled size of a BLS12-381 scalar.
const RevealShareLen = 32

// IntermediateOutcome is a dealer's contribution, published in any
// block it proposes during an epoch's second half (spec §3
// "IntermediateOutcome").
type IntermediateOutcome struct {
	DealerPubKey    [32]byte
	DealerSignature [64]byte
	Epoch           uint64
	Commitment      *crypto.Polynomial
	Acks            []Ack
	Reveals         []Reveal
}

// ---- wire codec (spec §6) ----
//
// The polynomial portion of both messages is a flat run of
// `threshold` fixed-size coefficients with no length prefix of its own
// (spec §6: "t field elements, fixed 48-byte compressed ... per
// coefficient") — threshold is agreed out of band (it is a pure
// function of the participant count, epoch/epoch.go Threshold), so
// every decode call must be told which threshold the embedding ceremony
// was run with.

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// EncodePublicOutcome renders o as the canonical extra_data byte
// encoding of spec §6: varint(epoch), varint(n_participants),
// participants, then the t compressed polynomial coefficients.
func EncodePublicOutcome(o *PublicOutcome) ([]byte, error) {
	var buf bytes.Buffer
	putUvarint(&buf, o.Epoch)
	putUvarint(&buf, uint64(len(o.Participants)))
	for _, p := range o.Participants {
		if len(p) != crypto.PublicKeyLen {
			return nil, fmt.Errorf("ceremony: participant pubkey must be %d bytes, got %d", crypto.PublicKeyLen, len(p))
		}
		buf.Write(p)
	}
	if err := writePolynomial(&buf, o.Polynomial); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePublicOutcome parses the extra_data of a boundary block, per
// spec §6. scheme supplies the pairing group coefficients are
// unmarshaled into; threshold is the number of polynomial coefficients
// to read (degree+1). It is not checked against the decoded participant
// count.
func DecodePublicOutcome(scheme *crypto.Scheme, threshold int, data []byte) (*PublicOutcome, error) {
	r := bytes.NewReader(data)
	epoch, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("ceremony: decode public outcome epoch: %w", err)
	}
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("ceremony: decode public outcome participant count: %w", err)
	}
	participants := make([][]byte, n)
	for i := range participants {
		buf := make([]byte, crypto.PublicKeyLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("ceremony: decode participant %d: %w", i, err)
		}
		participants[i] = buf
	}
	poly, err := readPolynomial(scheme, threshold, r)
	if err != nil {
		return nil, fmt.Errorf("ceremony: decode public polynomial: %w", err)
	}
	return &PublicOutcome{Epoch: epoch, Participants: participants, Polynomial: poly}, nil
}

// EncodeIntermediateOutcome renders o per spec §6's intermediate
// extra_data layout. The leading n_players field records how many
// players this dealer successfully dealt to (len(o.Acks) is always a
// lower bound; dealers that also disclose reveals for non-acking
// players carry the true denominator in len(o.Acks)+len(o.Reveals)).
func EncodeIntermediateOutcome(o *IntermediateOutcome) ([]byte, error) {
	var buf bytes.Buffer
	putUvarint(&buf, uint64(len(o.Acks)+len(o.Reveals)))
	buf.Write(o.DealerPubKey[:])
	buf.Write(o.DealerSignature[:])
	putUvarint(&buf, o.Epoch)
	if err := writePolynomial(&buf, o.Commitment); err != nil {
		return nil, err
	}
	putUvarint(&buf, uint64(len(o.Acks)))
	for _, a := range o.Acks {
		buf.Write(a.PlayerPubKey[:])
		buf.Write(a.Signature[:])
	}
	putUvarint(&buf, uint64(len(o.Reveals)))
	for _, rv := range o.Reveals {
		if len(rv.Share) != RevealShareLen {
			return nil, fmt.Errorf("ceremony: reveal share must be %d bytes, got %d", RevealShareLen, len(rv.Share))
		}
		putUvarint(&buf, uint64(rv.PlayerIndex))
		buf.Write(rv.Share)
	}
	return buf.Bytes(), nil
}

// DecodeIntermediateOutcome parses a non-boundary block's extra_data as
// an IntermediateOutcome, per spec §6. threshold is the number of
// coefficients (degree+1) of the embedded commitment (the dealer's
// configured ceremony threshold).
func DecodeIntermediateOutcome(scheme *crypto.Scheme, threshold int, data []byte) (*IntermediateOutcome, error) {
	r := bytes.NewReader(data)
	if _, err := binary.ReadUvarint(r); err != nil { // n_players, advisory
		return nil, fmt.Errorf("ceremony: decode n_players: %w", err)
	}
	var o IntermediateOutcome
	if _, err := io.ReadFull(r, o.DealerPubKey[:]); err != nil {
		return nil, fmt.Errorf("ceremony: decode dealer pubkey: %w", err)
	}
	if _, err := io.ReadFull(r, o.DealerSignature[:]); err != nil {
		return nil, fmt.Errorf("ceremony: decode dealer signature: %w", err)
	}
	epoch, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("ceremony: decode epoch: %w", err)
	}
	o.Epoch = epoch
	poly, err := readPolynomial(scheme, threshold, r)
	if err != nil {
		return nil, fmt.Errorf("ceremony: decode commitment: %w", err)
	}
	o.Commitment = poly

	nAcks, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("ceremony: decode ack count: %w", err)
	}
	o.Acks = make([]Ack, nAcks)
	for i := range o.Acks {
		if _, err := io.ReadFull(r, o.Acks[i].PlayerPubKey[:]); err != nil {
			return nil, fmt.Errorf("ceremony: decode ack %d pubkey: %w", i, err)
		}
		if _, err := io.ReadFull(r, o.Acks[i].Signature[:]); err != nil {
			return nil, fmt.Errorf("ceremony: decode ack %d signature: %w", i, err)
		}
	}

	nReveals, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("ceremony: decode reveal count: %w", err)
	}
	o.Reveals = make([]Reveal, nReveals)
	for i := range o.Reveals {
		idx, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("ceremony: decode reveal %d index: %w", i, err)
		}
		share := make([]byte, RevealShareLen)
		if _, err := io.ReadFull(r, share); err != nil {
			return nil, fmt.Errorf("ceremony: decode reveal %d share: %w", i, err)
		}
		o.Reveals[i] = Reveal{PlayerIndex: int(idx), Share: share}
	}
	return &o, nil
}

func writePolynomial(buf *bytes.Buffer, p *crypto.Polynomial) error {
	for i, c := range p.Commitments {
		b, err := c.MarshalBinary()
		if err != nil {
			return fmt.Errorf("ceremony: marshal coefficient %d: %w", i, err)
		}
		if len(b) != crypto.CoefficientLen {
			return fmt.Errorf("ceremony: coefficient %d marshaled to %d bytes, want %d", i, len(b), crypto.CoefficientLen)
		}
		buf.Write(b)
	}
	return nil
}

func readPolynomial(scheme *crypto.Scheme, threshold int, r *bytes.Reader) (*crypto.Polynomial, error) {
	commits := make([]kyber.Point, threshold)
	for i := range commits {
		buf := make([]byte, crypto.CoefficientLen)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("coefficient %d: %w", i, err)
		}
		pt := scheme.Pairing.Point()
		if err := pt.UnmarshalBinary(buf); err != nil {
			return nil, fmt.Errorf("coefficient %d: %w", i, err)
		}
		commits[i] = pt
	}
	return &crypto.Polynomial{Scheme: scheme, Commitments: commits}, nil
}
