// Package crypto wires the cryptographic primitives behind a ceremony:
// a BLS12-381 threshold scheme for the public/intermediate polynomials
// embedded in block extra_data, and Ed25519 for participant identities,
// dealer signatures, and ack signatures. Grounded on drand's
// crypto.Scheme (crypto/schemes.go in the teacher), which bundles a
// pairing-based ThresholdScheme together with a separate identity
// AuthScheme — Tempo keeps that split but picks the group sizes that
// make the wire format of spec §6 exact: 48-byte compressed points for
// polynomial coefficients (BLS12-381 G1) and 32/64-byte Ed25519 keys and
// signatures for everything identity-shaped.
package crypto

import (
	"crypto/ed25519"

	bls "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber"
	"github.com/drand/kyber/share"
	"github.com/drand/kyber/sign/tbls"
)

// CoefficientLen is the fixed, wire-exact size of a single marshaled
// polynomial coefficient, per spec §6.
const CoefficientLen = 48

// PublicKeyLen and SignatureLen are the fixed Ed25519 wire sizes used
// throughout extra_data encoding.
const (
	PublicKeyLen = ed25519.PublicKeySize // 32
	SignatureLen = ed25519.SignatureSize // 64
)

// Scheme bundles the pairing suite used for threshold polynomial
// commitments with the signature scheme used for participant identity.
type Scheme struct {
	// Pairing is the G1 group of the BLS12-381 suite, the group
	// polynomial coefficients live in (returned by KeyGroup).
	Pairing kyber.Group
	// ThresholdScheme recovers a signature from t partial signatures
	// over KeyGroup. Tempo does not use it to sign beacons (that's a
	// Non-goal here); its only caller is crypto/vault's partial signing.
	ThresholdScheme *tbls.ThresholdScheme
}

// NewDefaultScheme returns the BLS12-381-on-G1 scheme Tempo uses for
// every ceremony. It is the single scheme supported; unlike drand,
// Tempo does not need per-beacon-chain scheme negotiation.
func NewDefaultScheme() *Scheme {
	suite := bls.NewBLS12381Suite()
	g1 := suite.G1()
	return &Scheme{
		Pairing:         g1,
		ThresholdScheme: tbls.NewThresholdSchemeOnG1(suite),
	}
}

// KeyGroup returns the group polynomial coefficients are drawn from.
func (s *Scheme) KeyGroup() kyber.Group { return s.Pairing }

// NewIdentityKeyPair generates a fresh Ed25519 identity keypair for a
// participant — dealer signatures and ack signatures are produced with
// this scheme, independent of the threshold pairing scheme.
func NewIdentityKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}

// KeyPair bundles a participant's Ed25519 identity keys, the signing
// material behind dealer signatures and ack signatures (spec §3.1
// "Ack", §6 "dealer_signature").
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// NewKeyPair generates a fresh identity KeyPair.
func NewKeyPair() (*KeyPair, error) {
	pub, priv, err := NewIdentityKeyPair()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Sign signs msg with the identity private key.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// Verify checks sig against msg under pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// PubPoly wraps a slice of commitments into a kyber share.PubPoly bound
// to this scheme's KeyGroup, the same helper drand's key.DistPublic and
// key.Share expose (PubPoly(sch)), letting callers evaluate or verify
// shares against the committed polynomial.
func (s *Scheme) PubPoly(commits []kyber.Point) *share.PubPoly {
	return share.NewPubPoly(s.Pairing, s.Pairing.Point().Base(), commits)
}
