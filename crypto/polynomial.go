package crypto

import (
	"fmt"

	"github.com/drand/kyber"
	"github.com/drand/kyber/share"
	"github.com/drand/kyber/util/random"
)

// Polynomial is the wire-level representation of a threshold commitment:
// an ordered list of compressed-point coefficients, c_0..c_{t-1}. c_0 is
// the group public key; Eval(i) yields participant i's verification key.
// This is the Go-native mirror of drand's key.DistPublic, generalized to
// also carry a dealer's own (not-yet-aggregated) commitment.
type Polynomial struct {
	Scheme      *Scheme
	Commitments []kyber.Point
}

// Threshold returns the degree+1 of the committed polynomial, i.e. the
// number of shares required to reconstruct a secret under it.
func (p *Polynomial) Threshold() int { return len(p.Commitments) }

// PublicKey returns c_0, the group public key for this polynomial.
func (p *Polynomial) PublicKey() kyber.Point { return p.Commitments[0] }

// pubPoly adapts Commitments into a kyber share.PubPoly for
// evaluation/verification.
func (p *Polynomial) pubPoly() *share.PubPoly {
	return share.NewPubPoly(p.Scheme.Pairing, p.Scheme.Pairing.Point().Base(), p.Commitments)
}

// VerificationKey evaluates the polynomial at participant index i,
// yielding the public key that a valid share from participant i must be
// consistent with.
func (p *Polynomial) VerificationKey(i int) kyber.Point {
	return p.pubPoly().Eval(i).V
}

// Equal compares two polynomials coefficient-by-coefficient, used by the
// Consensus Application to check a proposed PublicOutcome against the
// locally computed one (spec §4.3 verify algorithm).
func (p *Polynomial) Equal(o *Polynomial) bool {
	if p == nil || o == nil {
		return p == o
	}
	if len(p.Commitments) != len(o.Commitments) {
		return false
	}
	for i := range p.Commitments {
		if !p.Commitments[i].Equal(o.Commitments[i]) {
			return false
		}
	}
	return true
}

// DealerPolynomial is a dealer's own secret sharing: a private
// polynomial (used to produce per-player shares) plus its public
// commitment (broadcast as part of an IntermediateOutcome). Coefficients
// are stored directly (low-to-high degree) rather than behind kyber's
// own share.PriPoly so a Ceremony can persist and restore a dealing
// across a restart without depending on that type's unexported layout
// (spec §4.1 "Persistence happens through ceremony.Store").
type DealerPolynomial struct {
	Scheme       *Scheme
	Coefficients []kyber.Scalar
	Public       *Polynomial
}

// NewFreshDealerPolynomial creates a dealer's contribution for a ceremony
// with no previous epoch: a uniformly random secret of degree t-1
// (classic joint-Feldman dealing, spec §4.1 "construct_public").
func NewFreshDealerPolynomial(scheme *Scheme, threshold int) (*DealerPolynomial, error) {
	secret := scheme.Pairing.Scalar().Pick(random.New())
	return newDealerPolynomial(scheme, secret, threshold)
}

// NewResharingDealerPolynomial sub-shares a dealer's existing secret
// share of the previous epoch's polynomial among the new player set
// (spec §4.1 "recover_public" resharing case): a degree t-1 polynomial
// whose constant term is the dealer's old share value.
func NewResharingDealerPolynomial(scheme *Scheme, oldShare *share.PriShare, threshold int) (*DealerPolynomial, error) {
	if oldShare == nil {
		return nil, fmt.Errorf("crypto: resharing dealer has no previous share")
	}
	return newDealerPolynomial(scheme, oldShare.V, threshold)
}

func newDealerPolynomial(scheme *Scheme, secret kyber.Scalar, threshold int) (*DealerPolynomial, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("crypto: threshold must be >= 1, got %d", threshold)
	}
	coeffs := make([]kyber.Scalar, threshold)
	coeffs[0] = secret
	for i := 1; i < threshold; i++ {
		coeffs[i] = scheme.Pairing.Scalar().Pick(random.New())
	}
	return RestoreDealerPolynomial(scheme, coeffs), nil
}

// RestoreDealerPolynomial rebuilds a DealerPolynomial (including its
// derived public commitments) from previously persisted coefficients —
// the counterpart to Coefficients, used on Ceremony restore.
func RestoreDealerPolynomial(scheme *Scheme, coeffs []kyber.Scalar) *DealerPolynomial {
	base := scheme.Pairing.Point().Base()
	commits := make([]kyber.Point, len(coeffs))
	for i, c := range coeffs {
		commits[i] = scheme.Pairing.Point().Mul(c, base)
	}
	return &DealerPolynomial{
		Scheme:       scheme,
		Coefficients: coeffs,
		Public:       &Polynomial{Scheme: scheme, Commitments: commits},
	}
}

// ShareFor returns the secret share this dealer owes player index i,
// evaluating the polynomial at the field point (i+1) via Horner's
// method (x=0 is reserved for the secret itself, per the same
// convention lagrangeCoefficientsAtZero uses).
func (d *DealerPolynomial) ShareFor(i int) *share.PriShare {
	x := d.Scheme.Pairing.Scalar().SetInt64(int64(i) + 1)
	v := d.Scheme.Pairing.Scalar().Zero()
	for j := len(d.Coefficients) - 1; j >= 0; j-- {
		v = d.Scheme.Pairing.Scalar().Mul(v, x)
		v = d.Scheme.Pairing.Scalar().Add(v, d.Coefficients[j])
	}
	return &share.PriShare{I: i, V: v}
}

// VerifyShare checks that s is consistent with this dealer's public
// commitment — the check a player runs before acking a dealt share
// (spec §4.1 "Share verification").
func VerifyShare(commitment *Polynomial, s *share.PriShare) bool {
	return commitment.pubPoly().Check(s)
}

// ConstructPublic builds a fresh group polynomial (no previous epoch) by
// additively combining the commitments of every contributing dealer —
// the standard joint-Feldman DKG combination: the new group secret is
// the sum of the dealers' individual secrets, so the new public
// polynomial is the coefficient-wise sum of their public polynomials.
// contributions must be non-empty and all share the same threshold.
func ConstructPublic(scheme *Scheme, contributions []*Polynomial) (*Polynomial, error) {
	if len(contributions) == 0 {
		return nil, fmt.Errorf("crypto: construct_public needs at least one contribution")
	}
	t := contributions[0].Threshold()
	sum := make([]kyber.Point, t)
	for i := 0; i < t; i++ {
		sum[i] = scheme.Pairing.Point().Null()
	}
	for _, c := range contributions {
		if c.Threshold() != t {
			return nil, fmt.Errorf("crypto: construct_public threshold mismatch: %d vs %d", c.Threshold(), t)
		}
		for i, pt := range c.Commitments {
			sum[i] = scheme.Pairing.Point().Add(sum[i], pt)
		}
	}
	return &Polynomial{Scheme: scheme, Commitments: sum}, nil
}

// DealerContribution pairs a dealer's public commitment with its index
// in the ordered dealer set, the domain point used for Lagrange
// recovery (spec §9 "Dealer ordering for recovery: ... by the dealer's
// index in participants").
type DealerContribution struct {
	DealerIndex int
	Commitment  *Polynomial
}

// RecoverPublic reconstructs the new epoch's group polynomial from a
// quorum of resharing dealer contributions via Lagrange interpolation
// at x=0 over dealer indices, applied coefficient-wise (spec §4.1
// "Reshare vs initial: ... use Lagrange interpolation (recover_public)
// at dealer indices"). At least `threshold` contributions must be
// supplied; only the first `threshold` of them, in the order given, are
// interpolated and the rest are ignored, so the caller restricts the set
// to verified contributions beforehand.
func RecoverPublic(scheme *Scheme, threshold int, contributions []DealerContribution) (*Polynomial, error) {
	if len(contributions) < threshold {
		return nil, fmt.Errorf("crypto: recover_public needs >= %d contributions, got %d", threshold, len(contributions))
	}
	contributions = contributions[:threshold]

	lagrange, err := lagrangeCoefficientsAtZero(scheme.Pairing, indicesOf(contributions))
	if err != nil {
		return nil, err
	}

	degree := contributions[0].Commitment.Threshold()
	sum := make([]kyber.Point, degree)
	for i := 0; i < degree; i++ {
		sum[i] = scheme.Pairing.Point().Null()
	}
	for j, c := range contributions {
		if c.Commitment.Threshold() != degree {
			return nil, fmt.Errorf("crypto: recover_public degree mismatch: %d vs %d", c.Commitment.Threshold(), degree)
		}
		weight := lagrange[j]
		for i, pt := range c.Commitment.Commitments {
			weighted := scheme.Pairing.Point().Mul(weight, pt)
			sum[i] = scheme.Pairing.Point().Add(sum[i], weighted)
		}
	}
	return &Polynomial{Scheme: scheme, Commitments: sum}, nil
}

func indicesOf(cs []DealerContribution) []int {
	out := make([]int, len(cs))
	for i, c := range cs {
		out[i] = c.DealerIndex
	}
	return out
}

// lagrangeCoefficientsAtZero computes, for each index in indices, the
// Lagrange basis polynomial evaluated at x=0:
//
//	lambda_d(0) = prod_{d' != d} (0 - x_d') / (x_d - x_d')
//
// This is the pure function spec §4.1 calls "recover_public"'s
// interpolation step; it depends only on the dealer index set, not on
// any particular coefficient, so the caller reuses it across every
// coefficient of the polynomial being recovered.
func lagrangeCoefficientsAtZero(group kyber.Group, indices []int) ([]kyber.Scalar, error) {
	xs := make([]kyber.Scalar, len(indices))
	for i, idx := range indices {
		xs[i] = group.Scalar().SetInt64(int64(idx) + 1) // 1-indexed field points
	}

	coeffs := make([]kyber.Scalar, len(indices))
	for i := range indices {
		num := group.Scalar().One()
		den := group.Scalar().One()
		for j := range indices {
			if i == j {
				continue
			}
			// num *= (0 - x_j) = -x_j
			negXj := group.Scalar().Neg(xs[j])
			num = group.Scalar().Mul(num, negXj)
			// den *= (x_i - x_j)
			diff := group.Scalar().Sub(xs[i], xs[j])
			if diff.Equal(group.Scalar().Zero()) {
				return nil, fmt.Errorf("crypto: duplicate dealer index %d in recovery set", indices[i])
			}
			den = group.Scalar().Mul(den, diff)
		}
		coeffs[i] = group.Scalar().Div(num, den)
	}
	return coeffs, nil
}
