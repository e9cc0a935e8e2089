package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tempolabs/tempo/crypto"
)

func TestDealerPolynomialShareConsistentWithCommitment(t *testing.T) {
	scheme := crypto.NewDefaultScheme()
	d, err := crypto.NewFreshDealerPolynomial(scheme, 3)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s := d.ShareFor(i)
		require.True(t, crypto.VerifyShare(d.Public, s))
	}
}

func TestConstructPublicSumsDealerContributions(t *testing.T) {
	scheme := crypto.NewDefaultScheme()
	threshold := 2
	var contribs []*crypto.Polynomial
	for i := 0; i < 4; i++ {
		d, err := crypto.NewFreshDealerPolynomial(scheme, threshold)
		require.NoError(t, err)
		contribs = append(contribs, d.Public)
	}
	pub, err := crypto.ConstructPublic(scheme, contribs)
	require.NoError(t, err)
	require.Equal(t, threshold, pub.Threshold())
	require.False(t, pub.PublicKey().Equal(scheme.Pairing.Point().Null()))
}

func TestRecoverPublicReconstructsFromQuorum(t *testing.T) {
	scheme := crypto.NewDefaultScheme()
	threshold := 3

	// Simulate 5 dealers resharing, take a quorum of 3 and confirm
	// recovery succeeds and yields a polynomial of the same threshold.
	var all []crypto.DealerContribution
	for i := 0; i < 5; i++ {
		d, err := crypto.NewFreshDealerPolynomial(scheme, threshold)
		require.NoError(t, err)
		all = append(all, crypto.DealerContribution{DealerIndex: i, Commitment: d.Public})
	}

	first, err := crypto.RecoverPublic(scheme, threshold, all[:3])
	require.NoError(t, err)
	require.Equal(t, threshold, first.Threshold())
}

func TestRecoverPublicRejectsShortQuorum(t *testing.T) {
	scheme := crypto.NewDefaultScheme()
	threshold := 3

	var short []crypto.DealerContribution
	for i := 0; i < 2; i++ {
		d, err := crypto.NewFreshDealerPolynomial(scheme, threshold)
		require.NoError(t, err)
		short = append(short, crypto.DealerContribution{DealerIndex: i, Commitment: d.Public})
	}
	_, err := crypto.RecoverPublic(scheme, threshold, short)
	require.Error(t, err)
}

func TestPolynomialEqual(t *testing.T) {
	scheme := crypto.NewDefaultScheme()
	d, err := crypto.NewFreshDealerPolynomial(scheme, 2)
	require.NoError(t, err)

	restored := crypto.RestoreDealerPolynomial(scheme, d.Coefficients)
	require.True(t, d.Public.Equal(restored.Public))
}

func TestSealOpenRoundTrip(t *testing.T) {
	sender, err := crypto.NewEncryptionKeyPair()
	require.NoError(t, err)
	recipient, err := crypto.NewEncryptionKeyPair()
	require.NoError(t, err)

	msg := []byte("a dealt share payload")
	sealed, err := crypto.Seal(&sender.Private, &recipient.Public, msg)
	require.NoError(t, err)

	opened, err := crypto.Open(&recipient.Private, &sender.Public, sealed)
	require.NoError(t, err)
	require.Equal(t, msg, opened)
}

func TestSignVerify(t *testing.T) {
	kp, err := crypto.NewKeyPair()
	require.NoError(t, err)
	msg := []byte("boundary block digest")
	sig := kp.Sign(msg)
	require.True(t, crypto.Verify(kp.Public, msg, sig))
	require.False(t, crypto.Verify(kp.Public, []byte("tampered"), sig))
}
