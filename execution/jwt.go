package execution

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	tmerrors "github.com/tempolabs/tempo/common/errors"
)

// JWTClaims is the Engine-API bearer token shape: a single "iat" claim,
// checked with a ±60s clock-skew allowance, matching the convention
// go-ethereum's engine client and most CL clients use for the JWT
// secret handshake (spec §6 "Engine surface consumed").
type JWTClaims struct {
	jwt.RegisteredClaims
}

// jwtSkew is the permitted clock drift between caller and engine when
// validating a freshly-minted token's issued-at time.
const jwtSkew = 60 * time.Second

// SignJWT mints a fresh bearer token authenticating a single Engine-API
// call, signed with secret (the 32-byte value shared out of band with
// the execution client).
func SignJWT(secret [32]byte, now time.Time) (string, error) {
	claims := JWTClaims{RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now)}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret[:])
	if err != nil {
		return "", tmerrors.Wrap(tmerrors.KindFatal, err, "execution: sign engine jwt")
	}
	return signed, nil
}

// VerifyJWT checks a bearer token presented by a caller, mirroring the
// symmetric secret check an engine-side HTTP middleware would run.
func VerifyJWT(secret [32]byte, tokenString string, now time.Time) error {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("execution: unexpected jwt signing method %v", t.Header["alg"])
		}
		return secret[:], nil
	})
	if err != nil {
		return tmerrors.Wrap(tmerrors.KindFatal, err, "execution: verify engine jwt")
	}
	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.IssuedAt == nil {
		return tmerrors.New(tmerrors.KindFatal, "execution: engine jwt missing issued-at claim")
	}
	iat := claims.IssuedAt.Time
	if now.Sub(iat) > jwtSkew || iat.Sub(now) > jwtSkew {
		return tmerrors.New(tmerrors.KindFatal, "execution: engine jwt issued-at outside allowed clock skew")
	}
	return nil
}
