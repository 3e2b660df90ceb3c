package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/issuer/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Supported signing algorithms.
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// ErrUnsupportedAlg is returned for algorithms other than the constants above.
var ErrUnsupportedAlg = errors.New("jwtx: unsupported algorithm")

// Signer signs access-token claims with a single private key.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	PublicJWK() JWK
}

type keySigner struct {
	kid    string
	method jwt.SigningMethod
	key    crypto.Signer
	jwk    JWK
}

// NewSigner builds a Signer for alg from a PEM private key.
func NewSigner(alg, kid string, pemKey []byte) (Signer, error) {
	if kid == "" {
		return nil, errors.New("jwtx: kid is required")
	}
	key, err := cryptox.ParsePrivateKeyPEM(pemKey)
	if err != nil {
		return nil, err
	}

	var method jwt.SigningMethod
	switch alg {
	case AlgorithmEdDSA:
		if _, ok := key.(ed25519.PrivateKey); !ok {
			return nil, fmt.Errorf("jwtx: %s needs an Ed25519 key, got %T", alg, key)
		}
		method = jwt.SigningMethodEdDSA
	case AlgorithmES256:
		ec, ok := key.(*ecdsa.PrivateKey)
		if !ok || ec.Curve != elliptic.P256() {
			return nil, fmt.Errorf("jwtx: %s needs a P-256 key, got %T", alg, key)
		}
		method = jwt.SigningMethodES256
	case AlgorithmRS256:
		rk, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("jwtx: %s needs an RSA key, got %T", alg, key)
		}
		if rk.N.BitLen() < cryptox.MinRSABits {
			return nil, fmt.Errorf("jwtx: RSA key is %d bits", rk.N.BitLen())
		}
		method = jwt.SigningMethodRS256
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedAlg, alg)
	}

	jwk, err := NewJWK(kid, alg, key.Public())
	if err != nil {
		return nil, err
	}
	return &keySigner{kid: kid, method: method, key: key, jwk: jwk}, nil
}

// GenerateSigner creates a fresh key for alg and returns the signer together
// with the PEM it was built from, so callers can persist it.
func GenerateSigner(alg, kid string, rsaBits int) (Signer, []byte, error) {
	var (
		pemKey []byte
		err    error
	)
	switch alg {
	case AlgorithmEdDSA:
		pemKey, err = cryptox.GenerateEd25519PEM()
	case AlgorithmES256:
		pemKey, err = cryptox.GenerateP256PEM()
	case AlgorithmRS256:
		if rsaBits == 0 {
			rsaBits = 4096
		}
		pemKey, err = cryptox.GenerateRSAPEM(rsaBits)
	default:
		return nil, nil, fmt.Errorf("%w %q", ErrUnsupportedAlg, alg)
	}
	if err != nil {
		return nil, nil, err
	}

	s, err := NewSigner(alg, kid, pemKey)
	if err != nil {
		return nil, nil, err
	}
	return s, pemKey, nil
}

func (s *keySigner) Alg() string    { return s.method.Alg() }
func (s *keySigner) KID() string    { return s.kid }
func (s *keySigner) PublicJWK() JWK { return s.jwk }

// Sign returns the compact JWS with the kid header set.
func (s *keySigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}
