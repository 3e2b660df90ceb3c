package service

import (
	"context"

	"github.com/aussiebroadwan/issuer/pkg/jwtx"
)

// Validator checks access tokens minted by this issuer: signature, issuer
// and lifetime. It never consults the store.
type Validator struct {
	verifier jwtx.Verifier
}

// NewValidator wraps v, typically KeyManager.Verifier().
func NewValidator(v jwtx.Verifier) *Validator {
	return &Validator{verifier: v}
}

func (v *Validator) Validate(_ context.Context, accessToken string) (jwtx.Claims, error) {
	return v.verifier.Verify(accessToken)
}

// ValidateFor additionally requires clientID in the token's audience.
func (v *Validator) ValidateFor(ctx context.Context, accessToken, clientID string) (jwtx.Claims, error) {
	claims, err := v.Validate(ctx, accessToken)
	if err != nil {
		return jwtx.Claims{}, err
	}
	if err := claims.ValidateAudience([]string{clientID}); err != nil {
		return jwtx.Claims{}, err
	}
	return claims, nil
}
