package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default lifetimes. Services override these through configuration.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims are the access-token claims minted by the issuer.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID, stable across refresh exchanges.
	SID string `json:"sid,omitempty"`

	ClientID string `json:"client_id,omitempty"`

	// Granted scopes, e.g. ["read","write"].
	Scopes []string `json:"scopes,omitempty"`

	// Authorities held by the principal, e.g. ["ROLE_USER"].
	Authorities []string `json:"authorities,omitempty"`

	GrantType string `json:"grant_type,omitempty"`
}

// AccessParams describes an access token to be minted.
type AccessParams struct {
	Issuer      string
	Subject     string
	SessionID   string
	ClientID    string
	GrantType   string
	Audience    []string
	Scopes      []string
	Authorities []string
	IssuedAt    time.Time
	TTL         time.Duration
}

// NewAccessClaims builds claims expiring at IssuedAt+TTL.
func NewAccessClaims(p AccessParams) Claims {
	now := p.IssuedAt.UTC().Truncate(time.Second)
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings(p.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.TTL)),
			ID:        NewJTI(),
		},
		SID:         p.SessionID,
		ClientID:    p.ClientID,
		Scopes:      slices.Clone(p.Scopes),
		Authorities: slices.Clone(p.Authorities),
		GrantType:   p.GrantType,
	}
}

// NewJTI returns a random URL-safe token identifier.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks iss. An empty expectation is not enforced.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected != "" && c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateAudience requires at least one expected audience when any are given.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}

// ValidateTime checks exp and nbf against now, allowing leeway for skew.
// A token is expired once now reaches exp.
func (c *Claims) ValidateTime(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt == nil {
		return ErrInvalidClaim
	}
	if !now.Before(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}
