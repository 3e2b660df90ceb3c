package domain

import (
	"strings"
	"time"
)

// TokenTypeBearer is the only token type issued.
const TokenTypeBearer = "Bearer"

// AccessToken is a signed JWT. It is validated by signature and expiry,
// never by store lookup.
type AccessToken struct {
	Value     string
	IssuedAt  time.Time // second precision, as in the iat claim
	ExpiresAt time.Time
	Scopes    []string
}

// RefreshToken is the stored record behind an opaque refresh token. Value is
// only populated on the freshly issued copy handed back to the caller; the
// store keeps TokenHash.
type RefreshToken struct {
	ID          string
	Value       string
	TokenHash   string // base64url SHA-256 of Value
	Subject     string
	Authorities []string
	ClientID    string
	SessionID   string
	Scopes      []string
	ExpiresAt   time.Time
	Revoked     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Usable reports whether the token can still be exchanged at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// TokenResponse is the external output of a successful issuance.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"` // space-delimited
}

// NewTokenResponse renders an issued pair, measuring expires_in from now.
func NewTokenResponse(access AccessToken, refresh RefreshToken, now time.Time) TokenResponse {
	return TokenResponse{
		AccessToken:  access.Value,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    max(int64(access.ExpiresAt.Sub(now).Seconds()), 0),
		RefreshToken: refresh.Value,
		Scope:        strings.Join(access.Scopes, " "),
	}
}
