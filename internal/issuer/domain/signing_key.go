package domain

import "time"

// SigningKey is a JWT signing key as stored. The private key is sealed with
// the master key.
type SigningKey struct {
	Kid       string
	Algorithm string // RS256, ES256 or EdDSA
	SealedKey []byte
	CreatedAt time.Time
	RetiredAt *time.Time // nil while the key signs

	// ExpiresAt bounds verification after retirement.
	ExpiresAt time.Time
}
