package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConsumed reports a refresh token that was already revoked or
	// expired when a consume was attempted.
	ErrConsumed = errors.New("store: refresh token already consumed")
)

// Store is the root data access interface implemented by the SQL drivers.
// Repositories are reached through methods so a Tx-scoped Store exposes the
// same surface as the root.
type Store interface {
	Clients() Clients
	RefreshTokens() RefreshTokens
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Tx starts a read/write transaction. The caller must Commit or Rollback.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped Store.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Clients interface {
	GetClientByID(ctx context.Context, id string) (domain.Client, error)

	// ListClients returns all clients, oldest first.
	ListClients(ctx context.Context) ([]domain.Client, error)

	// CreateClient fails with ErrAlreadyExists when the ID is taken.
	CreateClient(ctx context.Context, c domain.Client) error

	// UpdateClient overwrites name, secret hash, scopes and status.
	UpdateClient(ctx context.Context, c domain.Client) error

	UpdateClientStatus(ctx context.Context, id string, status domain.ClientStatus, now time.Time) error

	// DeleteClient cascades to the client's refresh tokens on SQL drivers.
	DeleteClient(ctx context.Context, id string) error
}

type RefreshTokens interface {
	// CreateRefreshToken inserts atomically, keyed by TokenHash. A duplicate
	// hash fails with ErrAlreadyExists and leaves the existing record intact.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RevokeRefreshToken marks the token revoked. Revoking twice is not an
	// error; an unknown hash is ErrNotFound.
	RevokeRefreshToken(ctx context.Context, hash string, now time.Time) error

	// ConsumeRefreshToken revokes the token only while it is live. The check
	// and the write are one atomic step, so of two concurrent consumers at
	// most one succeeds; the other gets ErrConsumed. An unknown hash is
	// ErrNotFound.
	ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) error

	// RevokeRefreshTokens revokes every live token for subject at clientID
	// and reports how many were revoked.
	RevokeRefreshTokens(ctx context.Context, subject, clientID string, now time.Time) (int64, error)

	// DeleteExpiredRefreshTokens removes tokens expired before now.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

type SigningKeys interface {
	CreateSigningKey(ctx context.Context, k domain.SigningKey) error

	// ListSigningKeys returns active keys plus retired keys whose
	// ExpiresAt is after now, oldest first.
	ListSigningKeys(ctx context.Context, now time.Time) ([]domain.SigningKey, error)

	// RetireSigningKey stops kid from signing; it stays verifiable until
	// expiresAt.
	RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error

	// DeleteExpiredSigningKeys removes retired keys past their expiry.
	DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error)
}

// JoinFields encodes a string list for single-column storage.
func JoinFields(fields []string) string { return strings.Join(fields, " ") }

// SplitFields reverses JoinFields, dropping blanks and duplicates.
func SplitFields(s string) []string {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return nil
	}
	out := parts[:0]
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
