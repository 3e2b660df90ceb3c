package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
)

type refreshTokensRepo struct {
	q querier
}

// CreateRefreshToken relies on the UNIQUE token_hash constraint, so a
// colliding insert fails without touching the existing row.
func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens
			(id, token_hash, subject, authorities, client_id, session_id, scopes,
			 expires_at, revoked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TokenHash, t.Subject, store.JoinFields(t.Authorities), t.ClientID, t.SessionID,
		store.JoinFields(t.Scopes), toMillis(t.ExpiresAt), t.Revoked,
		toMillis(t.CreatedAt), toMillis(t.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var (
		t                               domain.RefreshToken
		authorities, scopes             string
		expiresAt, createdAt, updatedAt int64
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, token_hash, subject, authorities, client_id, session_id, scopes,
		       expires_at, revoked, created_at, updated_at
		FROM refresh_tokens WHERE token_hash = ?`, hash,
	).Scan(
		&t.ID, &t.TokenHash, &t.Subject, &authorities, &t.ClientID, &t.SessionID, &scopes,
		&expiresAt, &t.Revoked, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}

	t.Authorities = store.SplitFields(authorities)
	t.Scopes = store.SplitFields(scopes)
	t.ExpiresAt = fromMillis(expiresAt)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) error {
	return requireRow(r.q.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, updated_at = ? WHERE token_hash = ?`,
		toMillis(now), hash,
	))
}

func (r *refreshTokensRepo) ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) error {
	err := requireRow(r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = 1, updated_at = ?
		WHERE token_hash = ? AND revoked = 0 AND expires_at > ?`,
		toMillis(now), hash, toMillis(now),
	))
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if _, err := r.GetRefreshTokenByHash(ctx, hash); err != nil {
		return err
	}
	return store.ErrConsumed
}

func (r *refreshTokensRepo) RevokeRefreshTokens(ctx context.Context, subject, clientID string, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = 1, updated_at = ?
		WHERE subject = ? AND client_id = ? AND revoked = 0`,
		toMillis(now), subject, clientID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
