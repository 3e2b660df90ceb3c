package postgres

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

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO refresh_tokens
			(id, token_hash, subject, authorities, client_id, session_id, scopes,
			 expires_at, revoked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.TokenHash, t.Subject, nonNil(t.Authorities), t.ClientID, t.SessionID,
		nonNil(t.Scopes), t.ExpiresAt, t.Revoked, t.CreatedAt, t.UpdatedAt,
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.q.QueryRow(ctx, `
		SELECT id, token_hash, subject, authorities, client_id, session_id, scopes,
		       expires_at, revoked, created_at, updated_at
		FROM refresh_tokens WHERE token_hash = $1`, hash,
	).Scan(
		&t.ID, &t.TokenHash, &t.Subject, &t.Authorities, &t.ClientID, &t.SessionID, &t.Scopes,
		&t.ExpiresAt, &t.Revoked, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) error {
	return requireRow(r.q.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE, updated_at = $2 WHERE token_hash = $1`, hash, now))
}

// ConsumeRefreshToken re-evaluates the WHERE clause after waiting on a
// concurrent writer's row lock, so only one of two racing consumers
// matches.
func (r *refreshTokensRepo) ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) error {
	err := requireRow(r.q.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE, updated_at = $2
		WHERE token_hash = $1 AND NOT revoked AND expires_at > $2`, hash, now))
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if _, err := r.GetRefreshTokenByHash(ctx, hash); err != nil {
		return err
	}
	return store.ErrConsumed
}

func (r *refreshTokensRepo) RevokeRefreshTokens(ctx context.Context, subject, clientID string, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE, updated_at = $3
		WHERE subject = $1 AND client_id = $2 AND NOT revoked`,
		subject, clientID, now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
