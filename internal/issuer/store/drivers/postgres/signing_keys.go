package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
)

type signingKeysRepo struct {
	q querier
}

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, k domain.SigningKey) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO signing_keys (kid, algorithm, sealed_key, created_at, retired_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		k.Kid, k.Algorithm, k.SealedKey, k.CreatedAt, k.RetiredAt, k.ExpiresAt,
	)
	return mapConstraint(err)
}

func (r *signingKeysRepo) ListSigningKeys(ctx context.Context, now time.Time) ([]domain.SigningKey, error) {
	rows, err := r.q.Query(ctx, `
		SELECT kid, algorithm, sealed_key, created_at, retired_at, expires_at
		FROM signing_keys
		WHERE retired_at IS NULL OR expires_at > $1
		ORDER BY created_at, kid`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SigningKey
	for rows.Next() {
		var k domain.SigningKey
		if err := rows.Scan(&k.Kid, &k.Algorithm, &k.SealedKey, &k.CreatedAt, &k.RetiredAt, &k.ExpiresAt); err != nil {
			return nil, err
		}
		k.CreatedAt = k.CreatedAt.UTC()
		k.RetiredAt = utc(k.RetiredAt)
		k.ExpiresAt = k.ExpiresAt.UTC()
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *signingKeysRepo) RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error {
	return requireRow(r.q.Exec(ctx,
		`UPDATE signing_keys SET retired_at = $2, expires_at = $3 WHERE kid = $1`, kid, retiredAt, expiresAt))
}

func (r *signingKeysRepo) DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM signing_keys WHERE retired_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
