package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
)

type signingKeysRepo struct {
	q querier
}

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, k domain.SigningKey) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO signing_keys (kid, algorithm, sealed_key, created_at, retired_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		k.Kid, k.Algorithm, k.SealedKey, toMillis(k.CreatedAt), nullMillis(k.RetiredAt), toMillis(k.ExpiresAt),
	)
	return mapConstraint(err)
}

func (r *signingKeysRepo) ListSigningKeys(ctx context.Context, now time.Time) ([]domain.SigningKey, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT kid, algorithm, sealed_key, created_at, retired_at, expires_at
		FROM signing_keys
		WHERE retired_at IS NULL OR expires_at > ?
		ORDER BY created_at, kid`, toMillis(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SigningKey
	for rows.Next() {
		var (
			k                    domain.SigningKey
			createdAt, expiresAt int64
			retiredAt            sql.NullInt64
		)
		if err := rows.Scan(&k.Kid, &k.Algorithm, &k.SealedKey, &createdAt, &retiredAt, &expiresAt); err != nil {
			return nil, err
		}
		k.CreatedAt = fromMillis(createdAt)
		k.RetiredAt = fromNullMillis(retiredAt)
		k.ExpiresAt = fromMillis(expiresAt)
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *signingKeysRepo) RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error {
	return requireRow(r.q.ExecContext(ctx,
		`UPDATE signing_keys SET retired_at = ?, expires_at = ? WHERE kid = ?`,
		toMillis(retiredAt), toMillis(expiresAt), kid,
	))
}

func (r *signingKeysRepo) DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM signing_keys WHERE retired_at IS NOT NULL AND expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
