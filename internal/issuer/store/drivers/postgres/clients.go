package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/jackc/pgx/v5"
)

type clientsRepo struct {
	q querier
}

const clientColumns = `id, name, secret_hash, scopes, status, created_at, updated_at`

func scanClient(row pgx.Row) (domain.Client, error) {
	var (
		c      domain.Client
		secret *string
		status string
	)
	if err := row.Scan(&c.ID, &c.Name, &secret, &c.Scopes, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Client{}, err
	}
	if secret != nil {
		c.SecretHash = *secret
	}
	if len(c.Scopes) == 0 {
		c.Scopes = nil
	}
	c.Status = domain.ClientStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (r *clientsRepo) GetClientByID(ctx context.Context, id string) (domain.Client, error) {
	c, err := scanClient(r.q.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	if err != nil {
		return domain.Client{}, mapNotFound(err)
	}
	return c, nil
}

func (r *clientsRepo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.q.Query(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *clientsRepo) CreateClient(ctx context.Context, c domain.Client) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO clients (id, name, secret_hash, scopes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, nullText(c.SecretHash), nonNil(c.Scopes), string(c.Status), c.CreatedAt, c.UpdatedAt,
	)
	return mapConstraint(err)
}

func (r *clientsRepo) UpdateClient(ctx context.Context, c domain.Client) error {
	return requireRow(r.q.Exec(ctx, `
		UPDATE clients
		SET name = $2, secret_hash = $3, scopes = $4, status = $5, updated_at = $6
		WHERE id = $1`,
		c.ID, c.Name, nullText(c.SecretHash), nonNil(c.Scopes), string(c.Status), c.UpdatedAt,
	))
}

func (r *clientsRepo) UpdateClientStatus(ctx context.Context, id string, status domain.ClientStatus, now time.Time) error {
	return requireRow(r.q.Exec(ctx,
		`UPDATE clients SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), now))
}

func (r *clientsRepo) DeleteClient(ctx context.Context, id string) error {
	return requireRow(r.q.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id))
}
