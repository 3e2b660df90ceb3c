package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
)

type clientsRepo struct {
	q querier
}

const clientColumns = `id, name, secret_hash, scopes, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (domain.Client, error) {
	var (
		c                    domain.Client
		secret               sql.NullString
		scopes, status       string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&c.ID, &c.Name, &secret, &scopes, &status, &createdAt, &updatedAt); err != nil {
		return domain.Client{}, err
	}
	c.SecretHash = secret.String
	c.Scopes = store.SplitFields(scopes)
	c.Status = domain.ClientStatus(status)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return c, nil
}

func (r *clientsRepo) GetClientByID(ctx context.Context, id string) (domain.Client, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if err != nil {
		return domain.Client{}, mapNotFound(err)
	}
	return c, nil
}

func (r *clientsRepo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at, id`)
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
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO clients (id, name, secret_hash, scopes, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullString(c.SecretHash), store.JoinFields(c.Scopes), string(c.Status),
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *clientsRepo) UpdateClient(ctx context.Context, c domain.Client) error {
	return requireRow(r.q.ExecContext(ctx, `
		UPDATE clients
		SET name = ?, secret_hash = ?, scopes = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, nullString(c.SecretHash), store.JoinFields(c.Scopes), string(c.Status),
		toMillis(c.UpdatedAt), c.ID,
	))
}

func (r *clientsRepo) UpdateClientStatus(ctx context.Context, id string, status domain.ClientStatus, now time.Time) error {
	return requireRow(r.q.ExecContext(ctx,
		`UPDATE clients SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(now), id,
	))
}

func (r *clientsRepo) DeleteClient(ctx context.Context, id string) error {
	return requireRow(r.q.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id))
}
