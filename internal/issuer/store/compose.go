package store

import "context"

// WithRefreshTokens returns a Store whose RefreshTokens repository is
// replaced by refresh, e.g. a Redis or MongoDB backend. Transactions opened
// on the result use the base transaction for every other repository;
// refresh token writes are not part of them.
func WithRefreshTokens(base Store, refresh RefreshTokens) Store {
	return &composed{Store: base, refresh: refresh}
}

type composed struct {
	Store
	refresh RefreshTokens
}

func (c *composed) RefreshTokens() RefreshTokens { return c.refresh }

func (c *composed) Tx(ctx context.Context) (Tx, error) {
	tx, err := c.Store.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return c.wrap(tx), nil
}

func (c *composed) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return c.Store.WithTx(ctx, func(tx Tx) error {
		return fn(c.wrap(tx))
	})
}

func (c *composed) wrap(tx Tx) *composedTx {
	return &composedTx{composed: composed{Store: tx, refresh: c.refresh}, tx: tx}
}

// composedTx reaches repositories through the embedded composed store and
// ends the base transaction through tx.
type composedTx struct {
	composed
	tx Tx
}

func (t *composedTx) Commit() error   { return t.tx.Commit() }
func (t *composedTx) Rollback() error { return t.tx.Rollback() }
