// Package redis stores refresh tokens in Redis. Each record lives under its
// fingerprint with a TTL matching its expiry; side indexes support bulk
// revocation and sweeping.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/pkg/clock"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "issuer:rt"

// RefreshTokens implements store.RefreshTokens.
type RefreshTokens struct {
	rdb    redis.UniversalClient
	prefix string
	clock  clock.Clock
}

type Option func(*RefreshTokens)

// WithPrefix namespaces every key written by the store.
func WithPrefix(p string) Option { return func(r *RefreshTokens) { r.prefix = p } }

// WithClock sets the clock used to derive key TTLs.
func WithClock(c clock.Clock) Option { return func(r *RefreshTokens) { r.clock = c } }

func New(rdb redis.UniversalClient, opts ...Option) *RefreshTokens {
	r := &RefreshTokens{rdb: rdb, prefix: defaultPrefix}
	for _, o := range opts {
		o(r)
	}
	r.clock = clock.Or(r.clock)
	return r
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*RefreshTokens, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis refresh store: ping: %w", err)
	}
	return New(rdb, opts...), nil
}

func (r *RefreshTokens) Close() error { return r.rdb.Close() }

func (r *RefreshTokens) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *RefreshTokens) tokenKey(hash string) string { return r.prefix + ":token:" + hash }

func (r *RefreshTokens) subjectKey(subject, clientID string) string {
	return r.prefix + ":subject:" + clientID + ":" + subject
}

func (r *RefreshTokens) expiryKey() string { return r.prefix + ":expiry" }

type record struct {
	ID          string    `json:"id"`
	TokenHash   string    `json:"token_hash"`
	Subject     string    `json:"subject"`
	Authorities []string  `json:"authorities,omitempty"`
	ClientID    string    `json:"client_id"`
	SessionID   string    `json:"session_id"`
	Scopes      []string  `json:"scopes,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	Revoked     bool      `json:"revoked"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toRecord(t domain.RefreshToken) record {
	return record{
		ID: t.ID, TokenHash: t.TokenHash, Subject: t.Subject, Authorities: t.Authorities,
		ClientID: t.ClientID, SessionID: t.SessionID, Scopes: t.Scopes, ExpiresAt: t.ExpiresAt.UTC(),
		Revoked: t.Revoked, CreatedAt: t.CreatedAt.UTC(), UpdatedAt: t.UpdatedAt.UTC(),
	}
}

func (rec record) domain() domain.RefreshToken {
	return domain.RefreshToken{
		ID: rec.ID, TokenHash: rec.TokenHash, Subject: rec.Subject, Authorities: rec.Authorities,
		ClientID: rec.ClientID, SessionID: rec.SessionID, Scopes: rec.Scopes, ExpiresAt: rec.ExpiresAt,
		Revoked: rec.Revoked, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
	}
}

// ttl never returns less than a second so already expired records are
// still written and later swept.
func (r *RefreshTokens) ttl(expiresAt time.Time) time.Duration {
	return max(expiresAt.Sub(r.clock.Now()), time.Second)
}

// CreateRefreshToken writes the record with SETNX so a colliding
// fingerprint never overwrites the existing token.
func (r *RefreshTokens) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	b, err := json.Marshal(toRecord(t))
	if err != nil {
		return err
	}

	ok, err := r.rdb.SetNX(ctx, r.tokenKey(t.TokenHash), b, r.ttl(t.ExpiresAt)).Result()
	if err != nil {
		return fmt.Errorf("redis refresh store: setnx: %w", err)
	}
	if !ok {
		return store.ErrAlreadyExists
	}

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		sk := r.subjectKey(t.Subject, t.ClientID)
		p.SAdd(ctx, sk, t.TokenHash)
		p.ExpireGT(ctx, sk, r.ttl(t.ExpiresAt))
		p.ZAdd(ctx, r.expiryKey(), redis.Z{Score: float64(t.ExpiresAt.UnixMilli()), Member: t.TokenHash})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis refresh store: index: %w", err)
	}
	return nil
}

// getter is the read side shared by the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RefreshTokens) load(ctx context.Context, g getter, hash string) (record, error) {
	b, err := g.Get(ctx, r.tokenKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return record{}, store.ErrNotFound
	}
	if err != nil {
		return record{}, fmt.Errorf("redis refresh store: get: %w", err)
	}

	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return record{}, fmt.Errorf("redis refresh store: decode: %w", err)
	}
	return rec, nil
}

func (r *RefreshTokens) get(ctx context.Context, hash string) (record, error) {
	return r.load(ctx, r.rdb, hash)
}

func (r *RefreshTokens) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	rec, err := r.get(ctx, hash)
	if err != nil {
		return domain.RefreshToken{}, err
	}
	return rec.domain(), nil
}

const maxRevokeAttempts = 5

// revoke rewrites the record under WATCH, keeping its TTL. With live set a
// record that is already revoked or expired fails with store.ErrConsumed.
// It reports whether the record changed.
func (r *RefreshTokens) revoke(ctx context.Context, hash string, now time.Time, live bool) (bool, error) {
	key := r.tokenKey(hash)
	for range maxRevokeAttempts {
		changed := false
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			rec, err := r.load(ctx, tx, hash)
			if err != nil {
				return err
			}
			if rec.Revoked || (live && !rec.ExpiresAt.After(now)) {
				if live {
					return store.ErrConsumed
				}
				return nil
			}

			rec.Revoked = true
			rec.UpdatedAt = now.UTC()
			b, err := json.Marshal(rec)
			if err != nil {
				return err
			}

			// XX so a record that expired meanwhile is not resurrected.
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.SetArgs(ctx, key, b, redis.SetArgs{Mode: "XX", KeepTTL: true})
				return nil
			})
			if errors.Is(err, redis.Nil) {
				return store.ErrNotFound
			}
			if err != nil {
				return err
			}
			changed = true
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrConsumed) {
			return false, fmt.Errorf("redis refresh store: revoke: %w", err)
		}
		return changed, err
	}
	return false, fmt.Errorf("redis refresh store: revoke: %w", redis.TxFailedErr)
}

func (r *RefreshTokens) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) error {
	_, err := r.revoke(ctx, hash, now, false)
	return err
}

func (r *RefreshTokens) ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) error {
	_, err := r.revoke(ctx, hash, now, true)
	return err
}

func (r *RefreshTokens) RevokeRefreshTokens(ctx context.Context, subject, clientID string, now time.Time) (int64, error) {
	sk := r.subjectKey(subject, clientID)
	hashes, err := r.rdb.SMembers(ctx, sk).Result()
	if err != nil {
		return 0, fmt.Errorf("redis refresh store: members: %w", err)
	}

	var n int64
	for _, h := range hashes {
		changed, err := r.revoke(ctx, h, now, false)
		switch {
		case errors.Is(err, store.ErrNotFound):
			r.rdb.SRem(ctx, sk, h)
		case err != nil:
			return n, err
		case changed:
			n++
		}
	}
	return n, nil
}

// DeleteExpiredRefreshTokens sweeps the expiry index. Records whose key TTL
// already fired are counted too, since the index still held them.
func (r *RefreshTokens) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	hashes, err := r.rdb.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis refresh store: expiry scan: %w", err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	for _, h := range hashes {
		rec, err := r.get(ctx, h)
		if err == nil {
			r.rdb.SRem(ctx, r.subjectKey(rec.Subject, rec.ClientID), h)
		}
	}

	members := make([]any, len(hashes))
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		members[i] = h
		keys[i] = r.tokenKey(h)
	}

	var removed *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys...)
		removed = p.ZRem(ctx, r.expiryKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis refresh store: sweep: %w", err)
	}
	return removed.Val(), nil
}
