package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/pkg/clock"
	"github.com/aussiebroadwan/issuer/pkg/cryptox"
	"github.com/aussiebroadwan/issuer/pkg/slogx"
)

// Refresher exchanges and revokes refresh tokens.
type Refresher struct {
	store    store.Store
	registry ClientResolver
	builder  RequestBuilder
	issuer   *Issuer
	clock    clock.Clock
	metrics  *Metrics
}

func NewRefresher(s store.Store, registry ClientResolver, builder RequestBuilder, issuer *Issuer, c clock.Clock, m *Metrics) *Refresher {
	return &Refresher{
		store:    s,
		registry: registry,
		builder:  builder,
		issuer:   issuer,
		clock:    clock.Or(c),
		metrics:  m,
	}
}

// Exchange rotates a refresh token: the presented token is revoked and a new
// pair is issued for the same subject and session. The client's current
// scope set is granted again, so scope changes apply on the next refresh.
func (r *Refresher) Exchange(ctx context.Context, clientID, refreshToken string) (domain.TokenResponse, error) {
	resp, err := r.exchange(ctx, clientID, refreshToken)
	if err != nil {
		r.metrics.refreshed(string(KindOf(err)))
		return domain.TokenResponse{}, err
	}
	r.metrics.refreshed("ok")
	return resp, nil
}

func (r *Refresher) exchange(ctx context.Context, clientID, refreshToken string) (domain.TokenResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return domain.TokenResponse{}, newError(KindInvalidGrant, nil, "refresh token is empty")
	}
	hash := cryptox.FingerprintToken(refreshToken)

	client, err := r.registry.Resolve(ctx, clientID)
	if err != nil {
		return domain.TokenResponse{}, err
	}

	var (
		access  domain.AccessToken
		refresh domain.RefreshToken
	)
	err = r.store.WithTx(ctx, func(tx store.Tx) error {
		now := r.clock.Now()

		old, err := tx.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
		if errors.Is(err, store.ErrNotFound) {
			return newError(KindInvalidGrant, nil, "refresh token not recognised")
		}
		if err != nil {
			return newError(KindIssuanceFailed, err, "refresh token lookup failed")
		}
		if old.ClientID != client.ID {
			return newError(KindClientInvalid, nil, "refresh token was not issued to client %q", client.ID)
		}
		if !old.Usable(now) {
			return newError(KindInvalidGrant, nil, "refresh token is revoked or expired")
		}

		authz, err := r.builder.Build(domain.Principal{Subject: old.Subject, Authorities: old.Authorities}, client)
		if err != nil {
			return err
		}
		authz.GrantType = domain.GrantRefresh
		authz.SessionID = old.SessionID

		err = tx.RefreshTokens().ConsumeRefreshToken(ctx, hash, now)
		if errors.Is(err, store.ErrConsumed) || errors.Is(err, store.ErrNotFound) {
			return newError(KindInvalidGrant, nil, "refresh token is revoked or expired")
		}
		if err != nil {
			return newError(KindIssuanceFailed, err, "revoking presented refresh token failed")
		}

		access, refresh, err = r.issuer.issue(ctx, tx.RefreshTokens(), authz)
		return err
	})
	if err != nil {
		return domain.TokenResponse{}, err
	}

	slogx.FromContext(slogx.WithClient(ctx, client.ID, refresh.Subject)).Info("refresh token rotated")
	return domain.NewTokenResponse(access, refresh, access.IssuedAt), nil
}

// Revoke marks a refresh token revoked. Revoking an already revoked token
// succeeds; an unknown token is ErrInvalidGrant.
func (r *Refresher) Revoke(ctx context.Context, refreshToken string) error {
	hash := cryptox.FingerprintToken(strings.TrimSpace(refreshToken))
	err := r.store.RefreshTokens().RevokeRefreshToken(ctx, hash, r.clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindInvalidGrant, nil, "refresh token not recognised")
	}
	if err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("refresh token revoked")
	return nil
}

// RevokeAll revokes every live refresh token subject holds at clientID.
func (r *Refresher) RevokeAll(ctx context.Context, subject, clientID string) (int64, error) {
	n, err := r.store.RefreshTokens().RevokeRefreshTokens(ctx, subject, clientID, r.clock.Now())
	if err != nil {
		return 0, err
	}
	slogx.FromContext(slogx.WithClient(ctx, clientID, subject)).Info("refresh tokens revoked", slog.Int64("count", n))
	return n, nil
}
