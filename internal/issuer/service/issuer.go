package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/pkg/clock"
	"github.com/aussiebroadwan/issuer/pkg/cryptox"
	"github.com/aussiebroadwan/issuer/pkg/idx"
	"github.com/aussiebroadwan/issuer/pkg/jwtx"
	"github.com/aussiebroadwan/issuer/pkg/slogx"
)

// SignerSource hands out the key to sign the next access token with.
// *jwtx.KeyManager satisfies it.
type SignerSource interface {
	Signer() (jwtx.Signer, error)
}

type IssuerConfig struct {
	// Issuer is the iss claim.
	Issuer string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issuer mints access/refresh token pairs.
type Issuer struct {
	keys     SignerSource
	tokens   store.RefreshTokens
	cfg      IssuerConfig
	clock    clock.Clock
	generate func() (string, error)
	metrics  *Metrics
}

type IssuerOption func(*Issuer)

func WithClock(c clock.Clock) IssuerOption { return func(i *Issuer) { i.clock = c } }

// WithTokenGenerator replaces the refresh token source.
func WithTokenGenerator(fn func() (string, error)) IssuerOption {
	return func(i *Issuer) { i.generate = fn }
}

func WithIssuerMetrics(m *Metrics) IssuerOption { return func(i *Issuer) { i.metrics = m } }

func NewIssuer(keys SignerSource, tokens store.RefreshTokens, cfg IssuerConfig, opts ...IssuerOption) *Issuer {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = jwtx.DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = jwtx.DefaultRefreshTokenTTL
	}

	i := &Issuer{keys: keys, tokens: tokens, cfg: cfg}
	for _, o := range opts {
		o(i)
	}
	i.clock = clock.Or(i.clock)
	if i.generate == nil {
		i.generate = func() (string, error) { return cryptox.GenerateToken(cryptox.TokenSize256) }
	}
	return i
}

// Issue signs an access token and persists a new refresh token for authz.
// Only Active clients are issued tokens. A refresh token collision is
// retried once with a fresh value; a second collision fails the issuance.
// Nothing is returned on failure.
func (i *Issuer) Issue(ctx context.Context, authz domain.AuthorizationContext) (domain.AccessToken, domain.RefreshToken, error) {
	return i.issue(ctx, i.tokens, authz)
}

func (i *Issuer) issue(ctx context.Context, tokens store.RefreshTokens, authz domain.AuthorizationContext) (domain.AccessToken, domain.RefreshToken, error) {
	if !authz.Client.Active() {
		return domain.AccessToken{}, domain.RefreshToken{}, newError(KindClientInvalid, nil,
			"client %q is %s", authz.Client.ID, authz.Client.Status)
	}

	now := i.clock.Now()
	if authz.SessionID == "" {
		authz.SessionID = idx.NewAt(now).String()
	}

	access, err := i.sign(authz, now)
	if err != nil {
		return domain.AccessToken{}, domain.RefreshToken{}, err
	}

	refresh, err := i.persistRefresh(ctx, tokens, authz, now)
	if err != nil {
		return domain.AccessToken{}, domain.RefreshToken{}, err
	}
	return access, refresh, nil
}

func (i *Issuer) sign(authz domain.AuthorizationContext, now time.Time) (domain.AccessToken, error) {
	signer, err := i.keys.Signer()
	if err != nil {
		return domain.AccessToken{}, newError(KindSigningError, err, "no signing key available")
	}

	claims := jwtx.NewAccessClaims(jwtx.AccessParams{
		Issuer:      i.cfg.Issuer,
		Subject:     authz.Principal.Subject,
		SessionID:   authz.SessionID,
		ClientID:    authz.Client.ID,
		GrantType:   string(authz.GrantType),
		Audience:    []string{authz.Client.ID},
		Scopes:      authz.GrantedScopes,
		Authorities: authz.Principal.Authorities,
		IssuedAt:    now,
		TTL:         i.cfg.AccessTTL,
	})

	value, err := signer.Sign(claims)
	if err != nil {
		return domain.AccessToken{}, newError(KindSigningError, err, "signing with key %q failed", signer.KID())
	}

	return domain.AccessToken{
		Value:     value,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
		Scopes:    claims.Scopes,
	}, nil
}

func (i *Issuer) persistRefresh(ctx context.Context, tokens store.RefreshTokens, authz domain.AuthorizationContext, now time.Time) (domain.RefreshToken, error) {
	var collision error
	for attempt := 0; attempt < 2; attempt++ {
		value, err := i.generate()
		if err != nil {
			return domain.RefreshToken{}, newError(KindIssuanceFailed, err, "refresh token generation failed")
		}

		rt := domain.RefreshToken{
			ID:          idx.NewAt(now).String(),
			Value:       value,
			TokenHash:   cryptox.FingerprintToken(value),
			Subject:     authz.Principal.Subject,
			Authorities: authz.Principal.Authorities,
			ClientID:    authz.Client.ID,
			SessionID:   authz.SessionID,
			Scopes:      authz.GrantedScopes,
			ExpiresAt:   now.Add(i.cfg.RefreshTTL),
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		err = tokens.CreateRefreshToken(ctx, rt)
		if err == nil {
			return rt, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return domain.RefreshToken{}, newError(KindIssuanceFailed, err, "storing refresh token failed")
		}

		i.metrics.collision()
		collision = newError(KindTokenCollision, err, "refresh token collided on attempt %d", attempt+1)
		slogx.FromContext(ctx).Warn("refresh token collision",
			slog.String("client_id", authz.Client.ID), slog.Int("attempt", attempt+1))
	}
	return domain.RefreshToken{}, newError(KindIssuanceFailed, collision, "refresh token collided twice")
}
