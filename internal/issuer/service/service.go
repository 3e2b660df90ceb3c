// Package service implements password-grant token issuance: resolving the
// client, building the authorization context and minting the token pair.
package service

import (
	"context"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
)

// ClientResolver returns a client that tokens may be issued to.
type ClientResolver interface {
	Resolve(ctx context.Context, clientID string) (domain.Client, error)
}

// RequestBuilder turns an authenticated principal and resolved client into
// an authorization context.
type RequestBuilder interface {
	Build(principal domain.Principal, client domain.Client) (domain.AuthorizationContext, error)
}

// TokenIssuer mints an access/refresh pair for an authorization context.
type TokenIssuer interface {
	Issue(ctx context.Context, authz domain.AuthorizationContext) (domain.AccessToken, domain.RefreshToken, error)
}

var (
	_ ClientResolver = (*Registry)(nil)
	_ RequestBuilder = (*Builder)(nil)
	_ TokenIssuer    = (*Issuer)(nil)
)
