package domain

// GrantType identifies how an authorization was obtained.
type GrantType string

const (
	GrantPassword GrantType = "password"
	GrantRefresh  GrantType = "refresh_token"
)

// Principal is a user that an upstream step has already authenticated.
type Principal struct {
	Subject     string
	Authorities []string // e.g. "ROLE_USER"
}

// AuthorizationContext is a normalized token request: who, for which client,
// with which scopes. It is built per request and never persisted.
type AuthorizationContext struct {
	Principal     Principal
	Client        Client
	GrantedScopes []string
	GrantType     GrantType

	// SessionID ties an access token to its refresh chain.
	SessionID string
}
