package domain

import (
	"fmt"
	"slices"
	"time"
)

// ClientStatus is the registration state of a client.
type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientLocked   ClientStatus = "locked"
	ClientExpired  ClientStatus = "expired"
	ClientDisabled ClientStatus = "disabled"
)

// ParseClientStatus accepts the lower-case status names.
func ParseClientStatus(s string) (ClientStatus, error) {
	switch st := ClientStatus(s); st {
	case ClientActive, ClientLocked, ClientExpired, ClientDisabled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown client status %q", s)
	}
}

// Client is a registered OAuth2 client. Values loaded from the registry are
// treated as immutable.
type Client struct {
	ID         string
	Name       string
	SecretHash string // empty for public clients
	Scopes     []string
	Status     ClientStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Active reports whether tokens may be issued to the client.
func (c Client) Active() bool { return c.Status == ClientActive }

// Confidential reports whether the client authenticates with a secret.
func (c Client) Confidential() bool { return c.SecretHash != "" }

// AllowsScope reports whether scope is configured for the client.
func (c Client) AllowsScope(scope string) bool { return slices.Contains(c.Scopes, scope) }
