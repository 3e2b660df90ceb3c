package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/pkg/clock"
	"github.com/aussiebroadwan/issuer/pkg/cryptox"
	"github.com/aussiebroadwan/issuer/pkg/idx"
	"github.com/aussiebroadwan/issuer/pkg/slogx"
)

var ErrInvalidClientConfig = errors.New("invalid client configuration")

// ClientService administers registered clients. Every mutation evicts the
// registry's cached copy.
type ClientService struct {
	store    store.Store
	registry *Registry
	hasher   *cryptox.SecretHasher
	clock    clock.Clock
}

func NewClientService(s store.Store, registry *Registry, hasher *cryptox.SecretHasher, c clock.Clock) *ClientService {
	return &ClientService{store: s, registry: registry, hasher: hasher, clock: clock.Or(c)}
}

// Register creates a client. Confidential clients get a generated secret
// which is returned once and only its hash is kept.
func (s *ClientService) Register(
	ctx context.Context,
	name string,
	confidential bool,
	scopes []string,
	status domain.ClientStatus,
) (clientID, secret string, err error) {
	l := slogx.FromContext(ctx)

	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("%w: name is required", ErrInvalidClientConfig)
	}
	if status == "" {
		status = domain.ClientActive
	}
	if _, err := domain.ParseClientStatus(string(status)); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
	}

	var secretHash string
	if confidential {
		secret, err = cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return "", "", err
		}
		if secretHash, err = s.hashSecret(secret); err != nil {
			return "", "", err
		}
	}

	now := s.clock.Now()
	c := domain.Client{
		ID:         idx.NewAt(now).String(),
		Name:       name,
		SecretHash: secretHash,
		Scopes:     normalize(scopes),
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Clients().CreateClient(ctx, c); err != nil {
		l.Error("failed to create client", "error", err)
		return "", "", err
	}

	l.Info("client registered", "client_id", c.ID, "name", name, "confidential", confidential)
	return c.ID, secret, nil
}

func (s *ClientService) hashSecret(secret string) (string, error) {
	if s.hasher == nil {
		return "", errors.New("client secrets need a secret hasher")
	}
	return s.hasher.Hash(secret)
}

func (s *ClientService) List(ctx context.Context) ([]domain.Client, error) {
	return s.store.Clients().ListClients(ctx)
}

// Get reads the client straight from the store, whatever its status.
func (s *ClientService) Get(ctx context.Context, clientID string) (domain.Client, error) {
	c, err := s.store.Clients().GetClientByID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Client{}, newError(KindClientNotFound, nil, "client %q not found", clientID)
	}
	return c, err
}

func (s *ClientService) SetStatus(ctx context.Context, clientID string, status domain.ClientStatus) error {
	if _, err := domain.ParseClientStatus(string(status)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
	}
	err := s.store.Clients().UpdateClientStatus(ctx, clientID, status, s.clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindClientNotFound, nil, "client %q not found", clientID)
	}
	if err != nil {
		return err
	}
	s.registry.Invalidate(ctx, clientID)
	slogx.FromContext(ctx).Info("client status changed", "client_id", clientID, "status", status)
	return nil
}

// SetScopes replaces the client's scope set. Existing tokens keep their
// scopes; refresh exchanges pick up the new set.
func (s *ClientService) SetScopes(ctx context.Context, clientID string, scopes []string) error {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.Clients().GetClientByID(ctx, clientID)
		if err != nil {
			return err
		}
		c.Scopes = normalize(scopes)
		c.UpdatedAt = s.clock.Now()
		return tx.Clients().UpdateClient(ctx, c)
	})
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindClientNotFound, nil, "client %q not found", clientID)
	}
	if err != nil {
		return err
	}
	s.registry.Invalidate(ctx, clientID)
	return nil
}

func (s *ClientService) Delete(ctx context.Context, clientID string) error {
	err := s.store.Clients().DeleteClient(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindClientNotFound, nil, "client %q not found", clientID)
	}
	if err != nil {
		return err
	}
	s.registry.Invalidate(ctx, clientID)
	slogx.FromContext(ctx).Info("client deleted", "client_id", clientID)
	return nil
}

// ClientFile is the YAML layout accepted by ImportFile.
//
//	clients:
//	  - id: app1
//	    name: App One
//	    secret: s3cret      # omit for a public client
//	    scopes: [read, write]
//	    status: active
type ClientFile struct {
	Clients []ClientEntry `yaml:"clients"`
}

type ClientEntry struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Secret string   `yaml:"secret,omitempty"`
	Scopes []string `yaml:"scopes"`
	Status string   `yaml:"status"`
}

// ImportFile upserts every client in the YAML file at path, by ID, in one
// transaction. It returns the number of clients written.
func (s *ClientService) ImportFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var file ClientFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
	}
	return s.Import(ctx, file)
}

func (s *ClientService) Import(ctx context.Context, file ClientFile) (int, error) {
	clients := make([]domain.Client, 0, len(file.Clients))
	now := s.clock.Now()
	for i, e := range file.Clients {
		c, err := s.entryClient(e, now)
		if err != nil {
			return 0, fmt.Errorf("client #%d: %w", i+1, err)
		}
		clients = append(clients, c)
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		for _, c := range clients {
			existing, err := tx.Clients().GetClientByID(ctx, c.ID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				if err := tx.Clients().CreateClient(ctx, c); err != nil {
					return err
				}
			case err != nil:
				return err
			default:
				c.CreatedAt = existing.CreatedAt
				if err := tx.Clients().UpdateClient(ctx, c); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, c := range clients {
		s.registry.Invalidate(ctx, c.ID)
	}
	slogx.FromContext(ctx).Info("clients imported", "count", len(clients))
	return len(clients), nil
}

func (s *ClientService) entryClient(e ClientEntry, now time.Time) (domain.Client, error) {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		return domain.Client{}, fmt.Errorf("%w: id is required", ErrInvalidClientConfig)
	}
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = id
	}
	status := domain.ClientActive
	if e.Status != "" {
		st, err := domain.ParseClientStatus(strings.ToLower(strings.TrimSpace(e.Status)))
		if err != nil {
			return domain.Client{}, fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
		}
		status = st
	}

	var hash string
	if e.Secret != "" {
		h, err := s.hashSecret(e.Secret)
		if err != nil {
			return domain.Client{}, err
		}
		hash = h
	}

	return domain.Client{
		ID:         id,
		Name:       name,
		SecretHash: hash,
		Scopes:     normalize(e.Scopes),
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
