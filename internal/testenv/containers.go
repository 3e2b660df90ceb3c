// Package testenv starts throwaway backing services for integration tests.
// Tests using it are skipped under -short or when no Docker daemon is
// reachable.
package testenv

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Service describes a started container.
type Service struct {
	Host string
	Port string
}

// Addr returns host:port.
func (s Service) Addr() string { return s.Host + ":" + s.Port }

func start(t *testing.T, req testcontainers.ContainerRequest, port string) Service {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("container %s unavailable: %v", req.Image, err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(context.Background())
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return Service{Host: host, Port: mapped.Port()}
}

// Redis starts redis and returns its address.
func Redis(t *testing.T) Service {
	return start(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}, "6379/tcp")
}

// Postgres starts postgres and returns a connection URL.
func Postgres(t *testing.T) string {
	svc := start(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "issuer",
			"POSTGRES_PASSWORD": "issuer",
			"POSTGRES_DB":       "issuer",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")
	return fmt.Sprintf("postgres://issuer:issuer@%s/issuer?sslmode=disable", svc.Addr())
}

// Mongo starts mongod and returns a connection URI.
func Mongo(t *testing.T) string {
	svc := start(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
	}, "27017/tcp")
	return "mongodb://" + svc.Addr()
}
