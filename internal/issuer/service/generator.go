package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/pkg/slogx"
)

const tracerName = "github.com/aussiebroadwan/issuer/internal/issuer/service"

// Generator is the entry point for password-grant issuance: it resolves the
// client, builds the request and issues the pair.
type Generator struct {
	registry ClientResolver
	builder  RequestBuilder
	issuer   TokenIssuer
	tracer   trace.Tracer
	metrics  *Metrics
}

type GeneratorOption func(*Generator)

// WithTracerProvider sets where spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) GeneratorOption {
	return func(g *Generator) { g.tracer = tp.Tracer(tracerName) }
}

func WithGeneratorMetrics(m *Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

func NewGenerator(registry ClientResolver, builder RequestBuilder, issuer TokenIssuer, opts ...GeneratorOption) *Generator {
	g := &Generator{registry: registry, builder: builder, issuer: issuer}
	for _, o := range opts {
		o(g)
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	return g
}

// Generate issues a token pair for an already authenticated principal.
// Errors are *Error values; no token material accompanies an error.
func (g *Generator) Generate(ctx context.Context, principal domain.Principal, clientID string) (domain.TokenResponse, error) {
	ctx, span := g.tracer.Start(ctx, "issuer.Generate", trace.WithAttributes(
		attribute.String("oauth.client_id", clientID),
		attribute.String("oauth.grant_type", string(domain.GrantPassword)),
	))
	defer span.End()
	ctx = slogx.WithClient(ctx, clientID, principal.Subject)

	start := time.Now()
	resp, err := g.generate(ctx, principal, clientID)
	g.metrics.observeIssue(time.Since(start).Seconds())

	if err != nil {
		kind := KindOf(err)
		g.metrics.issued(string(kind))
		span.SetAttributes(attribute.String("issuer.outcome", string(kind)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		slogx.FromContext(ctx).Info("token issuance failed", slog.String("kind", string(kind)))
		return domain.TokenResponse{}, err
	}

	g.metrics.issued("ok")
	span.SetAttributes(
		attribute.String("issuer.outcome", "ok"),
		attribute.String("oauth.scope", resp.Scope),
	)
	slogx.FromContext(ctx).Info("token issued")
	return resp, nil
}

func (g *Generator) generate(ctx context.Context, principal domain.Principal, clientID string) (domain.TokenResponse, error) {
	client, err := g.registry.Resolve(ctx, clientID)
	if err != nil {
		return domain.TokenResponse{}, err
	}

	authz, err := g.builder.Build(principal, client)
	if err != nil {
		return domain.TokenResponse{}, err
	}

	access, refresh, err := g.issuer.Issue(ctx, authz)
	if err != nil {
		return domain.TokenResponse{}, err
	}
	return domain.NewTokenResponse(access, refresh, access.IssuedAt), nil
}
