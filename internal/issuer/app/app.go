// Package app wires configuration, storage, keys and services into a
// runnable issuer.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	issuerhttp "github.com/aussiebroadwan/issuer/internal/issuer/http"
	"github.com/aussiebroadwan/issuer/internal/issuer/service"
	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/internal/issuer/store/drivers/mongo"
	"github.com/aussiebroadwan/issuer/internal/issuer/store/drivers/postgres"
	"github.com/aussiebroadwan/issuer/internal/issuer/store/drivers/redis"
	"github.com/aussiebroadwan/issuer/internal/issuer/store/drivers/sqlite"
	"github.com/aussiebroadwan/issuer/pkg/cache"
	"github.com/aussiebroadwan/issuer/pkg/clock"
	"github.com/aussiebroadwan/issuer/pkg/cryptox"
	"github.com/aussiebroadwan/issuer/pkg/jwtx"
	"github.com/aussiebroadwan/issuer/pkg/slogx"
)

const ServiceName = "issuer"

// BuildVersion is overridden at link time with -ldflags "-X".
var BuildVersion = "v0.1.0"

// Options adjusts how New builds the Application.
type Options struct {
	// LogOutput receives log records. Defaults to stderr.
	LogOutput io.Writer

	// TraceOutput receives spans from the stdout exporter. Defaults to
	// stderr so CLI output on stdout stays parseable.
	TraceOutput io.Writer

	// Clock overrides the time source for every service.
	Clock clock.Clock
}

// Application holds the issuer's dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock

	db      store.Store
	cache   cache.Cache
	keys    *jwtx.KeyManager
	sealer  *cryptox.Sealer
	metrics *service.Metrics
	prom    *prometheus.Registry
	tracing trace.TracerProvider

	closers []func(context.Context) error

	Registry     *service.Registry
	Builder      *service.Builder
	Issuer       *service.Issuer
	Generator    *service.Generator
	Validator    *service.Validator
	Refresher    *service.Refresher
	Clients      *service.ClientService
	KeyRotation  *service.KeyRotationService
	Housekeeping *service.HousekeepingService

	server *http.Server
}

// New connects every backend named by cfg and builds the services. On error
// anything already opened is closed.
func New(ctx context.Context, cfg Config, opts Options) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	app := &Application{
		cfg:   cfg,
		clock: clock.Or(opts.Clock),
		logger: slogx.New(slogx.Config{
			Service: ServiceName,
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  opts.LogOutput,
		}),
	}

	traceOut := opts.TraceOutput
	if traceOut == nil {
		traceOut = os.Stderr
	}
	steps := []func(context.Context) error{
		func(ctx context.Context) error { return app.initTracing(ctx, traceOut) },
		app.initDatabase,
		app.initRefreshStore,
		app.initCache,
		app.initKeys,
		app.initServices,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = app.Close(context.Background())
			return nil, err
		}
	}
	app.initHTTP()
	return app, nil
}

func (app *Application) Logger() *slog.Logger         { return app.logger }
func (app *Application) Config() Config               { return app.cfg }
func (app *Application) KeyManager() *jwtx.KeyManager { return app.keys }
func (app *Application) Store() store.Store           { return app.db }
func (app *Application) Handler() http.Handler        { return app.server.Handler }

// Run serves the operational listener and housekeeping until ctx is
// cancelled or SIGINT/SIGTERM arrives, then shuts down gracefully.
func (app *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Housekeeping.Start()
	app.logger.Info("issuer starting", "port", app.cfg.Port, "version", BuildVersion)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutdown requested", "cause", context.Cause(gctx))
		return app.Shutdown()
	})
	return g.Wait()
}

// Shutdown stops the listener and housekeeping, then releases backends.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down issuer")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}
	app.Housekeeping.Stop()

	err := app.Close(ctx)
	if err != nil {
		app.logger.Error("error releasing resources", "error", err)
	}
	app.logger.Info("issuer stopped")
	return err
}

// Close releases backends in reverse order of opening. It is safe to call
// more than once.
func (app *Application) Close(ctx context.Context) error {
	var errs []error
	for _, c := range slices.Backward(app.closers) {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}

func (app *Application) onClose(fn func(context.Context) error) {
	app.closers = append(app.closers, fn)
}

func closeFn(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

func (app *Application) initTracing(ctx context.Context, out io.Writer) error {
	tp, shutdown, err := InitTracing(ctx, app.cfg, out)
	if err != nil {
		return err
	}
	app.tracing = tp
	app.onClose(shutdown)
	if app.cfg.TracingExporter != "none" {
		app.logger.Info("tracing enabled", "exporter", app.cfg.TracingExporter)
	}
	return nil
}

// initDatabase opens the SQL store and applies migrations.
func (app *Application) initDatabase(ctx context.Context) error {
	var (
		db  store.Store
		err error
	)
	switch app.cfg.StoreDriver {
	case "postgres":
		db, err = postgres.NewStore(ctx, app.cfg.DatabaseURL)
	default:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
		db, err = sqlite.NewStore(dsn)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", app.cfg.StoreDriver, err)
	}
	app.db = db
	app.onClose(closeFn(db))

	if err := db.ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	app.logger.Info("database migrations applied", "driver", app.cfg.StoreDriver)
	return nil
}

// refreshBackend is a refresh token store with its own connection.
type refreshBackend interface {
	store.RefreshTokens
	Ping(ctx context.Context) error
	Close() error
}

func (app *Application) initRefreshStore(ctx context.Context) error {
	var (
		backend refreshBackend
		err     error
	)
	switch app.cfg.RefreshStore {
	case "redis":
		backend, err = redis.Dial(ctx, app.cfg.RedisAddr, app.cfg.RedisPassword, app.cfg.RedisDB, redis.WithClock(app.clock))
	case "mongo":
		backend, err = mongo.Connect(ctx, app.cfg.MongoURI, app.cfg.MongoDatabase)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to connect %s refresh store: %w", app.cfg.RefreshStore, err)
	}
	app.onClose(closeFn(backend))
	app.db = store.WithRefreshTokens(app.db, backend)
	app.logger.Info("refresh tokens stored externally", "backend", app.cfg.RefreshStore)
	return nil
}

func (app *Application) initCache(ctx context.Context) error {
	c, err := cache.New(ctx, cache.Config{
		Driver:     app.cfg.CacheDriver,
		Addr:       app.cfg.RedisAddr,
		Password:   app.cfg.RedisPassword,
		DB:         app.cfg.RedisDB,
		Prefix:     ServiceName + ":cache:",
		DefaultTTL: app.cfg.CacheTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize %s cache: %w", app.cfg.CacheDriver, err)
	}
	app.cache = c
	app.onClose(closeFn(c))
	return nil
}

func (app *Application) initKeys(ctx context.Context) error {
	km, sealer, err := InitKeys(ctx, app.cfg, app.db, app.clock, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keys = km
	app.sealer = sealer
	return nil
}

// initServices builds the issuance pipeline and its supporting services.
func (app *Application) initServices(context.Context) error {
	pepper, err := cryptox.LoadOrCreatePepper(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}
	hasher := cryptox.NewSecretHasher(pepper)

	app.prom = prometheus.NewRegistry()
	app.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics, err = service.NewMetrics(app.prom)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	app.Registry = service.NewRegistry(app.db.Clients(),
		service.WithCache(app.cache, app.cfg.CacheTTL),
		service.WithSecretHasher(hasher),
		service.WithRegistryMetrics(app.metrics),
	)
	app.Builder = service.NewBuilder()
	app.Issuer = service.NewIssuer(app.keys, app.db.RefreshTokens(), service.IssuerConfig{
		Issuer:     app.cfg.Issuer,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
	},
		service.WithClock(app.clock),
		service.WithIssuerMetrics(app.metrics),
	)
	app.Generator = service.NewGenerator(app.Registry, app.Builder, app.Issuer,
		service.WithTracerProvider(app.tracing),
		service.WithGeneratorMetrics(app.metrics),
	)
	app.Validator = service.NewValidator(app.keys.Verifier())
	app.Refresher = service.NewRefresher(app.db, app.Registry, app.Builder, app.Issuer, app.clock, app.metrics)
	app.Clients = service.NewClientService(app.db, app.Registry, hasher, app.clock)

	rotation := &service.KeyRotationService{
		KeyManager:  app.keys,
		RSABits:     app.cfg.RSABits,
		GracePeriod: app.cfg.KeyGracePeriod,
		Clock:       app.clock,
	}
	if app.sealer != nil {
		rotation.Store = app.db
		rotation.Sealer = app.sealer
	}
	app.KeyRotation = rotation

	app.Housekeeping = service.NewHousekeepingService(app.db, app.logger, app.cfg.HousekeepingInterval)
	app.Housekeeping.Clock = app.clock
	app.Housekeeping.Metrics = app.metrics
	return nil
}

func (app *Application) initHTTP() {
	checks := map[string]issuerhttp.Check{
		"store": app.db.Ping,
		"cache": app.cache.Ping,
		"keys": func(context.Context) error {
			if !app.keys.IsReady() {
				return jwtx.ErrNoSigner
			}
			return nil
		},
	}
	if p, ok := app.db.RefreshTokens().(interface{ Ping(context.Context) error }); ok {
		checks["refresh_store"] = p.Ping
	}

	router := issuerhttp.NewRouter(app.keys.KeySet(), BuildVersion, checks, app.prom, app.logger)
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
