package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/issuer/internal/issuer/store"
	"github.com/aussiebroadwan/issuer/pkg/clock"
)

// DefaultHousekeepingInterval is used when no interval is configured.
const DefaultHousekeepingInterval = time.Hour

// HousekeepingService periodically deletes expired refresh tokens and
// signing keys past their verification grace period.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration
	Clock    clock.Clock
	Metrics  *Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// Sweep reports what one cleanup pass removed.
type Sweep struct {
	RefreshTokens int64
	SigningKeys   int64
}

func NewHousekeepingService(s store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	return &HousekeepingService{
		Store:    s,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then every Interval until Stop.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until an in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs one cleanup pass. A failure in one table does not stop
// the other; the first error is returned.
func (s *HousekeepingService) RunOnce(ctx context.Context) (Sweep, error) {
	now := clock.Or(s.Clock).Now()
	var (
		sweep    Sweep
		firstErr error
	)

	n, err := s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", "error", err)
		firstErr = err
	} else {
		sweep.RefreshTokens = n
		s.Metrics.swept("refresh_token", n)
	}

	n, err = s.Store.SigningKeys().DeleteExpiredSigningKeys(ctx, now)
	if err != nil {
		s.Logger.Error("failed to delete expired signing keys", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	} else {
		sweep.SigningKeys = n
		s.Metrics.swept("signing_key", n)
	}

	s.Logger.Info("housekeeping cleanup completed",
		"refresh_tokens", sweep.RefreshTokens, "signing_keys", sweep.SigningKeys)
	return sweep, firstErr
}
