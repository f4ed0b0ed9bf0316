package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"medisos/internal/config"
	"medisos/internal/metrics"
	"medisos/pkg/logger"

	"github.com/robfig/cron/v3"
)

// ExpiryScheduler periodically expires pending requests whose expires_at has
// passed. It goes through the same Expire path as a manual call, so nothing
// is pushed to either party.
type ExpiryScheduler struct {
	dispatch DispatchService
	cron     *cron.Cron
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *logger.Logger

	mu      sync.Mutex
	running bool
}

func NewExpiryScheduler(dispatch DispatchService, schedule string, m *metrics.Metrics, log *logger.Logger) (*ExpiryScheduler, error) {
	s := &ExpiryScheduler{
		dispatch: dispatch,
		cron:     cron.New(cron.WithParser(config.CronParser)),
		timeout:  30 * time.Second,
		metrics:  m,
		logger:   log.WithField("component", "expiry_scheduler"),
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	return s, nil
}

func (s *ExpiryScheduler) Start() {
	s.cron.Start()
	s.logger.Info("Expiry scheduler started")
}

// Stop waits for a sweep in progress to finish or ctx to end.
func (s *ExpiryScheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info("Expiry scheduler stopped")
}

func (s *ExpiryScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.Sweep(ctx, time.Now())
}

// Sweep runs one pass. Overlapping passes are skipped.
func (s *ExpiryScheduler) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.metrics.IncExpirySweep("skipped")
		return 0, nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	expired, err := s.dispatch.ExpireOverdue(ctx, now)
	if err != nil {
		s.metrics.IncExpirySweep("error")
		s.logger.WithError(err).WithField("expired", expired).Error("Expiry sweep failed")
		return expired, err
	}

	s.metrics.IncExpirySweep("ok")
	if expired > 0 {
		s.logger.WithField("expired", expired).Info("Expired overdue SOS requests")
	}
	return expired, nil
}
