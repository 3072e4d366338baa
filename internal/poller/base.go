// Package poller implements the periodic REST-history collectors that feed
// the event store: income (funding/rebates), transfers, converts,
// deposits/withdrawals, the market-data price cache, and the reconciliation
// trigger. Every poller shares the same cadence-gating and last-poll-time
// persistence, implemented once in Base and embedded by each concrete
// poller.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"alphaengine-core/internal/metrics"
	"alphaengine-core/internal/store"
	"alphaengine-core/pkg/types"
)

// Poller is implemented by every concrete poller. DoPoll is handed the
// "since" timestamp computed by the base runner (last_poll_time, or an
// overlap/backfill window on the first run) and returns the number of new
// events it appended.
type Poller interface {
	Name() string
	DoPoll(ctx context.Context, since time.Time) (eventsCreated int, err error)
}

// Base implements the should-poll gate, last_poll_time persistence, and
// mutual exclusion shared by every concrete poller. Concrete pollers embed
// Base and implement DoPoll.
type Base struct {
	PollerName string
	Configs    *store.ConfigStore

	mu           sync.Mutex
	running      bool
	lastPollTime time.Time
}

// ConfigKey is the config_store key this poller's last_poll_time is kept under.
func (b *Base) ConfigKey() string {
	return "poller_" + b.PollerName + "_last_poll"
}

// Initialize restores last_poll_time from config_store. Absent state means
// this is the poller's first run.
func (b *Base) Initialize(ctx context.Context) error {
	entry, err := b.Configs.Get(ctx, b.ConfigKey())
	if err != nil {
		b.lastPollTime = time.Time{}
		return nil // first run: no saved state is not an error
	}
	raw, ok := entry.Value["last_poll_time"].(string)
	if !ok || raw == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	b.lastPollTime = ts
	return nil
}

// ShouldPoll reports whether this poller is due and not already mid-run.
func (b *Base) ShouldPoll(interval time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return false
	}
	if b.lastPollTime.IsZero() {
		return true
	}
	return time.Since(b.lastPollTime) >= interval
}

// pollStartTime computes the "since" window: last_poll_time minus a 1-minute
// overlap, or now-1h on the very first run.
func (b *Base) pollStartTime() time.Time {
	if !b.lastPollTime.IsZero() {
		return b.lastPollTime.Add(-time.Minute)
	}
	return time.Now().UTC().Add(-time.Hour)
}

// saveLastPollTime persists last_poll_time to config_store.
func (b *Base) saveLastPollTime(ctx context.Context) error {
	if b.lastPollTime.IsZero() {
		return nil
	}
	_, err := b.Configs.Set(ctx, b.ConfigKey(), map[string]any{
		"last_poll_time": b.lastPollTime.Format(time.RFC3339),
	}, "system", nil)
	return err
}

// ErrAlreadyRunning is returned by Run when the poller's previous run hasn't
// finished yet.
var ErrAlreadyRunning = errors.New("poller: already running")

// Run executes one poll cycle against p, enforcing mutual exclusion and
// persisting last_poll_time on success.
func (b *Base) Run(ctx context.Context, p Poller, logger *slog.Logger, m *metrics.Metrics) (int, error) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return 0, ErrAlreadyRunning
	}
	b.running = true
	b.mu.Unlock()

	start := time.Now()
	since := b.pollStartTime()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	m.PollerRuns.WithLabelValues(p.Name()).Inc()

	created, err := p.DoPoll(ctx, since)
	if err != nil {
		m.PollerErrors.WithLabelValues(p.Name()).Inc()
		logger.Error("poller failed", "poller", p.Name(), "error", err)
		return 0, err
	}

	b.lastPollTime = start
	if err := b.saveLastPollTime(ctx); err != nil {
		logger.Warn("poller failed to persist last_poll_time", "poller", p.Name(), "error", err)
	}

	if created > 0 {
		logger.Info("poller completed", "poller", p.Name(), "events_created", created, "duration", time.Since(start))
	} else {
		logger.Debug("poller completed, no new events", "poller", p.Name())
	}
	return created, nil
}

// Scheduler drives a set of pollers on cron-specified cadences via
// robfig/cron/v3, gated by each poller's own ShouldPoll check (so a slow
// poller run never overlaps a subsequent tick).
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger.With("component", "poller_scheduler"),
	}
}

// RegisteredPoller pairs a Poller with its Base for cadence gating and its
// cron spec for scheduling.
type RegisteredPoller struct {
	Poller   Poller
	Base     *Base
	CronSpec string
	Interval time.Duration
}

// Register schedules rp to run whenever its cron fires and ShouldPoll allows it.
func (s *Scheduler) Register(ctx context.Context, rp RegisteredPoller, m *metrics.Metrics) error {
	_, err := s.cron.AddFunc(rp.CronSpec, func() {
		if !rp.Base.ShouldPoll(rp.Interval) {
			return
		}
		if _, err := rp.Base.Run(ctx, rp.Poller, s.logger, m); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			s.logger.Error("scheduled poll failed", "poller", rp.Poller.Name(), "error", err)
		}
	})
	return err
}

// Start begins the cron scheduler. Non-blocking; returns immediately.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any in-flight job to return.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// ScopeKey builds an "exchange:venue:account" tag for scope. Base.ConfigKey
// does not use it: last_poll_time is keyed by poller name only.
func ScopeKey(scope types.Scope) string {
	return scope.Exchange + ":" + string(scope.Venue) + ":" + scope.Account
}
