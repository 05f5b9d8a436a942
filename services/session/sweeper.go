package session

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const (
	defaultSweepInterval = 30 * time.Minute
	defaultMaxAge        = 2 * time.Hour
)

var (
	sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "casegen",
		Subsystem: "sessions",
		Name:      "swept_total",
		Help:      "Sessions removed by the periodic expiry sweep.",
	})
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "casegen",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Live sessions observed at the last sweep.",
	})
)

// Sweeper periodically expires old sessions and clears the store on shutdown.
type Sweeper struct {
	store    Repository
	interval time.Duration
	maxAge   time.Duration
	logger   zerolog.Logger
	onSweep  func(removed int)
}

// NewSweeper builds a Sweeper. Non-positive durations fall back to a 30 minute
// interval and a two hour max age. onSweep, when set, runs after every pass.
func NewSweeper(store Repository, interval, maxAge time.Duration, logger zerolog.Logger, onSweep func(removed int)) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.With().Str("component", "session-sweeper").Logger(),
		onSweep:  onSweep,
	}, nil
}

// Start sweeps on every tick until ctx is cancelled, then clears all sessions.
func (s *Sweeper) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("nil sweeper")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cleared := s.store.Clear()
			activeSessions.Set(0)
			s.logger.Info().Int("cleared", cleared).Msg("sessions cleared on shutdown")
			return nil
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce runs a single expiry pass and returns the number of removed sessions.
func (s *Sweeper) SweepOnce() int {
	removed := s.store.Sweep(s.maxAge)
	sweptTotal.Add(float64(removed))
	activeSessions.Set(float64(s.store.Len()))

	s.logger.Info().
		Int("removed", removed).
		Int("remaining", s.store.Len()).
		Dur("max_age", s.maxAge).
		Msg("session sweep complete")

	if s.onSweep != nil {
		s.onSweep(removed)
	}
	return removed
}
