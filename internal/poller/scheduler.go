package poller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/wx-station-poller/internal/circuitbreaker"
	"github.com/kjstillabower/wx-station-poller/internal/observability"
	"github.com/kjstillabower/wx-station-poller/internal/station"
	"github.com/kjstillabower/wx-station-poller/internal/traffic"
)

// DefaultInterval is the delay between the end of one cycle and the start of the next.
const DefaultInterval = time.Second

// SchedulerConfig configures a Scheduler. Breaker and Outcomes are optional.
type SchedulerConfig struct {
	Interval time.Duration
	Breaker  *circuitbreaker.CircuitBreaker
	Outcomes *traffic.Tracker
}

// Scheduler runs cycles one at a time with a fixed delay between them.
// A failed cycle is logged and the schedule continues.
type Scheduler struct {
	cycle    *Cycle
	sink     Sink
	interval time.Duration
	breaker  *circuitbreaker.CircuitBreaker
	outcomes *traffic.Tracker
	logger   *zap.Logger
}

// NewScheduler returns a Scheduler feeding sink from cycle.
func NewScheduler(cycle *Cycle, sink Sink, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cycle:    cycle,
		sink:     sink,
		interval: cfg.Interval,
		breaker:  cfg.Breaker,
		outcomes: cfg.Outcomes,
		logger:   logger,
	}
}

// Run starts the first cycle immediately and keeps polling until ctx is done.
// A cycle in flight when ctx is cancelled finishes (socket operations are
// deadline-bounded) before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("poll scheduler started", zap.Duration("interval", s.interval))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("poll scheduler stopped")
			return nil
		case <-timer.C:
		}
		s.RunOnce(ctx)
		timer.Reset(s.interval)
	}
}

// RunOnce runs a single cycle through the breaker, if any, and records the
// outcome. ran is false when the breaker skipped the cycle or ctx was done.
func (s *Scheduler) RunOnce(ctx context.Context) (res Result, ran bool) {
	if s.breaker == nil {
		res = s.cycle.Run(ctx, s.sink)
		s.report(res)
		return res, true
	}

	err := s.breaker.Call(ctx, func() error {
		res = s.cycle.Run(ctx, s.sink)
		ran = true
		return res.Err
	})
	if !ran {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			observability.PollCyclesTotal.WithLabelValues("skipped").Inc()
			if s.outcomes != nil {
				s.outcomes.RecordSkipped()
			}
			s.logger.Debug("poll cycle skipped, circuit open")
		}
		return res, false
	}
	s.report(res)
	return res, true
}

func (s *Scheduler) report(res Result) {
	if res.Err == nil {
		if s.outcomes != nil {
			s.outcomes.RecordSuccess()
		}
		s.logger.Debug("poll cycle complete",
			zap.String("cycle_id", res.ID),
			zap.Int("received", res.Received),
			zap.Int("published", res.Published),
			zap.Int("suppressed", res.Suppressed),
			zap.Duration("duration", res.Duration),
		)
		return
	}

	category := station.CategorizeError(res.Err)
	if s.outcomes != nil {
		s.outcomes.RecordError(string(category))
	}
	s.logger.Warn("poll cycle failed",
		zap.String("cycle_id", res.ID),
		zap.String("category", string(category)),
		zap.Int("received", res.Received),
		zap.Int("published", res.Published),
		zap.Duration("duration", res.Duration),
		zap.Error(res.Err),
	)
}
