package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/wx-station-poller/internal/models"
	"github.com/kjstillabower/wx-station-poller/internal/observability"
	"github.com/kjstillabower/wx-station-poller/internal/station"
)

// Link is the station session a cycle drives. *station.Link implements it.
type Link interface {
	Open(ctx context.Context) error
	Request(count int) error
	GetReading() (models.Reading, error)
	Close() error
}

// LinkFactory returns a fresh, unopened Link for each cycle.
type LinkFactory func() Link

// StationLinks returns a LinkFactory that builds station links from cfg.
func StationLinks(cfg station.Config, logger *zap.Logger) LinkFactory {
	return func() Link { return station.NewLink(cfg, logger) }
}

// Result is the single terminal outcome of a cycle.
type Result struct {
	ID         string
	Started    time.Time
	Duration   time.Duration
	Received   int // readings decoded
	Published  int // readings accepted by the sink
	Suppressed int // readings dropped by the direction sentinel
	Err        error
}

// Status is the metric label for the outcome.
func (r Result) Status() string {
	if r.Err != nil {
		return "error"
	}
	return "success"
}

// Cycle runs one open-request-read-close exchange against the station.
type Cycle struct {
	newLink LinkFactory
	count   int
	logger  *zap.Logger
}

// NewCycle returns a Cycle that reads count packets per run.
func NewCycle(newLink LinkFactory, count int, logger *zap.Logger) (*Cycle, error) {
	if newLink == nil {
		return nil, errors.New("poller: link factory is required")
	}
	if count < 1 {
		return nil, fmt.Errorf("poller: readings per cycle must be >= 1, got %d", count)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cycle{newLink: newLink, count: count, logger: logger}, nil
}

// Run opens a link, requests the configured number of packets, then fetches
// that many readings in order. Publishable readings go to sink; the rest are
// counted as suppressed. The first error ends the cycle and later readings
// are not attempted. The link is closed exactly once on every path.
func (c *Cycle) Run(ctx context.Context, sink Sink) (res Result) {
	res = Result{ID: uuid.NewString(), Started: time.Now()}
	log := c.logger.With(zap.String("cycle_id", res.ID))

	link := c.newLink()
	defer func() {
		if err := link.Close(); err != nil {
			log.Debug("close station link", zap.Error(err))
		}
		res.Duration = time.Since(res.Started)
		record(res)
	}()

	if err := link.Open(ctx); err != nil {
		res.Err = err
		return res
	}
	if err := link.Request(c.count); err != nil {
		res.Err = err
		return res
	}

	for i := 1; i <= c.count; i++ {
		reading, err := link.GetReading()
		if err != nil {
			res.Err = fmt.Errorf("reading %d of %d: %w", i, c.count, err)
			return res
		}
		res.Received++

		if !reading.Publishable() {
			res.Suppressed++
			observability.ReadingsTotal.WithLabelValues("suppressed").Inc()
			log.Debug("reading suppressed",
				zap.Int("wind_direction", reading.WindDirectionDegrees),
				zap.Int("gust_direction", reading.WindGustDirectionDegrees),
			)
			continue
		}

		if err := sink.Accept(ctx, reading); err != nil {
			res.Err = fmt.Errorf("forward reading %d of %d: %w", i, c.count, err)
			return res
		}
		res.Published++
		observability.ReadingsTotal.WithLabelValues("published").Inc()
	}
	return res
}

func record(res Result) {
	status := res.Status()
	observability.PollCyclesTotal.WithLabelValues(status).Inc()
	observability.PollCycleDuration.WithLabelValues(status).Observe(res.Duration.Seconds())
	if res.Err != nil {
		observability.StationErrorsTotal.WithLabelValues(string(station.CategorizeError(res.Err))).Inc()
	}
}
