package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/wx-station-poller/internal/models"
	"github.com/kjstillabower/wx-station-poller/internal/observability"
)

// DefaultPublishTimeout bounds a single delivery to a single publisher.
const DefaultPublishTimeout = 5 * time.Second

// Dispatcher is the single consumer of the reading queue. Each reading goes to
// every publisher in registration order before the next one is taken.
type Dispatcher struct {
	publishers []Publisher
	timeout    time.Duration
	logger     *zap.Logger
}

// NewDispatcher returns a Dispatcher over publishers. A zero timeout uses DefaultPublishTimeout.
func NewDispatcher(logger *zap.Logger, timeout time.Duration, publishers ...Publisher) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Dispatcher{publishers: publishers, timeout: timeout, logger: logger}
}

// Run delivers readings until in is closed, so everything queued before
// shutdown is still written out.
func (d *Dispatcher) Run(in <-chan models.Reading) {
	for r := range in {
		_ = d.Dispatch(r)
	}
	d.logger.Debug("reading queue drained")
}

// Dispatch delivers r to every publisher. A failing publisher does not stop
// the others; all failures are joined into the returned error.
func (d *Dispatcher) Dispatch(r models.Reading) error {
	var errs []error
	delivered := false
	for _, p := range d.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := p.Publish(ctx, r)
		cancel()
		if err != nil {
			observability.PublishTotal.WithLabelValues(p.Name(), "error").Inc()
			d.logger.Warn("publish failed",
				zap.String("publisher", p.Name()),
				zap.String("reading", r.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		delivered = true
		observability.PublishTotal.WithLabelValues(p.Name(), "success").Inc()
	}
	if delivered {
		observability.LastReadingTimestamp.Set(float64(r.Timestamp.Unix()))
		d.logger.Info("reading published", zap.String("reading", r.String()))
	}
	return errors.Join(errs...)
}
