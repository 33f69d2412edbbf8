package poller

import (
	"context"

	"github.com/kjstillabower/wx-station-poller/internal/models"
)

// Sink receives publishable readings in the order they were read.
type Sink interface {
	Accept(ctx context.Context, r models.Reading) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r models.Reading) error

// Accept calls f.
func (f SinkFunc) Accept(ctx context.Context, r models.Reading) error {
	return f(ctx, r)
}

// ChannelSink hands readings to a single consumer over a buffered channel.
// Accept blocks while the buffer is full until ctx is done.
type ChannelSink chan models.Reading

// NewChannelSink returns a ChannelSink with the given buffer size.
func NewChannelSink(size int) ChannelSink {
	if size < 0 {
		size = 0
	}
	return make(ChannelSink, size)
}

// Accept enqueues r.
func (s ChannelSink) Accept(ctx context.Context, r models.Reading) error {
	select {
	case s <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth returns the number of queued readings.
func (s ChannelSink) Depth() int {
	return len(s)
}
