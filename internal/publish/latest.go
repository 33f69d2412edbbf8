package publish

import (
	"context"
	"sync"

	"github.com/kjstillabower/wx-station-poller/internal/models"
)

// Latest keeps the most recently published reading in memory for /latest.
type Latest struct {
	mu      sync.RWMutex
	reading models.Reading
	ok      bool
}

// NewLatest returns an empty Latest.
func NewLatest() *Latest {
	return &Latest{}
}

// Name implements Publisher.
func (l *Latest) Name() string { return "latest" }

// Publish stores r.
func (l *Latest) Publish(_ context.Context, r models.Reading) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reading = r
	l.ok = true
	return nil
}

// Get returns the stored reading; ok is false until the first Publish.
func (l *Latest) Get() (models.Reading, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reading, l.ok
}
