// Package publish delivers readings from the poller to the output file and the
// optional republish targets.
package publish

import (
	"context"

	"github.com/kjstillabower/wx-station-poller/internal/models"
)

// Publisher delivers one reading to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, r models.Reading) error
}
