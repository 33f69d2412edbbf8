package publish

import (
	"time"

	"github.com/kjstillabower/wx-station-poller/internal/models"
)

var testTime = time.Date(2024, 3, 9, 19, 5, 7, 0, time.UTC)

func testReading(wind int) models.Reading {
	return models.Reading{
		Timestamp:                testTime,
		OutsideTemperature:       "84.4",
		WindSpeedMph:             wind,
		WindDirectionDegrees:     102,
		WindGustSpeedMph:         12,
		WindGustDirectionDegrees: 83,
		OutsideHumidity:          88,
	}
}

const testRecord = `{"t":"2024-03-09T19:05:07Z","f":"84.4","w":11,"d":102,"g":12,"gd":83,"h":88}`
