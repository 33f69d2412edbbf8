package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Reading is one decoded LOOP2 telemetry sample. Values are kept in station units.
type Reading struct {
	Timestamp                time.Time
	OutsideTemperature       string // tenths of a degree F rendered with one fractional digit
	WindSpeedMph             int
	WindDirectionDegrees     int // 0 means "no wind data"
	WindGustSpeedMph         int
	WindGustDirectionDegrees int // 0 means "no wind data"
	OutsideHumidity          int
}

// record fixes key names and order of the published line.
type record struct {
	T  string `json:"t"`
	F  string `json:"f"`
	W  int    `json:"w"`
	D  int    `json:"d"`
	G  int    `json:"g"`
	GD int    `json:"gd"`
	H  int    `json:"h"`
}

// TimestampString renders the capture time as RFC 3339 UTC with second precision.
func (r Reading) TimestampString() string {
	return r.Timestamp.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Publishable reports whether both wind direction fields carry real data.
// A sentinel on either field suppresses the whole reading.
func (r Reading) Publishable() bool {
	return validDirection(r.WindDirectionDegrees) && validDirection(r.WindGustDirectionDegrees)
}

func validDirection(d int) bool {
	return 0 < d && d < 361
}

// MarshalJSON emits the compact single-line record consumed downstream.
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{
		T:  r.TimestampString(),
		F:  r.OutsideTemperature,
		W:  r.WindSpeedMph,
		D:  r.WindDirectionDegrees,
		G:  r.WindGustSpeedMph,
		GD: r.WindGustDirectionDegrees,
		H:  r.OutsideHumidity,
	})
}

// String returns the serialized record, or an empty string if encoding fails.
func (r Reading) String() string {
	b, err := r.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}

// FormatTenths renders a value in tenths with exactly one fractional digit (675 -> "67.5", -5 -> "-0.5").
func FormatTenths(v int16) string {
	n := int(v)
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	return sign + strconv.Itoa(n/10) + "." + strconv.Itoa(n%10)
}
