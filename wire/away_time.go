// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package wire

import (
	"time"

	"github.com/relvacode/iso8601"
)

// The device transmits away start/end times as integer seconds elapsed since
// 2000-01-01T00:00:00 on its own wall clock, not the Unix epoch. Conversions
// deliberately use wall-clock arithmetic so a DST transition between the
// epoch and the target time does not shift the encoded value.
var awayEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// AwaySeconds encodes a wall-clock time in the device's away-time form.
func AwaySeconds(t time.Time) int64 {
	wall := time.Date(
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), 0,
		time.UTC,
	)
	return int64(wall.Sub(awayEpoch) / time.Second)
}

// AwayTime decodes the device's away-time form into a wall-clock reading in
// the given location (time.Local when nil).
func AwayTime(sec int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	wall := awayEpoch.Add(time.Duration(sec) * time.Second)
	return time.Date(
		wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), 0,
		loc,
	)
}

// ParseAwayTime parses an ISO 8601 timestamp as used by configuration and
// command surfaces for away windows.
func ParseAwayTime(s string) (time.Time, error) {
	return iso8601.ParseString(s)
}
