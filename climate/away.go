// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package climate

import (
	"fmt"
	"time"

	"github.com/IlyaSemenov/terneo-ha/wire"
)

// AwaySpan describes a scheduled away window, with optional away setpoints
// carried in the same batch.
type AwaySpan struct {
	Start time.Time
	End   time.Time

	AirTemperature   *int
	FloorTemperature *int
}

// ParseAwaySpan builds a span from ISO 8601 start and end timestamps, as
// accepted by command surfaces.
func ParseAwaySpan(start, end string) (AwaySpan, error) {
	from, err := wire.ParseAwayTime(start)
	if err != nil {
		return AwaySpan{}, fmt.Errorf("away start: %w", err)
	}
	to, err := wire.ParseAwayTime(end)
	if err != nil {
		return AwaySpan{}, fmt.Errorf("away end: %w", err)
	}
	return AwaySpan{Start: from, End: to}, nil
}

// Validate rejects inverted windows before they reach a device.
func (s AwaySpan) Validate() error {
	if !s.End.After(s.Start) {
		return fmt.Errorf("away window ends %s, before it starts %s",
			s.End.Format(time.RFC3339), s.Start.Format(time.RFC3339))
	}
	return nil
}

// Parameters renders the span as one parameter batch using the device's
// 2000-01-01 epoch encoding.
func (s AwaySpan) Parameters() wire.ParameterSet {
	params := wire.ParameterSet{
		wire.ParamStartAwayTime: wire.AwaySeconds(s.Start),
		wire.ParamEndAwayTime:   wire.AwaySeconds(s.End),
	}
	if s.AirTemperature != nil {
		params[wire.ParamAwayAirTemp] = *s.AirTemperature
	}
	if s.FloorTemperature != nil {
		params[wire.ParamAwayFloorTemp] = *s.FloorTemperature
	}
	return params
}
