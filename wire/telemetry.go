// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package wire

import (
	"strconv"
	"strings"
)

type (
	// Group names a telemetry bucket in the polling response.
	Group string

	// Key addresses one value within a telemetry frame.
	Key struct {
		Group Group
		Index int
	}

	// TelemetryFrame is the decoded flat telemetry document of one poll. A
	// frame is replaced wholesale each cycle; a key missing after a poll
	// means unknown this cycle, not unchanged.
	TelemetryFrame map[Key]any
)

const (
	GroupTemperature Group = "t"
	GroupModes       Group = "m"
	GroupFlags       Group = "f"
	GroupOther       Group = "o"
	GroupParams      Group = "par"
	GroupExtraTemp   Group = "te"
)

// Temperature indices (group t). Raw values are sixteenths of a degree.
const (
	TempOverheat = 0
	TempFloor    = 1
	TempAir      = 2
	TempSetpoint = 5
	TempMCU      = 7
)

// Mode indices (group m).
const (
	ModeControlType    = 0
	ModeManagementType = 1
	ModeSchedulePeriod = 2
	ModeBlockType      = 3
	ModeHeatingMode    = 5
)

// Flag indices (group f).
const (
	FlagHeating           = 0
	FlagFloorLimit        = 2
	FlagFloorSensorBreak  = 3
	FlagFloorSensorShort  = 4
	FlagAirSensorBreak    = 5
	FlagAirSensorShort    = 6
	FlagPreHeating        = 7
	FlagWindowOpen        = 8
	FlagOverheat          = 9
	FlagClockIssues       = 11
	FlagNoOverheatControl = 12
	FlagProportionalMode  = 13
	FlagDigitalFloorSense = 14
	FlagPowerOff          = 16
)

// Other indices (group o).
const (
	OtherWifiSignal   = 0
	OtherRebootReason = 1
)

// temperatureScale converts raw telemetry temperatures to degrees Celsius.
// Fixed by the firmware encoding; changing it is a compatibility break.
const temperatureScale = 16.0

// DecodeTelemetry converts the raw flat document (already stripped of the
// "sn" key) into a frame. Keys split on the first dot into group and index;
// keys that do not fit the "<group>.<index>" shape are dropped. Numeric
// values normalize to int64, numeric-looking strings are opportunistically
// parsed, anything else stays a string.
func DecodeTelemetry(raw map[string]any) TelemetryFrame {
	frame := make(TelemetryFrame, len(raw))
	for k, v := range raw {
		group, index, ok := splitKey(k)
		if !ok {
			continue
		}
		frame[Key{group, index}] = coerceTelemetry(v)
	}
	return frame
}

// Value returns the raw coerced value at (group, index).
func (f TelemetryFrame) Value(g Group, index int) (any, bool) {
	v, ok := f[Key{g, index}]
	return v, ok
}

// Int returns the value at (group, index) as an integer.
func (f TelemetryFrame) Int(g Group, index int) (int64, bool) {
	switch v := f[Key{g, index}].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// TemperatureCelsius converts a temperature-group value to degrees Celsius.
func (f TelemetryFrame) TemperatureCelsius(index int) (float64, bool) {
	switch v := f[Key{GroupTemperature, index}].(type) {
	case int64:
		return float64(v) / temperatureScale, true
	case float64:
		return v / temperatureScale, true
	default:
		return 0, false
	}
}

// Flag reports a flag-group value as a boolean (nonzero means set).
func (f TelemetryFrame) Flag(index int) (bool, bool) {
	v, ok := f.Int(GroupFlags, index)
	return v != 0, ok
}

// Mode returns a mode-group enumerant.
func (f TelemetryFrame) Mode(index int) (int, bool) {
	v, ok := f.Int(GroupModes, index)
	return int(v), ok
}

// Clone returns a copy of the frame.
func (f TelemetryFrame) Clone() TelemetryFrame {
	if f == nil {
		return nil
	}
	out := make(TelemetryFrame, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func splitKey(k string) (Group, int, bool) {
	group, index, found := strings.Cut(k, ".")
	if !found || group == "" {
		return "", 0, false
	}
	i, err := strconv.Atoi(index)
	if err != nil {
		return "", 0, false
	}
	return Group(group), i, true
}

func coerceTelemetry(v any) any {
	switch v := v.(type) {
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		return v
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
		return v
	default:
		return v
	}
}
