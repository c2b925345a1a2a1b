// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package climate

import (
	"math"

	"github.com/IlyaSemenov/terneo-ha/wire"
)

type (
	// Toggle describes an on/off device feature backed by a boolean
	// parameter.
	Toggle struct {
		Name      string
		Parameter wire.ParameterID

		// Inverted flips the sense: the power toggle reads "on" while the
		// power-off parameter is clear.
		Inverted bool
	}

	// NumberControl describes a numeric device setting backed by an integer
	// parameter. Scale is wire units per display unit (10 for settings the
	// device stores in tenths of a degree).
	NumberControl struct {
		Name      string
		Parameter wire.ParameterID
		Min       float64
		Max       float64
		Scale     float64
	}
)

// Toggles lists the boolean features exposed to control surfaces.
var Toggles = []Toggle{
	{Name: "power", Parameter: wire.ParamPowerOff, Inverted: true},
	{Name: "child_lock", Parameter: wire.ParamChildrenLock},
	{Name: "night_brightness", Parameter: wire.ParamUseNightBright},
	{Name: "pre_heating", Parameter: wire.ParamPreControl},
	{Name: "window_open_detection", Parameter: wire.ParamWindowOpenControl},
	{Name: "inverted_relay", Parameter: wire.ParamNCContactControl},
}

// NumberControls lists the numeric settings exposed to control surfaces.
// Temperature limits follow the firmware ranges (floor settings up to 45,
// air settings up to 35); sensor corrections are stored in tenths of a
// degree, night brightness bounds in minutes of the day.
var NumberControls = []NumberControl{
	{Name: "manual_floor_temperature", Parameter: wire.ParamManualFloorTemp, Min: 5, Max: 45, Scale: 1},
	{Name: "manual_air_temperature", Parameter: wire.ParamManualAir, Min: 5, Max: 35, Scale: 1},
	{Name: "floor_temperature_min", Parameter: wire.ParamLowerLimit, Min: 5, Max: 45, Scale: 1},
	{Name: "floor_temperature_max", Parameter: wire.ParamUpperLimit, Min: 5, Max: 45, Scale: 1},
	{Name: "air_temperature_min", Parameter: wire.ParamLowerAirLimit, Min: 5, Max: 35, Scale: 1},
	{Name: "air_temperature_max", Parameter: wire.ParamUpperAirLimit, Min: 5, Max: 35, Scale: 1},
	{Name: "air_correction", Parameter: wire.ParamAirCorrection, Min: -9.9, Max: 9.9, Scale: 10},
	{Name: "floor_correction", Parameter: wire.ParamFloorCorrection, Min: -9.9, Max: 9.9, Scale: 10},
	{Name: "brightness", Parameter: wire.ParamBrightness, Min: 0, Max: 9, Scale: 1},
	{Name: "night_brightness_start", Parameter: wire.ParamNightBrightStart, Min: 0, Max: 1439, Scale: 1},
	{Name: "night_brightness_end", Parameter: wire.ParamNightBrightEnd, Min: 0, Max: 1439, Scale: 1},
	{Name: "hysteresis", Parameter: wire.ParamHysteresis, Min: 0.1, Max: 5, Scale: 10},
}

// FindToggle looks a toggle up by name.
func FindToggle(name string) (Toggle, bool) {
	for _, t := range Toggles {
		if t.Name == name {
			return t, true
		}
	}
	return Toggle{}, false
}

// FindNumberControl looks a numeric control up by name.
func FindNumberControl(name string) (NumberControl, bool) {
	for _, n := range NumberControls {
		if n.Name == name {
			return n, true
		}
	}
	return NumberControl{}, false
}

// State reads the toggle's current position from the parameter table.
func (t Toggle) State(params wire.ParameterSet) (bool, bool) {
	v, ok := params.Bool(t.Parameter)
	if !ok {
		return false, false
	}
	if t.Inverted {
		return !v, true
	}
	return v, true
}

// Parameters builds the batch that moves the toggle.
func (t Toggle) Parameters(on bool) wire.ParameterSet {
	if t.Inverted {
		on = !on
	}
	return wire.ParameterSet{t.Parameter: on}
}

// Value reads the setting in display units.
func (n NumberControl) Value(params wire.ParameterSet) (float64, bool) {
	v, ok := params.Int(n.Parameter)
	if !ok {
		return 0, false
	}
	return float64(v) / n.Scale, true
}

// Parameters builds the batch that updates the setting, clamped to the
// control's range and rounded to the nearest wire unit.
func (n NumberControl) Parameters(value float64) wire.ParameterSet {
	value = math.Min(math.Max(value, n.Min), n.Max)
	return wire.ParameterSet{
		n.Parameter: int(math.Round(value * n.Scale)),
	}
}
