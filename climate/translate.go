// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.

// Package climate translates thermostat intents (target temperature,
// presets, power) into device parameter batches, and digests raw device
// state into consumer-facing values.
package climate

import (
	"fmt"

	"github.com/IlyaSemenov/terneo-ha/wire"
)

// Preset is the user-facing name of a device management type.
type Preset string

const (
	PresetSchedule  Preset = "schedule"
	PresetManual    Preset = "manual"
	PresetAway      Preset = "away"
	PresetTemporary Preset = "temporary"
)

// PresetOf maps a reported management type to its preset name, empty when
// unknown.
func PresetOf(m wire.ManagementType) Preset {
	switch m {
	case wire.ManagementSchedule:
		return PresetSchedule
	case wire.ManagementManual:
		return PresetManual
	case wire.ManagementAway:
		return PresetAway
	case wire.ManagementTemporary:
		return PresetTemporary
	default:
		return ""
	}
}

// TargetTemperature builds the batch that sets a target temperature, given
// the device's current management and control types.
//
// A manual setpoint only takes effect under manual management, so when the
// device is in schedule (or temporary) management the batch also carries the
// switch to manual; the device applies both together since they arrive in
// one request. Under away management the away setpoint is written instead
// and the management type is left alone.
func TargetTemperature(
	management wire.ManagementType,
	control wire.ControlType,
	celsius float64,
) wire.ParameterSet {
	target := int(celsius)

	if management == wire.ManagementAway {
		if control == wire.ControlAir {
			return wire.ParameterSet{wire.ParamAwayAirTemp: target}
		}
		return wire.ParameterSet{wire.ParamAwayFloorTemp: target}
	}

	params := wire.ParameterSet{}
	if management != wire.ManagementManual {
		params[wire.ParamMode] = int(wire.ModeManual)
	}
	if control == wire.ControlAir {
		params[wire.ParamManualAir] = target
	} else {
		params[wire.ParamManualFloorTemp] = target
	}
	return params
}

// PresetParameters builds the batch that switches the device to the given
// preset. Away and temporary management cannot be entered by a bare mode
// write (away needs a programmed window, temporary only arises on the
// device itself), so both fall back to manual.
func PresetParameters(p Preset) (wire.ParameterSet, error) {
	switch p {
	case PresetSchedule:
		return wire.ParameterSet{wire.ParamMode: int(wire.ModeSchedule)}, nil
	case PresetManual, PresetAway, PresetTemporary:
		return wire.ParameterSet{wire.ParamMode: int(wire.ModeManual)}, nil
	default:
		return nil, fmt.Errorf("unknown preset %q", p)
	}
}

// PowerParameters builds the batch that turns the thermostat on or off. The
// device models this as a power-off parameter, so the sense is inverted
// here.
func PowerParameters(on bool) wire.ParameterSet {
	return wire.ParameterSet{wire.ParamPowerOff: !on}
}
