// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package climate

import (
	"time"

	"github.com/IlyaSemenov/terneo-ha/device"
	"github.com/IlyaSemenov/terneo-ha/wire"
)

// Action is what the thermostat is doing right now.
type Action string

const (
	ActionOff     Action = "off"
	ActionHeating Action = "heating"
	ActionIdle    Action = "idle"
)

// Default setpoint bounds used when the device does not report its limit
// parameters.
const (
	defaultMinTemp  = 5.0
	defaultMaxFloor = 45.0
	defaultMaxAir   = 35.0
)

// faultFlags are the telemetry flags surfaced as fault names on summaries.
var faultFlags = []struct {
	index int
	name  string
}{
	{wire.FlagFloorSensorBreak, "floor_sensor_break"},
	{wire.FlagFloorSensorShort, "floor_sensor_short"},
	{wire.FlagAirSensorBreak, "air_sensor_break"},
	{wire.FlagAirSensorShort, "air_sensor_short"},
	{wire.FlagOverheat, "overheat"},
	{wire.FlagClockIssues, "clock_issues"},
}

// ControlTypeOf reports which sensor the device regulates against, falling
// back to floor when telemetry does not say.
func ControlTypeOf(frame wire.TelemetryFrame) wire.ControlType {
	if mode, ok := frame.Mode(wire.ModeControlType); ok {
		return wire.ControlType(mode)
	}
	return wire.ControlFloor
}

// CurrentTemperature selects the reading that matches the control type: the
// air sensor under air or extended control, the floor sensor otherwise.
func CurrentTemperature(
	frame wire.TelemetryFrame,
	control wire.ControlType,
) (float64, bool) {
	if control == wire.ControlAir || control == wire.ControlExtended {
		return frame.TemperatureCelsius(wire.TempAir)
	}
	return frame.TemperatureCelsius(wire.TempFloor)
}

// TemperatureBounds returns the allowed setpoint range for the control type,
// read from the device's limit parameters with firmware defaults when
// absent.
func TemperatureBounds(
	params wire.ParameterSet,
	control wire.ControlType,
) (min, max float64) {
	lowerID, upperID := wire.ParamLowerLimit, wire.ParamUpperLimit
	min, max = defaultMinTemp, defaultMaxFloor
	if control == wire.ControlAir {
		lowerID, upperID = wire.ParamLowerAirLimit, wire.ParamUpperAirLimit
		max = defaultMaxAir
	}

	if v, ok := params.Int(lowerID); ok {
		min = float64(v)
	}
	if v, ok := params.Int(upperID); ok {
		max = float64(v)
	}
	return min, max
}

// PowerWatts converts the rated-power parameter to watts. The firmware
// encodes power in two ranges with a deliberate discontinuity between 150
// and 151; both branches are reproduced exactly.
func PowerWatts(params wire.ParameterSet) (int64, bool) {
	p, ok := params.Int(wire.ParamPower)
	if !ok {
		return 0, false
	}
	if p <= 150 {
		return p * 10, true
	}
	return 1500 + p*20, true
}

// HysteresisCelsius converts the hysteresis parameter (tenths of a degree)
// to degrees.
func HysteresisCelsius(params wire.ParameterSet) (float64, bool) {
	v, ok := params.Int(wire.ParamHysteresis)
	if !ok {
		return 0, false
	}
	return float64(v) / 10, true
}

// WifiSignalDBM reads the WiFi signal strength telemetry.
func WifiSignalDBM(frame wire.TelemetryFrame) (int64, bool) {
	return frame.Int(wire.GroupOther, wire.OtherWifiSignal)
}

// CurrentAction derives what the thermostat is doing from its flags. A
// powered-off device reports off even if a stale heating flag lingers.
func CurrentAction(frame wire.TelemetryFrame) Action {
	if off, _ := frame.Flag(wire.FlagPowerOff); off {
		return ActionOff
	}
	if heating, _ := frame.Flag(wire.FlagHeating); heating {
		return ActionHeating
	}
	return ActionIdle
}

// Summary is the consumer-facing digest of one device, shaped for JSON
// publication. Optional readings are pointers so absent values are omitted
// rather than reported as zero.
type Summary struct {
	SerialNumber string    `json:"sn"`
	Host         string    `json:"host"`
	Available    bool      `json:"available"`
	UpdatedAt    time.Time `json:"updated_at"`

	Action      Action `json:"action"`
	Preset      Preset `json:"preset,omitempty"`
	ControlType string `json:"control_type,omitempty"`
	Heating     bool   `json:"heating"`

	CurrentTemperature *float64 `json:"current_temperature,omitempty"`
	FloorTemperature   *float64 `json:"floor_temperature,omitempty"`
	AirTemperature     *float64 `json:"air_temperature,omitempty"`
	TargetTemperature  *float64 `json:"target_temperature,omitempty"`
	MinTemperature     float64  `json:"min_temperature"`
	MaxTemperature     float64  `json:"max_temperature"`

	PowerWatts    *int64   `json:"power_watts,omitempty"`
	WifiSignalDBM *int64   `json:"wifi_signal_dbm,omitempty"`
	Faults        []string `json:"faults,omitempty"`
}

// Summarize digests a device snapshot.
func Summarize(snap device.Snapshot) Summary {
	control := ControlTypeOf(snap.Telemetry)

	s := Summary{
		SerialNumber: snap.SerialNumber,
		Host:         snap.Host,
		Available:    snap.Available,
		UpdatedAt:    snap.UpdatedAt,
		Action:       CurrentAction(snap.Telemetry),
	}

	if mode, ok := snap.Telemetry.Mode(wire.ModeManagementType); ok {
		s.Preset = PresetOf(wire.ManagementType(mode))
	}
	if _, ok := snap.Telemetry.Mode(wire.ModeControlType); ok {
		s.ControlType = control.String()
	}

	if current, ok := CurrentTemperature(snap.Telemetry, control); ok {
		s.CurrentTemperature = &current
	}
	s.FloorTemperature = optTemperature(snap.Telemetry, wire.TempFloor)
	s.AirTemperature = optTemperature(snap.Telemetry, wire.TempAir)
	s.TargetTemperature = optTemperature(snap.Telemetry, wire.TempSetpoint)
	s.MinTemperature, s.MaxTemperature = TemperatureBounds(snap.Parameters, control)

	s.Heating = s.Action == ActionHeating

	if watts, ok := PowerWatts(snap.Parameters); ok {
		s.PowerWatts = &watts
	}
	if signal, ok := WifiSignalDBM(snap.Telemetry); ok {
		s.WifiSignalDBM = &signal
	}

	for _, fault := range faultFlags {
		if set, _ := snap.Telemetry.Flag(fault.index); set {
			s.Faults = append(s.Faults, fault.name)
		}
	}
	return s
}

func optTemperature(frame wire.TelemetryFrame, index int) *float64 {
	if v, ok := frame.TemperatureCelsius(index); ok {
		return &v
	}
	return nil
}
