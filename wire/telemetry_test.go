// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package wire_test

import (
	"testing"

	"github.com/IlyaSemenov/terneo-ha/wire"
	"github.com/stretchr/testify/require"
)

func TestDecodeTelemetryTemperatures(t *testing.T) {
	frame := wire.DecodeTelemetry(map[string]any{
		"t.1": float64(400),
		"t.2": "368",
		"t.5": float64(360),
	})

	floor, ok := frame.TemperatureCelsius(wire.TempFloor)
	require.True(t, ok)
	require.Equal(t, 25.0, floor)

	air, ok := frame.TemperatureCelsius(wire.TempAir)
	require.True(t, ok)
	require.Equal(t, 23.0, air)

	setpoint, ok := frame.TemperatureCelsius(wire.TempSetpoint)
	require.True(t, ok)
	require.Equal(t, 22.5, setpoint)

	_, ok = frame.TemperatureCelsius(wire.TempMCU)
	require.False(t, ok, "absent index must report not-ok")
}

func TestDecodeTelemetryFlagsAndModes(t *testing.T) {
	frame := wire.DecodeTelemetry(map[string]any{
		"f.0":  "1",
		"f.16": float64(0),
		"m.0":  float64(0),
		"m.1":  "3",
		"o.0":  float64(-52),
	})

	heating, ok := frame.Flag(wire.FlagHeating)
	require.True(t, ok)
	require.True(t, heating)

	powerOff, ok := frame.Flag(wire.FlagPowerOff)
	require.True(t, ok)
	require.False(t, powerOff)

	_, ok = frame.Flag(wire.FlagWindowOpen)
	require.False(t, ok)

	control, ok := frame.Mode(wire.ModeControlType)
	require.True(t, ok)
	require.Equal(t, int(wire.ControlFloor), control)

	mgmt, ok := frame.Mode(wire.ModeManagementType)
	require.True(t, ok)
	require.Equal(t, int(wire.ManagementManual), mgmt)

	wifi, ok := frame.Int(wire.GroupOther, wire.OtherWifiSignal)
	require.True(t, ok)
	require.Equal(t, int64(-52), wifi)
}

func TestDecodeTelemetryKeyShapes(t *testing.T) {
	frame := wire.DecodeTelemetry(map[string]any{
		"te.0":  float64(128),
		"par.3": "2",
		"bogus": "1",
		"t.x":   "400",
		".5":    "400",
		"o.1":   "fw reset",
		"fw":    "2.4",
		"t.2":   float64(368),
	})

	extra, ok := frame.Int(wire.GroupExtraTemp, 0)
	require.True(t, ok)
	require.Equal(t, int64(128), extra)

	par, ok := frame.Int(wire.GroupParams, 3)
	require.True(t, ok)
	require.Equal(t, int64(2), par)

	reason, ok := frame.Value(wire.GroupOther, wire.OtherRebootReason)
	require.True(t, ok)
	require.Equal(t, "fw reset", reason, "non-numeric strings stay strings")

	// Keys that do not fit "<group>.<index>" are dropped.
	require.Len(t, frame, 4)
}

func TestTelemetryReplacedWholesale(t *testing.T) {
	first := wire.DecodeTelemetry(map[string]any{"t.1": float64(400), "f.0": "1"})
	second := wire.DecodeTelemetry(map[string]any{"t.1": float64(416)})

	_, ok := second.Flag(wire.FlagHeating)
	require.False(t, ok, "a key missing after a poll is unknown, not carried over")

	floor, ok := second.TemperatureCelsius(wire.TempFloor)
	require.True(t, ok)
	require.Equal(t, 26.0, floor)

	// The first frame is untouched.
	heating, ok := first.Flag(wire.FlagHeating)
	require.True(t, ok)
	require.True(t, heating)
}
