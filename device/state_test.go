// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IlyaSemenov/terneo-ha/wire"
)

func TestStateLifecycle(t *testing.T) {
	s := NewState("192.168.1.50", "123456")
	require.False(t, s.Available())
	require.Zero(t, s.UpdatedAt())
	require.Nil(t, s.Telemetry())
	require.Nil(t, s.Parameters())

	frame := wire.TelemetryFrame{
		{Group: wire.GroupTemperature, Index: wire.TempAir}: int64(368),
		{Group: wire.GroupFlags, Index: wire.FlagHeating}:   int64(1),
	}
	s.UpdateTelemetry(frame)
	require.True(t, s.Available())
	require.False(t, s.UpdatedAt().IsZero())

	air, ok := s.TemperatureCelsius(wire.TempAir)
	require.True(t, ok)
	require.Equal(t, 23.0, air)

	// A failed poll drops availability but keeps the last good data.
	s.MarkUnreachable()
	require.False(t, s.Available())
	air, ok = s.TemperatureCelsius(wire.TempAir)
	require.True(t, ok)
	require.Equal(t, 23.0, air)
}

func TestStateTypedAccessors(t *testing.T) {
	s := NewState("192.168.1.50", "123456")
	s.UpdateTelemetry(wire.TelemetryFrame{
		{Group: wire.GroupModes, Index: wire.ModeControlType}:    int64(1),
		{Group: wire.GroupModes, Index: wire.ModeManagementType}: int64(4),
	})

	control, ok := s.ControlType()
	require.True(t, ok)
	require.Equal(t, wire.ControlAir, control)

	management, ok := s.ManagementType()
	require.True(t, ok)
	require.Equal(t, wire.ManagementAway, management)

	// Missing indexes report absence, not zero values.
	empty := NewState("192.168.1.51", "654321")
	_, ok = empty.ControlType()
	require.False(t, ok)
}

func TestStateReplacesDocumentsWholesale(t *testing.T) {
	s := NewState("192.168.1.50", "123456")

	first := wire.TelemetryFrame{
		{Group: wire.GroupTemperature, Index: wire.TempAir}: int64(368),
		{Group: wire.GroupFlags, Index: wire.FlagHeating}:   int64(1),
	}
	s.UpdateTelemetry(first)

	// The next frame omits the heating flag; the old value must not leak
	// through.
	s.UpdateTelemetry(wire.TelemetryFrame{
		{Group: wire.GroupTemperature, Index: wire.TempAir}: int64(352),
	})

	_, ok := s.Flag(wire.FlagHeating)
	require.False(t, ok)

	// Holders of the previous frame still see it intact.
	heating, ok := first.Flag(wire.FlagHeating)
	require.True(t, ok)
	require.True(t, heating)
}

func TestStateSnapshotIsolation(t *testing.T) {
	s := NewState("192.168.1.50", "123456")
	s.UpdateParameters(wire.ParameterSet{wire.ParamSetTemperature: int64(25)})

	snap := s.Snapshot()
	require.Equal(t, "192.168.1.50", snap.Host)
	require.Equal(t, "123456", snap.SerialNumber)
	require.True(t, snap.Available)

	snap.Parameters[wire.ParamSetTemperature] = int64(30)

	live, ok := s.Parameters().Int(wire.ParamSetTemperature)
	require.True(t, ok)
	require.Equal(t, int64(25), live)
}
