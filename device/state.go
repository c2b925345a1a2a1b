// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package device

import (
	"sync"
	"time"

	"github.com/IlyaSemenov/terneo-ha/internal/wallclock"
	"github.com/IlyaSemenov/terneo-ha/wire"
)

type (
	// State is the cached, reconciled view of one device. The fleet
	// coordinator is its only writer; everything else reads through the
	// accessors. Stored documents are replaced wholesale and never mutated
	// in place, so returned maps are stable but must be treated as
	// read-only.
	State struct {
		host         string
		serialNumber string

		mu         sync.RWMutex
		parameters wire.ParameterSet
		telemetry  wire.TelemetryFrame
		schedule   wire.ScheduleMap
		available  bool
		updatedAt  time.Time
	}

	// Snapshot is a point-in-time copy of a device's cached state, safe to
	// hold across later updates.
	Snapshot struct {
		Host         string
		SerialNumber string
		Available    bool
		UpdatedAt    time.Time
		Parameters   wire.ParameterSet
		Telemetry    wire.TelemetryFrame
		Schedule     wire.ScheduleMap
	}
)

// NewState creates an empty state for the given device identity. It starts
// unavailable until the first successful poll.
func NewState(host, serialNumber string) *State {
	return &State{host: host, serialNumber: serialNumber}
}

// Host returns the network address the device was registered with.
func (s *State) Host() string {
	return s.host
}

// SerialNumber returns the device serial number.
func (s *State) SerialNumber() string {
	return s.serialNumber
}

// UpdateTelemetry replaces the cached telemetry frame and marks the device
// available.
func (s *State) UpdateTelemetry(frame wire.TelemetryFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry = frame
	s.markSeen()
}

// UpdateParameters replaces the cached parameter table and marks the device
// available.
func (s *State) UpdateParameters(params wire.ParameterSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parameters = params
	s.markSeen()
}

// UpdateSchedule replaces the cached weekly schedule and marks the device
// available.
func (s *State) UpdateSchedule(schedule wire.ScheduleMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = schedule
	s.markSeen()
}

// MarkUnreachable records a failed poll. Cached data is retained; only the
// availability flag drops.
func (s *State) MarkUnreachable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = false
}

func (s *State) markSeen() {
	s.available = true
	s.updatedAt = wallclock.Instance.Now()
}

// Available reports whether the most recent exchange with the device
// succeeded.
func (s *State) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// UpdatedAt returns the time of the last successful exchange, zero if the
// device has never been reached.
func (s *State) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Parameters returns the current parameter table, nil before the first
// successful read.
func (s *State) Parameters() wire.ParameterSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parameters
}

// Telemetry returns the current telemetry frame, nil before the first
// successful poll.
func (s *State) Telemetry() wire.TelemetryFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.telemetry
}

// Schedule returns the current weekly schedule, nil before the first
// successful read.
func (s *State) Schedule() wire.ScheduleMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule
}

// TemperatureCelsius reads a temperature telemetry value in degrees Celsius.
func (s *State) TemperatureCelsius(index int) (float64, bool) {
	return s.Telemetry().TemperatureCelsius(index)
}

// Flag reads a flag telemetry value.
func (s *State) Flag(index int) (bool, bool) {
	return s.Telemetry().Flag(index)
}

// ControlType reports which sensor the device regulates against, from
// telemetry.
func (s *State) ControlType() (wire.ControlType, bool) {
	mode, ok := s.Telemetry().Mode(wire.ModeControlType)
	return wire.ControlType(mode), ok
}

// ManagementType reports the operating mode the device is in, from
// telemetry.
func (s *State) ManagementType() (wire.ManagementType, bool) {
	mode, ok := s.Telemetry().Mode(wire.ModeManagementType)
	return wire.ManagementType(mode), ok
}

// Snapshot returns a deep copy of the current state under a single lock
// acquisition.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Host:         s.host,
		SerialNumber: s.serialNumber,
		Available:    s.available,
		UpdatedAt:    s.updatedAt,
		Parameters:   s.parameters.Clone(),
		Telemetry:    s.telemetry.Clone(),
		Schedule:     s.schedule.Clone(),
	}
}
