// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package fleet

import (
	"time"

	"github.com/IlyaSemenov/terneo-ha/wire"
)

type (
	// Snapshot is the consolidated outcome of one poll cycle. It is
	// published only after every device's fetch has completed, so handlers
	// never observe a cycle in progress.
	Snapshot struct {
		// Cycle uniquely identifies the poll cycle, for correlating logs
		// and downstream publications.
		Cycle string

		// Taken is when the cycle started.
		Taken time.Time

		// Devices holds each registered device's contribution, keyed by
		// serial number.
		Devices map[string]Entry
	}

	// Entry is one device's contribution to a cycle. A failed fetch leaves
	// Telemetry and Parameters nil for this cycle even though the device
	// state keeps its last-known-good values.
	Entry struct {
		Host         string
		SerialNumber string
		Available    bool
		Telemetry    wire.TelemetryFrame
		Parameters   wire.ParameterSet
	}

	// SnapshotHandler consumes published snapshots. Handlers run on the
	// polling flow and should hand off promptly.
	SnapshotHandler func(Snapshot)
)

// Available returns the serial numbers that contributed data this cycle.
func (s Snapshot) Available() []string {
	serials := make([]string, 0, len(s.Devices))
	for sn, entry := range s.Devices {
		if entry.Available {
			serials = append(serials, sn)
		}
	}
	return serials
}
