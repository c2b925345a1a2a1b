// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package wire

import "fmt"

// ControlType selects which sensor the device regulates against.
type ControlType int

const (
	ControlFloor    ControlType = 0
	ControlAir      ControlType = 1
	ControlExtended ControlType = 2
)

func (c ControlType) String() string {
	switch c {
	case ControlFloor:
		return "floor"
	case ControlAir:
		return "air"
	case ControlExtended:
		return "extended"
	default:
		return fmt.Sprintf("control(%d)", int(c))
	}
}

// ManagementType is the operating mode the device reports in telemetry
// (group m, index 1). Its value domain differs from the mode parameter's.
type ManagementType int

const (
	ManagementSchedule  ManagementType = 0
	ManagementManual    ManagementType = 3
	ManagementAway      ManagementType = 4
	ManagementTemporary ManagementType = 5
)

func (m ManagementType) String() string {
	switch m {
	case ManagementSchedule:
		return "schedule"
	case ManagementManual:
		return "manual"
	case ManagementAway:
		return "away"
	case ManagementTemporary:
		return "temporary"
	default:
		return fmt.Sprintf("management(%d)", int(m))
	}
}

// Mode is the value domain of the mode parameter (id 2) on writes. Note the
// asymmetry with ManagementType: the device accepts only schedule or manual
// here, while telemetry reports the richer management enum.
type Mode int

const (
	ModeSchedule Mode = 0
	ModeManual   Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ModeSchedule:
		return "schedule"
	case ModeManual:
		return "manual"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}
