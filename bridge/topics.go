// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package bridge

import "strings"

// Topic layout, rooted at the configured prefix:
//
//	<prefix>/bridge/state                 retained online/offline, also the LWT
//	<prefix>/<sn>/state                   retained JSON device summary per cycle
//	<prefix>/<sn>/availability            retained online/offline per device
//	<prefix>/<sn>/set/temperature         command: target temperature, e.g. "22.5"
//	<prefix>/<sn>/set/preset              command: schedule|manual|away|temporary
//	<prefix>/<sn>/set/power               command: on|off (or a boolean string)
//	<prefix>/<sn>/set/schedule/<day>      command: JSON [[minute,tenths],...]
//	<prefix>/<sn>/set/<control>           command: named toggle (on|off) or
//	                                      number setting, e.g. child_lock,
//	                                      brightness, hysteresis
const (
	bridgeStateSegment  = "bridge/state"
	stateSegment        = "state"
	availabilitySegment = "availability"
	setSegment          = "set"

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// command is one parsed set request addressed to a device.
type command struct {
	SerialNumber string
	What         string
	Arg          string
	Payload      []byte
}

func (b *Bridge) bridgeStateTopic() string {
	return b.prefix + "/" + bridgeStateSegment
}

func (b *Bridge) stateTopic(serialNumber string) string {
	return b.prefix + "/" + serialNumber + "/" + stateSegment
}

func (b *Bridge) availabilityTopic(serialNumber string) string {
	return b.prefix + "/" + serialNumber + "/" + availabilitySegment
}

// commandFilter is the subscription covering every set topic under the
// prefix.
func (b *Bridge) commandFilter() string {
	return b.prefix + "/+/" + setSegment + "/#"
}

// parseCommand splits a publish on a set topic into its parts. It returns
// false for topics outside the command space, including the bridge's own
// publications echoed back by the broker.
func (b *Bridge) parseCommand(topic string, payload []byte) (command, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return command{}, false
	}

	parts := strings.Split(rest, "/")
	if len(parts) < 3 || parts[1] != setSegment {
		return command{}, false
	}

	cmd := command{
		SerialNumber: parts[0],
		What:         parts[2],
		Payload:      payload,
	}
	if len(parts) > 3 {
		cmd.Arg = parts[3]
	}
	return cmd, true
}

// topicMatches checks an incoming topic name against a subscription filter
// with MQTT + and # wildcard semantics.
func topicMatches(filter, name string) bool {
	filters := strings.Split(filter, "/")
	names := strings.Split(name, "/")

	for i, f := range filters {
		if f == "#" {
			// Multi-level wildcard must be at the end.
			return i == len(filters)-1
		}
		if f == "+" {
			if i >= len(names) {
				return false
			}
			continue
		}
		if i >= len(names) || f != names[i] {
			return false
		}
	}
	return len(filters) == len(names)
}
