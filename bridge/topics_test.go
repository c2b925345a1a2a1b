// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package bridge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		filter   string
		topic    string
		expected bool
	}{
		{"terneo/+/set/#", "terneo/100001/set/temperature", true},
		{"terneo/+/set/#", "terneo/100001/set/schedule/3", true},
		{"terneo/+/set/#", "terneo/100001/set", true}, // # covers the parent level
		{"terneo/+/set/#", "terneo/100001/state", false},
		{"terneo/+/set/#", "other/100001/set/power", false},
		{"terneo/+/state", "terneo/100001/state", true},
		{"terneo/+/state", "terneo/100001/state/extra", false},
		{"terneo/#", "terneo", true},
		{"terneo/#", "terneo/100001/state", true},
		{"terneo/#/state", "terneo/100001/state", false}, // invalid filter
		{"terneo/100001/state", "terneo/100001/state", true},
		{"terneo/100001/state", "terneo/100002/state", false},
	}

	for _, test := range tests {
		require.Equal(
			t,
			test.expected,
			topicMatches(test.filter, test.topic),
			"filter %s against %s",
			test.filter,
			test.topic,
		)
	}
}

func TestTopics(t *testing.T) {
	b := &Bridge{prefix: "terneo"}

	require.Equal(t, "terneo/bridge/state", b.bridgeStateTopic())
	require.Equal(t, "terneo/100001/state", b.stateTopic("100001"))
	require.Equal(t, "terneo/100001/availability", b.availabilityTopic("100001"))
	require.Equal(t, "terneo/+/set/#", b.commandFilter())
}

func TestParseCommand(t *testing.T) {
	b := &Bridge{prefix: "terneo"}

	tests := []struct {
		name  string
		topic string
		ok    bool
		want  command
	}{
		{
			name:  "Temperature",
			topic: "terneo/100001/set/temperature",
			ok:    true,
			want: command{
				SerialNumber: "100001",
				What:         "temperature",
				Payload:      []byte("24"),
			},
		},
		{
			name:  "ScheduleWithDay",
			topic: "terneo/100001/set/schedule/3",
			ok:    true,
			want: command{
				SerialNumber: "100001",
				What:         "schedule",
				Arg:          "3",
				Payload:      []byte("24"),
			},
		},
		{
			name:  "OwnStatePublication",
			topic: "terneo/100001/state",
			ok:    false,
		},
		{
			name:  "BridgeState",
			topic: "terneo/bridge/state",
			ok:    false,
		},
		{
			name:  "ForeignPrefix",
			topic: "other/100001/set/power",
			ok:    false,
		},
		{
			name:  "BareSet",
			topic: "terneo/100001/set",
			ok:    false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cmd, ok := b.parseCommand(test.topic, []byte("24"))
			require.Equal(t, test.ok, ok)
			if test.ok {
				require.Equal(t, test.want, cmd)
			}
		})
	}
}
