// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Period is one schedule entry: a minute of the day and the target
// temperature in tenths of a degree. The wire form is the two-element array
// [minute, tenths].
type Period struct {
	Minute int
	Tenths int
}

func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Minute, p.Tenths})
}

func (p *Period) UnmarshalJSON(data []byte) error {
	var entry []int
	if err := json.Unmarshal(data, &entry); err != nil {
		return err
	}
	if len(entry) < 2 {
		return fmt.Errorf("schedule period has %d elements, want 2", len(entry))
	}
	p.Minute, p.Tenths = entry[0], entry[1]
	return nil
}

// ScheduleMap maps a day index (0 = Monday .. 6 = Sunday) to that day's
// periods in device order. The map is fetched and replaced as a whole
// document; each day is written independently.
type ScheduleMap map[int][]Period

// Clone returns a deep copy of the schedule.
func (s ScheduleMap) Clone() ScheduleMap {
	if s == nil {
		return nil
	}
	out := make(ScheduleMap, len(s))
	for day, periods := range s {
		out[day] = append([]Period(nil), periods...)
	}
	return out
}

// DecodeSchedule converts the raw "tt" document of a device response.
// Malformed day keys and short period entries are dropped, in line with the
// skip-and-continue policy for malformed wire entries.
func DecodeSchedule(raw map[string]any) ScheduleMap {
	schedule := make(ScheduleMap, len(raw))
	for dayKey, v := range raw {
		day, err := strconv.Atoi(dayKey)
		if err != nil {
			continue
		}
		entries, ok := v.([]any)
		if !ok {
			continue
		}

		periods := make([]Period, 0, len(entries))
		for _, e := range entries {
			entry, ok := e.([]any)
			if !ok || len(entry) < 2 {
				continue
			}
			minute, okMin := asInt(entry[0])
			tenths, okTen := asInt(entry[1])
			if !okMin || !okTen {
				continue
			}
			periods = append(periods, Period{Minute: int(minute), Tenths: int(tenths)})
		}
		schedule[day] = periods
	}
	return schedule
}

// ParsePeriods parses the human-readable period list used by configuration
// surfaces, e.g. "08:00 = 28, 18:00 = 25.5". Entries without an "=" or with
// an unparseable time or temperature are skipped.
func ParsePeriods(s string) []Period {
	var periods []Period
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		timePart, tempPart, found := strings.Cut(part, "=")
		if !found {
			continue
		}

		hhmm := strings.TrimSpace(timePart)
		hh, mm, found := strings.Cut(hhmm, ":")
		if !found {
			continue
		}
		hours, errH := strconv.Atoi(strings.TrimSpace(hh))
		minutes, errM := strconv.Atoi(strings.TrimSpace(mm))
		if errH != nil || errM != nil {
			continue
		}

		temp, err := strconv.ParseFloat(strings.TrimSpace(tempPart), 64)
		if err != nil {
			continue
		}

		periods = append(periods, Period{
			Minute: hours*60 + minutes,
			Tenths: int(temp * 10),
		})
	}
	return periods
}

// FormatPeriods renders periods in the human-readable form parsed by
// ParsePeriods. Whole-degree temperatures render without a decimal part.
func FormatPeriods(periods []Period) string {
	parts := make([]string, 0, len(periods))
	for _, p := range periods {
		parts = append(parts, fmt.Sprintf("%02d:%02d = %s",
			p.Minute/60, p.Minute%60,
			strconv.FormatFloat(float64(p.Tenths)/10, 'f', -1, 64),
		))
	}
	return strings.Join(parts, ", ")
}
