// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package wire

import (
	"encoding/json"
	"sort"
	"strconv"
)

// ParameterID is the integer key of a device parameter.
type ParameterID int

// Known parameter ids, as exposed by current firmware.
const (
	ParamStartAwayTime         ParameterID = 0
	ParamEndAwayTime           ParameterID = 1
	ParamMode                  ParameterID = 2
	ParamControlType           ParameterID = 3
	ParamManualAir             ParameterID = 4
	ParamManualFloorTemp       ParameterID = 5
	ParamAwayAirTemp           ParameterID = 6
	ParamAwayFloorTemp         ParameterID = 7
	ParamMinTempAdvanced       ParameterID = 14
	ParamMaxTempAdvanced       ParameterID = 15
	ParamPower                 ParameterID = 17
	ParamSensorType            ParameterID = 18
	ParamHysteresis            ParameterID = 19
	ParamAirCorrection         ParameterID = 20
	ParamFloorCorrection       ParameterID = 21
	ParamBrightness            ParameterID = 23
	ParamPropKoef              ParameterID = 25
	ParamUpperLimit            ParameterID = 26
	ParamLowerLimit            ParameterID = 27
	ParamMaxSchedulePeriod     ParameterID = 28
	ParamTempTemperature       ParameterID = 29
	ParamSetTemperature        ParameterID = 31
	ParamUpperAirLimit         ParameterID = 33
	ParamLowerAirLimit         ParameterID = 34
	ParamNightBrightStart      ParameterID = 52
	ParamNightBrightEnd        ParameterID = 53
	ParamOffButtonLock         ParameterID = 109
	ParamAndroidBlock          ParameterID = 114
	ParamCloudBlock            ParameterID = 115
	ParamNCContactControl      ParameterID = 117
	ParamCoolingControlWay     ParameterID = 118
	ParamUseNightBright        ParameterID = 120
	ParamPreControl            ParameterID = 121
	ParamWindowOpenControl     ParameterID = 122
	ParamChildrenLock          ParameterID = 124
	ParamPowerOff              ParameterID = 125
)

// parameterTypes is the static ParameterID to WireType table. It is consulted
// on both sides of the codec: reads cross-check the inline type the device
// declares, writes depend on it entirely since a write carries no type hint
// from the device.
var parameterTypes = map[ParameterID]WireType{
	ParamStartAwayTime:     UInt32,
	ParamEndAwayTime:       UInt32,
	ParamMode:              UInt8,
	ParamControlType:       UInt8,
	ParamManualAir:         Int8,
	ParamManualFloorTemp:   Int8,
	ParamAwayAirTemp:       Int8,
	ParamAwayFloorTemp:     Int8,
	ParamMinTempAdvanced:   UInt8,
	ParamMaxTempAdvanced:   UInt8,
	ParamPower:             UInt16,
	ParamSensorType:        UInt8,
	ParamHysteresis:        UInt8,
	ParamAirCorrection:     Int8,
	ParamFloorCorrection:   Int8,
	ParamBrightness:        UInt8,
	ParamPropKoef:          UInt8,
	ParamUpperLimit:        Int8,
	ParamLowerLimit:        Int8,
	ParamMaxSchedulePeriod: UInt8,
	ParamTempTemperature:   UInt8,
	ParamSetTemperature:    UInt8,
	ParamUpperAirLimit:     Int8,
	ParamLowerAirLimit:     Int8,
	ParamNightBrightStart:  UInt16,
	ParamNightBrightEnd:    UInt16,
	ParamOffButtonLock:     Bool,
	ParamAndroidBlock:      Bool,
	ParamCloudBlock:        Bool,
	ParamNCContactControl:  Bool,
	ParamCoolingControlWay: Bool,
	ParamUseNightBright:    Bool,
	ParamPreControl:        Bool,
	ParamWindowOpenControl: Bool,
	ParamChildrenLock:      Bool,
	ParamPowerOff:          Bool,
}

// TypeOf returns the wire type of a parameter id. Unknown ids default to
// String, mirroring the device's behavior of accepting stringly writes for
// ids outside the published table.
func TypeOf(id ParameterID) WireType {
	if t, ok := parameterTypes[id]; ok {
		return t
	}
	return String
}

// KnownParameterIDs returns the ids of the static table in ascending order.
func KnownParameterIDs() []ParameterID {
	ids := make([]ParameterID, 0, len(parameterTypes))
	for id := range parameterTypes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Parameter is one entry of a parameter exchange. The wire renders it as the
// three-element array [id, typeCode, value].
type Parameter struct {
	ID   ParameterID
	Type WireType
	Raw  string
}

func (p Parameter) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{int(p.ID), int(p.Type), p.Raw})
}

// ParameterSet maps parameter ids to decoded scalars (string, bool, or
// int64). A set is replaced wholesale on each successful parameter poll and
// is never mutated locally by writes; a write only becomes visible once the
// next read confirms it.
type ParameterSet map[ParameterID]any

// Int returns the parameter as an integer, if present and integer-typed.
func (ps ParameterSet) Int(id ParameterID) (int64, bool) {
	v, ok := ps[id].(int64)
	return v, ok
}

// Bool returns the parameter as a bool, if present and bool-typed.
func (ps ParameterSet) Bool(id ParameterID) (bool, bool) {
	v, ok := ps[id].(bool)
	return v, ok
}

// Clone returns a shallow copy. Values are scalars, so the copy is
// effectively deep.
func (ps ParameterSet) Clone() ParameterSet {
	if ps == nil {
		return nil
	}
	out := make(ParameterSet, len(ps))
	for id, v := range ps {
		out[id] = v
	}
	return out
}

// Encode renders the set as wire triples for a write, ordered by id so
// request bodies are deterministic. Mode switches batched together with a
// setpoint therefore precede it, matching the order the device expects them
// applied.
func (ps ParameterSet) Encode() []Parameter {
	ids := make([]ParameterID, 0, len(ps))
	for id := range ps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Parameter, 0, len(ids))
	for _, id := range ids {
		out = append(out, EncodeParameter(id, ps[id]))
	}
	return out
}

// EncodeParameter builds the wire triple for one write value, with the type
// taken from the static table.
func EncodeParameter(id ParameterID, value any) Parameter {
	t := TypeOf(id)
	return Parameter{ID: id, Type: t, Raw: EncodeValue(t, value)}
}

// DecodeParameters converts the raw "par" entries of a device response into
// a ParameterSet. Entries with fewer than three elements are dropped.
// Values that fail to parse under their declared type are kept as raw
// strings; their ids are returned so the caller can log the fallbacks.
func DecodeParameters(entries []any) (ParameterSet, []ParameterID) {
	set := make(ParameterSet, len(entries))
	var fallback []ParameterID

	for _, e := range entries {
		entry, ok := e.([]any)
		if !ok || len(entry) < 3 {
			continue
		}
		id, ok := asInt(entry[0])
		if !ok {
			continue
		}
		typeCode, ok := asInt(entry[1])
		if !ok {
			continue
		}

		pid := ParameterID(id)
		raw := asString(entry[2])
		value, err := DecodeValue(WireType(typeCode), raw)
		if err != nil {
			value = raw
			fallback = append(fallback, pid)
		}
		set[pid] = value
	}
	return set, fallback
}

// asInt coerces a decoded JSON scalar to an integer.
func asInt(v any) (int64, bool) {
	switch v := v.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// asString renders a decoded JSON scalar in its wire string form.
func asString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case nil:
		return ""
	default:
		return ""
	}
}
