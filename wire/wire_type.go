// Copyright (c) terneo-ha contributors.
// Licensed under the MIT License.
package wire

import (
	"fmt"
	"strconv"
)

// WireType identifies the scalar encoding the device declares for a
// parameter value. The numeric values are the protocol's own type codes.
type WireType int

const (
	String WireType = 0
	Int8   WireType = 1
	UInt8  WireType = 2
	Int16  WireType = 3
	UInt16 WireType = 4
	Int32  WireType = 5
	UInt32 WireType = 6
	Bool   WireType = 7
)

func (t WireType) String() string {
	switch t {
	case String:
		return "string"
	case Int8:
		return "int8"
	case UInt8:
		return "uint8"
	case Int16:
		return "int16"
	case UInt16:
		return "uint16"
	case Int32:
		return "int32"
	case UInt32:
		return "uint32"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("wiretype(%d)", int(t))
	}
}

// DecodeValue parses a raw wire string under the given type. Decoded scalars
// are string, bool, or int64 (all integer widths normalize to int64). Bool
// decodes "1" as true and anything else as false; it never fails. Integer
// parse failures return an error so the caller can fall back to the raw
// string, per the lossy-fallback policy.
func DecodeValue(t WireType, raw string) (any, error) {
	switch t {
	case String:
		return raw, nil
	case Bool:
		return raw == "1", nil
	case Int8, Int16, Int32:
		v, err := strconv.ParseInt(raw, 10, intBits(t))
		if err != nil {
			return nil, err
		}
		return v, nil
	case UInt8, UInt16, UInt32:
		v, err := strconv.ParseUint(raw, 10, intBits(t))
		if err != nil {
			return nil, err
		}
		return int64(v), nil
	default:
		// Unknown type codes pass the raw string through.
		return raw, nil
	}
}

// EncodeValue renders a scalar in the device's string form for the given
// wire type. Bool renders "1"/"0"; integer kinds render in base 10. The
// device validates ranges itself, so no client-side clamping happens here.
func EncodeValue(t WireType, value any) string {
	if t == Bool {
		return encodeBool(value)
	}
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return encodeBool(v)
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}

func encodeBool(value any) string {
	on := false
	switch v := value.(type) {
	case bool:
		on = v
	case int:
		on = v != 0
	case int64:
		on = v != 0
	case string:
		on = v == "1"
	}
	if on {
		return "1"
	}
	return "0"
}

func intBits(t WireType) int {
	switch t {
	case Int8, UInt8:
		return 8
	case Int16, UInt16:
		return 16
	default:
		return 32
	}
}
