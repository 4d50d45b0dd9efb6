// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package script

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
)

// timeNow is the wire value for a time-of-day field meaning "start
// immediately"
const timeNow = 0xFFFFFFFF

// encodeTimeOfDay converts a time-of-day JSON value to its wire form.
// "now" and the empty string mean immediately; "HH:MM:SS" packs as
// 0xFF<<24 | HH<<16 | MM<<8 | SS. Anything else is a hard error.
func encodeTimeOfDay(v interface{}) (uint32, error) {
	s, ok := v.(string)
	if !ok {
		// Raw numbers pass through for scripts round-tripped from the
		// "0x%08X" decode form.
		if n, ok := toUint64(v); ok && n <= math.MaxUint32 {
			return uint32(n), nil
		}
		return 0, fmt.Errorf("time of day: expected string, got %T", v)
	}
	if s == "now" || s == "" {
		return timeNow, nil
	}

	var hh, mm, ss int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &hh, &mm, &ss); err != nil {
		// Round-tripped untagged values come back as "0x%08X".
		if raw, perr := strconv.ParseUint(s, 0, 32); perr == nil {
			return uint32(raw), nil
		}
		return 0, fmt.Errorf("time of day %q: %w", s, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 || ss < 0 || ss > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return 0xFF<<24 | uint32(hh)<<16 | uint32(mm)<<8 | uint32(ss), nil
}

// decodeTimeOfDay converts a wire time-of-day value back to its JSON form
func decodeTimeOfDay(raw uint32) string {
	if raw == timeNow {
		return "now"
	}
	if raw>>24 == 0xFF {
		return fmt.Sprintf("%02d:%02d:%02d", (raw>>16)&0xFF, (raw>>8)&0xFF, raw&0xFF)
	}
	return fmt.Sprintf("0x%08X", raw)
}

// encodeIndexMask converts a JSON index array to a bitmask. base is 0 for
// actuator indices (bit i) and 1 for external laser IDs (bit id-1).
// Out-of-range entries are logged and skipped.
func encodeIndexMask(v interface{}, base int) (byte, error) {
	var indices []int
	switch list := v.(type) {
	case []interface{}:
		for _, entry := range list {
			n, ok := toUint64(entry)
			if !ok {
				return 0, fmt.Errorf("index list: bad entry %v", entry)
			}
			indices = append(indices, int(n))
		}
	case []int:
		indices = list
	default:
		// A bare number is taken as an already-built mask.
		if n, ok := toUint64(v); ok && n <= 0xFF {
			return byte(n), nil
		}
		return 0, fmt.Errorf("index list: expected array, got %T", v)
	}

	var mask byte
	for _, index := range indices {
		bit := index - base
		if bit < 0 || bit > 7 {
			logrus.WithField("index", index).Warn("index outside mask range, skipped")
			continue
		}
		mask |= 1 << bit
	}
	return mask, nil
}

// decodeIndexMask converts a bitmask back to a sorted index array
func decodeIndexMask(mask byte, base int) []int {
	var indices []int
	for bit := 0; bit < 8; bit++ {
		if mask&(1<<bit) != 0 {
			indices = append(indices, bit+base)
		}
	}
	if indices == nil {
		indices = []int{}
	}
	sort.Ints(indices)
	return indices
}

// RTC source names
const (
	rtcSourceOBC = "obc_rtc"
	rtcSourceNTP = "nanode_ntp"
)

// encodeRTCSource converts an RTC source name to its wire value. Unknown
// names fall back to the OBC RTC with a warning.
func encodeRTCSource(v interface{}) byte {
	switch s := v.(type) {
	case string:
		switch s {
		case rtcSourceOBC:
			return 0
		case rtcSourceNTP:
			return 1
		}
		logrus.WithField("source", s).Warn("unknown RTC source, using obc_rtc")
		return 0
	default:
		if n, ok := toUint64(v); ok && n <= 1 {
			return byte(n)
		}
		logrus.WithField("source", v).Warn("unknown RTC source, using obc_rtc")
		return 0
	}
}

// decodeRTCSource converts a wire RTC source back to its name
func decodeRTCSource(raw uint64) interface{} {
	switch raw {
	case 0:
		return rtcSourceOBC
	case 1:
		return rtcSourceNTP
	default:
		return fmt.Sprintf("unknown(%d)", raw)
	}
}

// Camera resolution names
var resolutionNames = []string{"Low", "Half", "Full"}

// encodeResolution converts a resolution name to its wire value. Unknown
// names fall back to Full with a warning.
func encodeResolution(v interface{}) byte {
	switch s := v.(type) {
	case string:
		for i, name := range resolutionNames {
			if s == name {
				return byte(i)
			}
		}
		logrus.WithField("resolution", s).Warn("unknown resolution, using Full")
		return 2
	default:
		if n, ok := toUint64(v); ok && n <= 2 {
			return byte(n)
		}
		logrus.WithField("resolution", v).Warn("unknown resolution, using Full")
		return 2
	}
}

// decodeResolution converts a wire resolution back to its name
func decodeResolution(raw uint64) interface{} {
	if raw < uint64(len(resolutionNames)) {
		return resolutionNames[raw]
	}
	return fmt.Sprintf("unknown(%d)", raw)
}

// toUint64 coerces the JSON value shapes that appear in scripts to an
// unsigned integer: numbers, numeric strings, and arrays (which encode as
// their length)
func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != math.Trunc(n) {
			return 0, false
		}
		return uint64(n), true
	case float32:
		return toUint64(float64(n))
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case string:
		parsed, err := strconv.ParseUint(n, 0, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	case []interface{}:
		return uint64(len(n)), true
	default:
		return 0, false
	}
}

// toFloat64 coerces a JSON value to a float
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
