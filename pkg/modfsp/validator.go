// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package modfsp

import "fmt"

// AnomalyType classifies validator findings
type AnomalyType int

const (
	// AnomalyUnknownID is a frame ID outside the known command vocabulary
	AnomalyUnknownID AnomalyType = iota
	// AnomalyLengthMismatch is a payload length that does not fit the frame ID
	AnomalyLengthMismatch
	// AnomalyValueRange is a payload field outside its legal range
	AnomalyValueRange
)

// String returns the anomaly type name
func (a AnomalyType) String() string {
	switch a {
	case AnomalyUnknownID:
		return "UNKNOWN_ID"
	case AnomalyLengthMismatch:
		return "LENGTH_MISMATCH"
	case AnomalyValueRange:
		return "VALUE_RANGE"
	default:
		return "UNKNOWN"
	}
}

// ValidationError describes a single anomaly found in a frame
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Type, v.Message)
}

// expectedLengths maps frame IDs with a fixed payload size. IDs absent
// from the map either carry no payload constraint (script sections) or
// are validated field by field.
var expectedLengths = map[byte]int{
	CmdSendTime:       6,
	CmdRunExperiment:  0,
	CmdHalt:           0,
	CmdFramePause:     0,
	CmdFrameResume:    0,
	CmdSelfTest:       3,
	CmdTestConnection: 4,

	AckSendTime:       0,
	AckRunExperiment:  0,
	AckHalt:           0,
	AckFramePause:     0,
	AckFrameResume:    0,
	AckSelfTest:       2,
	AckTestConnection: 4,
	AckScriptInit:     0,
	AckScriptDLS:      0,
	AckScriptCam:      0,
	AckMaster:         0,
	NakMaster:         0,

	CmdGetLaserInternal: 0,
	CmdGetLaserExternal: 0,
}

// knownIDs lists every frame ID the link vocabulary defines, including
// the variable-length ones
var knownIDs = map[byte]bool{
	FrameIDScriptInit:   true,
	FrameIDScriptDLS:    true,
	FrameIDScriptCam:    true,
	CmdUpdateOBC:        true,
	CmdUpdateExp:        true,
	AckUpdateOBC:        true,
	AckUpdateExp:        true,
	AckGetLaserInternal: true,
	AckGetLaserExternal: true,
}

// ValidateFrame checks a decoded frame against the link vocabulary and
// returns all anomalies found. An empty slice means the frame is clean.
// Validation never rejects a frame; callers decide what to do with the
// findings.
func ValidateFrame(f *Frame) []ValidationError {
	var anomalies []ValidationError

	expected, fixed := expectedLengths[f.ID()]
	if !fixed && !knownIDs[f.ID()] {
		anomalies = append(anomalies, ValidationError{
			Type:    AnomalyUnknownID,
			Message: fmt.Sprintf("unknown frame ID 0x%02X", f.ID()),
			Details: map[string]interface{}{"id": f.ID()},
		})
		return anomalies
	}

	if fixed && f.Len() != expected {
		anomalies = append(anomalies, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("frame 0x%02X: expected %d payload bytes, got %d", f.ID(), expected, f.Len()),
			Details: map[string]interface{}{
				"id":       f.ID(),
				"expected": expected,
				"actual":   f.Len(),
			},
		})
		return anomalies
	}

	switch f.ID() {
	case CmdSendTime:
		anomalies = append(anomalies, validateTimePayload(f.Payload())...)
	case CmdSelfTest:
		if kind := f.Payload()[0]; kind > 1 {
			anomalies = append(anomalies, rangeAnomaly("self test kind", int(kind), 0, 1))
		}
	case AckGetLaserInternal, AckGetLaserExternal:
		if f.Len() > 8 {
			anomalies = append(anomalies, ValidationError{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("laser status frame 0x%02X: %d bytes exceeds 8 channels", f.ID(), f.Len()),
				Details: map[string]interface{}{"id": f.ID(), "actual": f.Len()},
			})
		}
	case FrameIDScriptInit, FrameIDScriptDLS, FrameIDScriptCam:
		// Section header alone is 10 bytes; anything shorter cannot be a
		// compiled section.
		if f.Len() < 10 {
			anomalies = append(anomalies, ValidationError{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("script section 0x%02X: %d bytes is shorter than a section header", f.ID(), f.Len()),
				Details: map[string]interface{}{"id": f.ID(), "actual": f.Len()},
			})
		}
	}

	return anomalies
}

func validateTimePayload(p []byte) []ValidationError {
	var anomalies []ValidationError
	checks := []struct {
		name     string
		value    int
		min, max int
	}{
		{"hours", int(p[0]), 0, 23},
		{"minutes", int(p[1]), 0, 59},
		{"seconds", int(p[2]), 0, 59},
		{"day", int(p[3]), 1, 31},
		{"month", int(p[4]), 1, 12},
	}
	for _, c := range checks {
		if c.value < c.min || c.value > c.max {
			anomalies = append(anomalies, rangeAnomaly(c.name, c.value, c.min, c.max))
		}
	}
	return anomalies
}

func rangeAnomaly(field string, value, min, max int) ValidationError {
	return ValidationError{
		Type:    AnomalyValueRange,
		Message: fmt.Sprintf("%s %d outside [%d, %d]", field, value, min, max),
		Details: map[string]interface{}{
			"field": field,
			"value": value,
			"min":   min,
			"max":   max,
		},
	}
}
