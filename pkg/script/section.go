// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package script

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Lumiquad/lampyre/pkg/modfsp"
)

// SectionMagic opens every compiled section
const SectionMagic = 0xC0DEDEAD

// Section layout constants
const (
	// sectionHeaderSize covers magic (4), version (2), step count (2) and
	// the header CRC (2)
	sectionHeaderSize = 10

	// MaxSectionSteps caps the steps one section may carry
	MaxSectionSteps = 200

	// sectionReserve is held back from the transport budget when sizing a
	// section against the frame payload limit
	sectionReserve = 10

	// DefaultVersion is the section format version emitted by the compiler
	DefaultVersion = 1
)

// maxSectionSize is the largest section the instrument's receive buffer
// can take once framing and the reserve are accounted for
const maxSectionSize = modfsp.BufferSize - modfsp.FrameOverhead - sectionReserve

// Section codec failure modes
var (
	ErrTooManySteps    = errors.New("section exceeds step limit")
	ErrSectionTooLarge = errors.New("section exceeds transport budget")
	ErrBadSectionMagic = errors.New("bad section magic")
	ErrSectionRunt     = errors.New("section shorter than its header")
	ErrUnknownAction   = errors.New("unknown action")
)

// encodeSection compiles one section's steps to the binary layout: an
// 8-byte header (magic, version, step count) with its own CRC, the step
// records, and a trailing CRC over everything preceding it. Step indices
// restart at 1 per section.
func encodeSection(steps []Step, version uint16) ([]byte, error) {
	if len(steps) > MaxSectionSteps {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySteps, len(steps), MaxSectionSteps)
	}

	out := make([]byte, sectionHeaderSize)
	binary.LittleEndian.PutUint32(out[0:], SectionMagic)
	binary.LittleEndian.PutUint16(out[4:], version)
	binary.LittleEndian.PutUint16(out[6:], uint16(len(steps)))
	binary.LittleEndian.PutUint16(out[8:], modfsp.CalculateCRC(out[:8]))

	for i, step := range steps {
		spec, ok := ActionByName(step.Action)
		if !ok {
			return nil, fmt.Errorf("%w: %q (step %d)", ErrUnknownAction, step.Action, i+1)
		}
		params, err := EncodeParams(spec, step.Parameters)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		out = appendStep(out, uint16(i+1), spec.ID, params)
	}

	trailing := modfsp.CalculateCRC(out)
	out = append(out, byte(trailing), byte(trailing>>8))

	if len(out) > maxSectionSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrSectionTooLarge, len(out), maxSectionSize)
	}
	return out, nil
}

// DecodeSection walks one compiled section back to source steps. The
// section and step magics are load-bearing and fail hard; both CRCs are
// advisory on decode — a mismatch is logged and the walk continues, so
// captures from a flaky link stay inspectable. A step overrunning the
// section ends that section gracefully with the steps recovered so far.
func DecodeSection(data []byte) ([]Step, error) {
	log := logrus.WithField("component", "script.section")

	if len(data) < sectionHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrSectionRunt, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data); magic != SectionMagic {
		return nil, fmt.Errorf("%w: 0x%08X", ErrBadSectionMagic, magic)
	}

	headerCRC := binary.LittleEndian.Uint16(data[8:])
	if calculated := modfsp.CalculateCRC(data[:8]); calculated != headerCRC {
		log.WithFields(logrus.Fields{
			"calculated": fmt.Sprintf("0x%04X", calculated),
			"received":   fmt.Sprintf("0x%04X", headerCRC),
		}).Warn("section header CRC mismatch, continuing")
	}

	body := data
	if len(data) >= sectionHeaderSize+2 {
		trailing := binary.LittleEndian.Uint16(data[len(data)-2:])
		body = data[:len(data)-2]
		if calculated := modfsp.CalculateCRC(body); calculated != trailing {
			log.WithFields(logrus.Fields{
				"calculated": fmt.Sprintf("0x%04X", calculated),
				"received":   fmt.Sprintf("0x%04X", trailing),
			}).Warn("section trailing CRC mismatch, continuing")
		}
	}

	count := int(binary.LittleEndian.Uint16(data[6:]))
	steps := make([]Step, 0, count)
	rest := body[sectionHeaderSize:]
	for i := 0; i < count; i++ {
		ws, consumed, err := parseStep(rest)
		if err != nil {
			if errors.Is(err, ErrStepTruncated) {
				log.WithError(err).WithField("step", i+1).Warn("section ends mid-step, keeping decoded steps")
				break
			}
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		rest = rest[consumed:]
		steps = append(steps, decodeStep(ws))
	}
	return steps, nil
}

// decodeStep converts a wire step back to its source form. Unknown action
// IDs keep their raw parameter block hex-encoded under "raw".
func decodeStep(ws *wireStep) Step {
	spec, ok := ActionByID(ws.actionID)
	if !ok {
		logrus.WithField("action_id", fmt.Sprintf("0x%02X", ws.actionID)).
			Warn("unknown action ID in section")
		params := map[string]interface{}{}
		if len(ws.params) > 0 {
			params["raw"] = fmt.Sprintf("%X", ws.params)
		}
		return Step{Action: UnknownActionName(ws.actionID), Parameters: params}
	}
	return Step{Action: spec.Name, Parameters: DecodeParams(spec, ws.params)}
}
