// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package script

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// StepMagic opens every step record
const StepMagic = 0xDEADBEEF

// stepHeaderSize covers magic (4), step index (2), action ID (1) and
// parameter block length (1)
const stepHeaderSize = 8

// Step record failure modes
var (
	ErrBadStepMagic  = errors.New("bad step magic")
	ErrStepTruncated = errors.New("step record truncated")
)

// wireStep is one decoded step record
type wireStep struct {
	index    uint16 // 1-based within the section
	actionID byte
	params   []byte
}

// appendStep appends one step record to dst: magic, 1-based index, action
// ID, parameter block length, parameter block
func appendStep(dst []byte, index uint16, actionID byte, params []byte) []byte {
	var header [stepHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:], StepMagic)
	binary.LittleEndian.PutUint16(header[4:], index)
	header[6] = actionID
	header[7] = byte(len(params))
	dst = append(dst, header[:]...)
	return append(dst, params...)
}

// parseStep decodes one step record from the front of buf and returns the
// bytes consumed. A wrong magic is a hard error; a parameter block running
// past the buffer is reported as truncation.
func parseStep(buf []byte) (*wireStep, int, error) {
	if len(buf) < stepHeaderSize {
		return nil, 0, fmt.Errorf("%w: %d header bytes", ErrStepTruncated, len(buf))
	}
	if magic := binary.LittleEndian.Uint32(buf); magic != StepMagic {
		return nil, 0, fmt.Errorf("%w: 0x%08X", ErrBadStepMagic, magic)
	}

	paramLen := int(buf[7])
	if len(buf) < stepHeaderSize+paramLen {
		return nil, 0, fmt.Errorf("%w: %d parameter bytes declared, %d available",
			ErrStepTruncated, paramLen, len(buf)-stepHeaderSize)
	}

	step := &wireStep{
		index:    binary.LittleEndian.Uint16(buf[4:]),
		actionID: buf[6],
		params:   append([]byte(nil), buf[stepHeaderSize:stepHeaderSize+paramLen]...),
	}
	return step, stepHeaderSize + paramLen, nil
}
