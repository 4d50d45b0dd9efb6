// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package modfsp

import (
	"errors"
	"fmt"
)

// ErrPayloadTooLarge is returned when a payload cannot fit the 16-bit
// length field
var ErrPayloadTooLarge = errors.New("payload exceeds maximum frame size")

// EncodeFrame builds the wire image of a frame: start bytes, id, length
// (little-endian), payload, CRC (little-endian), stop bytes
func EncodeFrame(id byte, payload []byte) ([]byte, error) {
	return AppendFrame(nil, id, payload)
}

// AppendFrame appends the wire image of a frame to dst and returns the
// extended buffer. Multi-frame images (script uploads, captures) are built
// by chaining calls.
func AppendFrame(dst []byte, id byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return dst, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	n := len(payload)
	dst = append(dst, StartByte1, StartByte2, id, byte(n), byte(n>>8))
	dst = append(dst, payload...)

	crc := headerPayloadCRC(id, payload)
	dst = append(dst, byte(crc), byte(crc>>8))
	dst = append(dst, StopByte1, StopByte2)
	return dst, nil
}

// MustEncodeFrame is like EncodeFrame but panics on error. Use only where
// the payload size is statically known to be valid.
func MustEncodeFrame(id byte, payload []byte) []byte {
	data, err := EncodeFrame(id, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// EncodedSize returns the wire size of a frame carrying n payload bytes
func EncodedSize(n int) int {
	return FrameOverhead + n
}
