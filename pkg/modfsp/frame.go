// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package modfsp

import "time"

// Frame represents a decoded MODFSP frame
type Frame struct {
	id        byte
	payload   []byte
	crc       uint16
	timestamp time.Time
}

// NewFrame creates a frame with the given ID and payload. The CRC is
// computed over the header and payload exactly as the encoder would.
func NewFrame(id byte, payload []byte) *Frame {
	return &Frame{
		id:        id,
		payload:   payload,
		crc:       headerPayloadCRC(id, payload),
		timestamp: time.Now(),
	}
}

// headerPayloadCRC computes the frame CRC over id, the little-endian
// length bytes, and the payload. Start and stop bytes are excluded.
func headerPayloadCRC(id byte, payload []byte) uint16 {
	n := len(payload)
	crc := uint16(crcInitial)
	crc = UpdateCRC(crc, id)
	crc = UpdateCRC(crc, byte(n))
	crc = UpdateCRC(crc, byte(n>>8))
	for _, b := range payload {
		crc = UpdateCRC(crc, b)
	}
	return crc
}

// ID returns the frame's command identifier
func (f *Frame) ID() byte {
	return f.id
}

// Payload returns the frame's payload bytes
func (f *Frame) Payload() []byte {
	return f.payload
}

// Len returns the payload length in bytes
func (f *Frame) Len() int {
	return len(f.payload)
}

// CRC returns the frame's CRC value
func (f *Frame) CRC() uint16 {
	return f.crc
}

// Timestamp returns the frame's decode timestamp
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// IsAck reports whether the frame ID belongs to the acknowledgement
// vocabulary of the ground link
func (f *Frame) IsAck() bool {
	switch f.id {
	case AckHalt, AckSendTime, AckRunExperiment, AckUpdateOBC, AckUpdateExp,
		AckScriptInit, AckScriptDLS, AckScriptCam,
		AckGetLaserInternal, AckGetLaserExternal,
		AckSelfTest, AckFramePause, AckFrameResume, AckTestConnection,
		AckMaster, NakMaster:
		return true
	}
	return false
}
