// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

// Package modfsp implements the MODFSP framed serial protocol spoken on the
// Lampyre payload link. It provides a byte-at-a-time decoder with inter-byte
// timeout handling, a frame encoder, a command registry with panic
// containment, and a full-duplex port that correlates commands with their
// acknowledgement frames.
package modfsp

import "time"

// Protocol framing constants
const (
	StartByte1 = 0xC0
	StartByte2 = 0xDE
	StopByte1  = 0xDA
	StopByte2  = 0xED
)

// FrameOverhead is the number of framing bytes around a payload
// (2 start + id + 2 length + 2 crc + 2 stop)
const FrameOverhead = 9

// BufferSize is the receive buffer capacity in bytes
const BufferSize = 5120

// MaxPayloadSize is the largest payload length the 16-bit length field can carry
const MaxPayloadSize = 0xFFFF

// DefaultTimeout is the inter-byte timeout for a frame mid-assembly.
// Ground-side tooling typically runs with GroundTimeout instead.
const (
	DefaultTimeout = 300 * time.Millisecond
	GroundTimeout  = 2 * time.Second
)

// CRC-16/XMODEM parameters
const (
	crcPolynomial = 0x1021
	crcInitial    = 0x0000
)

// Ground link command frame IDs with their acknowledgement IDs.
// The device answers each command frame with its paired ack frame.
const (
	CmdSendTime      = 0x01 // payload: HH MM SS DD MM YY
	CmdRunExperiment = 0x02
	CmdUpdateOBC     = 0x03
	CmdUpdateExp     = 0x04

	AckSendTime      = 0x11
	AckRunExperiment = 0x12
	AckUpdateOBC     = 0x13
	AckUpdateExp     = 0x14

	CmdGetLaserInternal = 0x61
	CmdGetLaserExternal = 0x62

	AckGetLaserInternal = 0x71
	AckGetLaserExternal = 0x72

	CmdFramePause  = 0xB0
	AckFramePause  = 0xB1
	CmdFrameResume = 0xB2
	AckFrameResume = 0xB3

	CmdSelfTest = 0xCB // payload: kind intensity mask
	AckSelfTest = 0xCC // payload: current reading, u16 LE, mA

	CmdTestConnection = 0x99 // payload: 4-byte value, echoed back
	AckTestConnection = 0x98

	CmdHalt = 0xFA
	AckHalt = 0xAA
)

// Script section frame IDs. A compiled script image is a sequence of these
// frames; the device acks each section it accepts.
const (
	FrameIDScriptInit = 0xF0
	FrameIDScriptDLS  = 0xF1
	FrameIDScriptCam  = 0xF2

	AckScriptInit = 0xA0
	AckScriptDLS  = 0xA1
	AckScriptCam  = 0xA2
)

// Generic device-side responses
const (
	AckMaster = 0x31
	NakMaster = 0x32
)

// Decoder states
const (
	stateIdle = iota
	stateStart2
	stateFrameID
	stateLenLow
	stateLenHigh
	stateData
	stateCRC
	stateStop1
	stateStop2
)

// Direction tags journal records with the side that produced the frame
type Direction int

const (
	// DirIn is a frame received from the device
	DirIn Direction = iota
	// DirOut is a frame sent toward the device
	DirOut
)

// String returns the short direction tag used in captures and logs
func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	default:
		return "unknown"
	}
}
