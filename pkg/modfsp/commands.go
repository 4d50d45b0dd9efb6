// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package modfsp

import (
	"encoding/binary"
	"fmt"
	"time"
)

// SelfTestKind selects which laser bank a self test exercises
type SelfTestKind byte

const (
	// SelfTestInternal exercises the internal laser diodes
	SelfTestInternal SelfTestKind = 0
	// SelfTestExternal exercises the external laser heads
	SelfTestExternal SelfTestKind = 1
)

// NewSyncTimeFrame builds the time synchronization command carrying the
// wall clock as six payload bytes: HH MM SS DD MM YY
func NewSyncTimeFrame(now time.Time) *Frame {
	return NewFrame(CmdSendTime, []byte{
		byte(now.Hour()),
		byte(now.Minute()),
		byte(now.Second()),
		byte(now.Day()),
		byte(now.Month()),
		byte(now.Year() % 100),
	})
}

// NewSelfTestFrame builds the laser self test command. Intensity is a
// percentage, positionMask selects the lasers to fire (bit i = laser i).
func NewSelfTestFrame(kind SelfTestKind, intensity byte, positionMask byte) *Frame {
	return NewFrame(CmdSelfTest, []byte{byte(kind), intensity, positionMask})
}

// NewTestConnectionFrame builds the link test command carrying a 32-bit
// value the device echoes back, big-endian on the wire
func NewTestConnectionFrame(value uint32) *Frame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, value)
	return NewFrame(CmdTestConnection, payload)
}

// NewHaltFrame builds the emergency halt command
func NewHaltFrame() *Frame {
	return NewFrame(CmdHalt, nil)
}

// NewRunExperimentFrame builds the command that starts the loaded script
func NewRunExperimentFrame() *Frame {
	return NewFrame(CmdRunExperiment, nil)
}

// NewPauseFrame builds the experiment pause command
func NewPauseFrame() *Frame {
	return NewFrame(CmdFramePause, nil)
}

// NewResumeFrame builds the experiment resume command
func NewResumeFrame() *Frame {
	return NewFrame(CmdFrameResume, nil)
}

// NewLaserStatusFrame builds the laser status query for one bank
func NewLaserStatusFrame(kind SelfTestKind) *Frame {
	if kind == SelfTestExternal {
		return NewFrame(CmdGetLaserExternal, nil)
	}
	return NewFrame(CmdGetLaserInternal, nil)
}

// ParseSelfTestAck extracts the current reading in milliamps from a self
// test acknowledgement payload
func ParseSelfTestAck(payload []byte) (uint16, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("self test ack: expected 2 payload bytes, got %d", len(payload))
	}
	return binary.LittleEndian.Uint16(payload), nil
}

// ParseTestConnectionAck extracts the echoed value from a connection test
// acknowledgement payload
func ParseTestConnectionAck(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("connection test ack: expected 4 payload bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}
