// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package modfsp

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Decode failure kinds. DecodeByte and CheckTimeout wrap these with
// context; classify with errors.Is.
var (
	ErrBadLength   = errors.New("declared length exceeds buffer capacity")
	ErrCRCMismatch = errors.New("CRC mismatch")
	ErrBadStopByte = errors.New("invalid stop byte")
	ErrTimeout     = errors.New("frame reception timed out")
)

// Decoder implements a state machine for decoding MODFSP frames byte by byte.
// A Decoder instance is single-consumer; feed it from one goroutine only.
type Decoder struct {
	state  int
	buffer [BufferSize]byte

	id     byte
	length int
	index  int

	crc      uint16 // running CRC over id+length+payload
	wireCRC  uint16 // CRC received from the wire, little-endian
	crcIndex int

	timeout  time.Duration
	lastByte time.Time
}

// NewDecoder creates a new decoder with the default inter-byte timeout
func NewDecoder() *Decoder {
	return &Decoder{
		state:   stateIdle,
		timeout: DefaultTimeout,
	}
}

// SetTimeout adjusts the inter-byte timeout for frames mid-assembly
func (d *Decoder) SetTimeout(timeout time.Duration) {
	d.timeout = timeout
}

// Reset returns the decoder to the idle state and discards any partial frame
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.id = 0
	d.length = 0
	d.index = 0
	d.crc = crcInitial
	d.wireCRC = 0
	d.crcIndex = 0
}

// Buffered returns the number of payload bytes accumulated for the frame
// currently mid-assembly
func (d *Decoder) Buffered() int {
	return d.index
}

// InFrame reports whether the decoder has consumed a start sequence and is
// waiting for the rest of a frame
func (d *Decoder) InFrame() bool {
	return d.state != stateIdle
}

// CheckTimeout resets the decoder and reports ErrTimeout when a frame is
// mid-assembly and no byte has arrived within the timeout window. It returns
// nil in the idle state, so a silent line never produces repeated timeouts.
func (d *Decoder) CheckTimeout(now time.Time) error {
	if d.state == stateIdle {
		return nil
	}
	if now.Sub(d.lastByte) <= d.timeout {
		return nil
	}
	d.Reset()
	return fmt.Errorf("%w after %v", ErrTimeout, d.timeout)
}

// DecodeByte processes a single byte through the state machine.
// Returns (frame, nil) when the byte completes a valid frame,
// (nil, nil) while more bytes are needed, and (nil, err) when the
// byte invalidates the frame being assembled. Every error resets the
// decoder; the next start sequence begins a fresh frame.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	d.lastByte = time.Now()

	switch d.state {
	case stateIdle:
		if b == StartByte1 {
			d.Reset()
			d.state = stateStart2
		}
		return nil, nil

	case stateStart2:
		if b == StartByte2 {
			d.state = stateFrameID
		} else {
			// Line noise that happened to contain start1.
			d.Reset()
		}
		return nil, nil

	case stateFrameID:
		d.id = b
		d.crc = UpdateCRC(d.crc, b)
		d.state = stateLenLow
		return nil, nil

	case stateLenLow:
		d.length = int(b)
		d.crc = UpdateCRC(d.crc, b)
		d.state = stateLenHigh
		return nil, nil

	case stateLenHigh:
		d.length |= int(b) << 8
		d.crc = UpdateCRC(d.crc, b)
		if d.length > BufferSize {
			length := d.length
			d.Reset()
			return nil, fmt.Errorf("%w: %d > %d", ErrBadLength, length, BufferSize)
		}
		if d.length > 0 {
			d.state = stateData
		} else {
			d.state = stateCRC
		}
		return nil, nil

	case stateData:
		d.buffer[d.index] = b
		d.index++
		d.crc = UpdateCRC(d.crc, b)
		if d.index == d.length {
			d.state = stateCRC
		}
		return nil, nil

	case stateCRC:
		d.wireCRC |= uint16(b) << (8 * d.crcIndex)
		d.crcIndex++
		if d.crcIndex < 2 {
			return nil, nil
		}
		if d.crc != d.wireCRC {
			calculated, received := d.crc, d.wireCRC
			d.Reset()
			return nil, fmt.Errorf("%w: calculated 0x%04X, received 0x%04X", ErrCRCMismatch, calculated, received)
		}
		d.state = stateStop1
		return nil, nil

	case stateStop1:
		if b != StopByte1 {
			d.Reset()
			return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrBadStopByte, StopByte1, b)
		}
		d.state = stateStop2
		return nil, nil

	case stateStop2:
		if b != StopByte2 {
			d.Reset()
			return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrBadStopByte, StopByte2, b)
		}
		frame := &Frame{
			id:        d.id,
			payload:   append([]byte(nil), d.buffer[:d.length]...),
			crc:       d.wireCRC,
			timestamp: time.Now(),
		}
		d.Reset()
		return frame, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}

// ParseFrame extracts the next frame from a byte buffer, for offline decoding
// of captured traffic and compiled script images. It scans to the first start
// sequence and returns the parsed frame along with the number of bytes
// consumed (scan offset included). Unlike the live decoder, CRC and stop-byte
// mismatches are logged and tolerated; only structural truncation fails.
func ParseFrame(buf []byte) (*Frame, int, error) {
	start := -1
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == StartByte1 && buf[i+1] == StartByte2 {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, len(buf), fmt.Errorf("no start sequence in %d bytes", len(buf))
	}

	rest := buf[start:]
	if len(rest) < FrameOverhead {
		return nil, start, fmt.Errorf("truncated frame header: %d bytes", len(rest))
	}

	id := rest[2]
	length := int(rest[3]) | int(rest[4])<<8
	if len(rest) < FrameOverhead+length {
		return nil, start, fmt.Errorf("truncated frame: declared %d payload bytes, have %d", length, len(rest)-FrameOverhead)
	}

	payload := append([]byte(nil), rest[5:5+length]...)
	wireCRC := uint16(rest[5+length]) | uint16(rest[6+length])<<8

	if calculated := headerPayloadCRC(id, payload); calculated != wireCRC {
		logrus.WithFields(logrus.Fields{
			"id":         fmt.Sprintf("0x%02X", id),
			"calculated": fmt.Sprintf("0x%04X", calculated),
			"received":   fmt.Sprintf("0x%04X", wireCRC),
		}).Warn("frame CRC mismatch, continuing")
	}
	if rest[7+length] != StopByte1 || rest[8+length] != StopByte2 {
		logrus.WithField("id", fmt.Sprintf("0x%02X", id)).Warn("invalid stop bytes, continuing")
	}

	frame := &Frame{
		id:        id,
		payload:   payload,
		crc:       wireCRC,
		timestamp: time.Now(),
	}
	return frame, start + FrameOverhead + length, nil
}
