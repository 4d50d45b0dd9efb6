// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

// Package ground implements the operator-side command flows of the
// instrument link: link establishment, time sync, experiment control,
// self tests, and script upload with section-ack tracking.
package ground

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Lumiquad/lampyre/pkg/modfsp"
)

// Controller timing defaults
const (
	// DefaultAckTimeout bounds a single command/ack exchange
	DefaultAckTimeout = 3500 * time.Millisecond

	// uploadAckTimeout bounds the wait for all section acks of one upload
	uploadAckTimeout = 10 * time.Second

	linkAttempts   = 3
	linkRetryDelay = 500 * time.Millisecond

	commandRetries = 3

	emergencyHalts = 3
	emergencyDelay = 100 * time.Millisecond
)

// Controller failure modes
var (
	ErrLinkDown   = errors.New("no response from instrument")
	ErrBadEcho    = errors.New("connection test echo mismatch")
	ErrNoSections = errors.New("image contains no script sections")
	ErrUploadAcks = errors.New("section acks missing")
)

// Controller drives ground-side command flows over one port. Commands in
// this vocabulary are idempotent, so ack timeouts are retried.
type Controller struct {
	port       *modfsp.Port
	log        *logrus.Entry
	ackTimeout time.Duration
}

// NewController creates a controller over an already started port
func NewController(port *modfsp.Port) *Controller {
	return &Controller{
		port:       port,
		log:        logrus.WithField("component", "ground.controller"),
		ackTimeout: DefaultAckTimeout,
	}
}

// SetAckTimeout adjusts the per-exchange ack wait
func (c *Controller) SetAckTimeout(timeout time.Duration) {
	c.ackTimeout = timeout
}

// command runs one command/ack exchange, retrying on ack timeout
func (c *Controller) command(ctx context.Context, frame *modfsp.Frame, ackID byte) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= commandRetries; attempt++ {
		ack, err := c.port.SendAndWait(ctx, frame.ID(), frame.Payload(), ackID, c.ackTimeout)
		if err == nil {
			return ack, nil
		}
		lastErr = err
		if !errors.Is(err, modfsp.ErrAckTimeout) {
			return nil, err
		}
		c.log.WithFields(logrus.Fields{
			"command": modfsp.FormatFrameID(frame.ID()),
			"attempt": attempt,
		}).Warn("ack timed out")
	}
	return nil, lastErr
}

// EstablishLink probes the instrument with pause frames until one is
// acknowledged, up to 3 attempts 500 ms apart
func (c *Controller) EstablishLink(ctx context.Context) error {
	for attempt := 1; attempt <= linkAttempts; attempt++ {
		_, err := c.port.SendAndWait(ctx, modfsp.CmdFramePause, nil, modfsp.AckFramePause, c.ackTimeout)
		if err == nil {
			c.log.WithField("attempt", attempt).Info("link established")
			return nil
		}
		if !errors.Is(err, modfsp.ErrAckTimeout) {
			return err
		}
		if attempt < linkAttempts {
			select {
			case <-time.After(linkRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return ErrLinkDown
}

// SyncTime pushes the wall clock to the instrument
func (c *Controller) SyncTime(ctx context.Context, now time.Time) error {
	_, err := c.command(ctx, modfsp.NewSyncTimeFrame(now), modfsp.AckSendTime)
	return err
}

// RunExperiment starts the loaded script
func (c *Controller) RunExperiment(ctx context.Context) error {
	_, err := c.command(ctx, modfsp.NewRunExperimentFrame(), modfsp.AckRunExperiment)
	return err
}

// Halt stops the running experiment and waits for the ack
func (c *Controller) Halt(ctx context.Context) error {
	_, err := c.command(ctx, modfsp.NewHaltFrame(), modfsp.AckHalt)
	return err
}

// Pause suspends frame processing on the instrument
func (c *Controller) Pause(ctx context.Context) error {
	_, err := c.command(ctx, modfsp.NewPauseFrame(), modfsp.AckFramePause)
	return err
}

// Resume restarts frame processing on the instrument
func (c *Controller) Resume(ctx context.Context) error {
	_, err := c.command(ctx, modfsp.NewResumeFrame(), modfsp.AckFrameResume)
	return err
}

// EmergencyStop queues 3 halt frames 100 ms apart without waiting for any
// ack. Fire and forget: the operator's panic path must never block.
func (c *Controller) EmergencyStop() error {
	var lastErr error
	for i := 0; i < emergencyHalts; i++ {
		if err := c.port.Send(modfsp.CmdHalt, nil); err != nil {
			c.log.WithError(err).Error("emergency halt enqueue failed")
			lastErr = err
		}
		if i < emergencyHalts-1 {
			time.Sleep(emergencyDelay)
		}
	}
	return lastErr
}

// SelfTest fires a laser self test and returns the measured current in mA
func (c *Controller) SelfTest(ctx context.Context, kind modfsp.SelfTestKind, intensity, positionMask byte) (uint16, error) {
	ack, err := c.command(ctx, modfsp.NewSelfTestFrame(kind, intensity, positionMask), modfsp.AckSelfTest)
	if err != nil {
		return 0, err
	}
	return modfsp.ParseSelfTestAck(ack)
}

// TestConnection sends a 32-bit value the instrument must echo back
func (c *Controller) TestConnection(ctx context.Context, value uint32) error {
	ack, err := c.command(ctx, modfsp.NewTestConnectionFrame(value), modfsp.AckTestConnection)
	if err != nil {
		return err
	}
	echoed, err := modfsp.ParseTestConnectionAck(ack)
	if err != nil {
		return err
	}
	if echoed != value {
		return fmt.Errorf("%w: sent %d, got %d", ErrBadEcho, value, echoed)
	}
	return nil
}

// InternalLaser queries the internal laser bank; the ack payload carries
// one intensity byte per channel
func (c *Controller) InternalLaser(ctx context.Context) ([]byte, error) {
	return c.command(ctx, modfsp.NewLaserStatusFrame(modfsp.SelfTestInternal), modfsp.AckGetLaserInternal)
}

// ExternalLaser queries the external laser bank
func (c *Controller) ExternalLaser(ctx context.Context) ([]byte, error) {
	return c.command(ctx, modfsp.NewLaserStatusFrame(modfsp.SelfTestExternal), modfsp.AckGetLaserExternal)
}

// sectionAcks maps each script section frame to its ack
var sectionAcks = map[byte]byte{
	modfsp.FrameIDScriptInit: modfsp.AckScriptInit,
	modfsp.FrameIDScriptDLS:  modfsp.AckScriptDLS,
	modfsp.FrameIDScriptCam:  modfsp.AckScriptCam,
}

// UploadScript writes a compiled multi-frame script image to the link and
// waits for the acks of every section frame actually present in the image.
// Empty sections emit no frame and expect no ack. Upload is idempotent;
// callers may retry on failure.
func (c *Controller) UploadScript(ctx context.Context, image []byte) error {
	expected := make(map[byte]bool)
	rest := image
	for len(rest) > 0 {
		frame, consumed, err := modfsp.ParseFrame(rest)
		if err != nil {
			break
		}
		rest = rest[consumed:]
		if ackID, ok := sectionAcks[frame.ID()]; ok {
			expected[ackID] = true
		} else {
			c.log.WithField("id", fmt.Sprintf("0x%02X", frame.ID())).
				Warn("non-section frame in script image")
		}
	}
	if len(expected) == 0 {
		return ErrNoSections
	}

	acks := make(chan byte, len(expected))
	registry := c.port.Registry()
	for ackID := range expected {
		ackID := ackID
		registry.Register(ackID, func(payload []byte) {
			acks <- ackID
		})
		defer registry.Unregister(ackID)
	}

	if err := c.port.SendRaw(image); err != nil {
		return err
	}

	timer := time.NewTimer(uploadAckTimeout)
	defer timer.Stop()
	remaining := len(expected)
	for remaining > 0 {
		select {
		case ackID := <-acks:
			if expected[ackID] {
				expected[ackID] = false
				remaining--
				c.log.WithField("ack", modfsp.FormatFrameID(ackID)).Debug("section acknowledged")
			}
		case <-timer.C:
			return fmt.Errorf("%w: %d of %d", ErrUploadAcks, remaining, len(expected))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
