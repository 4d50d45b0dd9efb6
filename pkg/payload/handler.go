// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

// Package payload implements a device-side responder for bench testing:
// it speaks the instrument's half of the link so the ground tooling can be
// exercised without hardware.
package payload

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Lumiquad/lampyre/pkg/modfsp"
	"github.com/Lumiquad/lampyre/pkg/script"
)

const laserChannels = 8

// Handler acks ground commands, stores uploaded script sections, and
// answers queries from its synthetic state
type Handler struct {
	port *modfsp.Port
	log  *logrus.Entry

	mu              sync.Mutex
	sections        map[byte][]script.Step
	lastSync        time.Time
	haveSync        bool
	paused          bool
	running         bool
	selfTestCurrent uint16
	internalLasers  [laserChannels]byte
	externalLasers  [laserChannels]byte
}

// New creates a handler and installs it on the port's registry. The port
// should be started by the caller.
func New(port *modfsp.Port) *Handler {
	h := &Handler{
		port:            port,
		log:             logrus.WithField("component", "payload.handler"),
		sections:        make(map[byte][]script.Step),
		selfTestCurrent: 1500, // plausible diode current in mA
	}

	registry := port.Registry()
	registry.Register(modfsp.CmdHalt, h.onHalt)
	registry.Register(modfsp.CmdFramePause, h.onPause)
	registry.Register(modfsp.CmdFrameResume, h.onResume)
	registry.Register(modfsp.CmdSendTime, h.onSendTime)
	registry.Register(modfsp.CmdRunExperiment, h.onRun)
	registry.Register(modfsp.CmdUpdateOBC, h.ackOnly(modfsp.AckUpdateOBC))
	registry.Register(modfsp.CmdUpdateExp, h.ackOnly(modfsp.AckUpdateExp))
	registry.Register(modfsp.FrameIDScriptInit, h.sectionHandler(modfsp.FrameIDScriptInit, modfsp.AckScriptInit))
	registry.Register(modfsp.FrameIDScriptDLS, h.sectionHandler(modfsp.FrameIDScriptDLS, modfsp.AckScriptDLS))
	registry.Register(modfsp.FrameIDScriptCam, h.sectionHandler(modfsp.FrameIDScriptCam, modfsp.AckScriptCam))
	registry.Register(modfsp.CmdGetLaserInternal, h.onLaserQuery(modfsp.AckGetLaserInternal))
	registry.Register(modfsp.CmdGetLaserExternal, h.onLaserQuery(modfsp.AckGetLaserExternal))
	registry.Register(modfsp.CmdSelfTest, h.onSelfTest)
	registry.Register(modfsp.CmdTestConnection, h.onTestConnection)
	return h
}

// SetSelfTestCurrent configures the synthetic current reading
func (h *Handler) SetSelfTestCurrent(mA uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.selfTestCurrent = mA
}

// LastSyncedTime returns the most recent time pushed by the ground side
func (h *Handler) LastSyncedTime() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSync, h.haveSync
}

// Section returns the stored steps for a section frame ID
func (h *Handler) Section(frameID byte) []script.Step {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sections[frameID]
}

// Running reports whether a run command has been accepted
func (h *Handler) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Paused reports whether frame processing is paused
func (h *Handler) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

func (h *Handler) reply(id byte, payload []byte) {
	if err := h.port.Send(id, payload); err != nil {
		h.log.WithError(err).WithField("id", fmt.Sprintf("0x%02X", id)).Error("reply failed")
	}
}

func (h *Handler) nak() {
	h.reply(modfsp.NakMaster, nil)
}

func (h *Handler) ackOnly(ackID byte) modfsp.Handler {
	return func(payload []byte) {
		h.reply(ackID, nil)
	}
}

func (h *Handler) onHalt(payload []byte) {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
	h.log.Info("halt")
	h.reply(modfsp.AckHalt, nil)
}

func (h *Handler) onPause(payload []byte) {
	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
	h.reply(modfsp.AckFramePause, nil)
}

func (h *Handler) onResume(payload []byte) {
	h.mu.Lock()
	h.paused = false
	h.mu.Unlock()
	h.reply(modfsp.AckFrameResume, nil)
}

func (h *Handler) onRun(payload []byte) {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	h.log.Info("experiment started")
	h.reply(modfsp.AckRunExperiment, nil)
}

func (h *Handler) onSendTime(payload []byte) {
	if len(payload) != 6 {
		h.log.WithField("len", len(payload)).Warn("bad time sync payload")
		h.nak()
		return
	}
	synced := time.Date(2000+int(payload[5]), time.Month(payload[4]), int(payload[3]),
		int(payload[0]), int(payload[1]), int(payload[2]), 0, time.UTC)
	h.mu.Lock()
	h.lastSync = synced
	h.haveSync = true
	h.mu.Unlock()
	h.log.WithField("time", synced.Format(time.RFC3339)).Info("time synced")
	h.reply(modfsp.AckSendTime, nil)
}

func (h *Handler) sectionHandler(frameID, ackID byte) modfsp.Handler {
	return func(payload []byte) {
		steps, err := script.DecodeSection(payload)
		if err != nil {
			h.log.WithError(err).WithField("section", fmt.Sprintf("0x%02X", frameID)).
				Warn("rejecting malformed section")
			h.nak()
			return
		}
		h.mu.Lock()
		h.sections[frameID] = steps
		h.mu.Unlock()
		h.log.WithFields(logrus.Fields{
			"section": fmt.Sprintf("0x%02X", frameID),
			"steps":   len(steps),
		}).Info("section stored")
		h.reply(ackID, nil)
	}
}

func (h *Handler) onLaserQuery(ackID byte) modfsp.Handler {
	return func(payload []byte) {
		h.mu.Lock()
		var states [laserChannels]byte
		if ackID == modfsp.AckGetLaserExternal {
			states = h.externalLasers
		} else {
			states = h.internalLasers
		}
		h.mu.Unlock()
		h.reply(ackID, states[:])
	}
}

func (h *Handler) onSelfTest(payload []byte) {
	if len(payload) != 3 {
		h.log.WithField("len", len(payload)).Warn("bad self test payload")
		h.nak()
		return
	}
	kind, intensity, mask := payload[0], payload[1], payload[2]

	h.mu.Lock()
	bank := &h.internalLasers
	if modfsp.SelfTestKind(kind) == modfsp.SelfTestExternal {
		bank = &h.externalLasers
	}
	for bit := 0; bit < laserChannels; bit++ {
		if mask&(1<<bit) != 0 {
			bank[bit] = intensity
		}
	}
	current := h.selfTestCurrent
	h.mu.Unlock()

	h.reply(modfsp.AckSelfTest, []byte{byte(current), byte(current >> 8)})
}

func (h *Handler) onTestConnection(payload []byte) {
	if len(payload) != 4 {
		h.log.WithField("len", len(payload)).Warn("bad connection test payload")
		h.nak()
		return
	}
	h.reply(modfsp.AckTestConnection, payload)
}
