// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package script

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Lumiquad/lampyre/pkg/modfsp"
)

// ErrEmptyImage means a binary image yielded no script sections at all
var ErrEmptyImage = errors.New("no script sections in image")

// sectionOrder fixes the frame ID each section compiles under and the
// order sections appear in the image
var sectionOrder = []struct {
	frameID byte
	name    string
}{
	{modfsp.FrameIDScriptInit, "init"},
	{modfsp.FrameIDScriptDLS, "dls_routine"},
	{modfsp.FrameIDScriptCam, "cam_routine"},
}

// Assemble compiles a script to its wire image: each non-empty section is
// encoded and wrapped in one MODFSP frame, concatenated in fixed order
// (init, scattering routine, camera routine). Empty sections emit no frame.
func Assemble(s *Script, version uint16) ([]byte, error) {
	var img []byte
	for _, sec := range sectionOrder {
		steps := s.sectionSteps(sec.frameID)
		if len(steps) == 0 {
			continue
		}
		data, err := encodeSection(steps, version)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", sec.name, err)
		}
		img, err = modfsp.AppendFrame(img, sec.frameID, data)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", sec.name, err)
		}
	}
	return img, nil
}

// Disassemble walks a compiled image frame by frame back to source form.
// Frames with IDs outside the section vocabulary are logged and skipped;
// the walk stops at the first structurally unparseable frame.
func Disassemble(buf []byte) (*Script, error) {
	log := logrus.WithField("component", "script.disassembler")

	s := &Script{}
	decoded := 0
	rest := buf
	for len(rest) > 0 {
		frame, consumed, err := modfsp.ParseFrame(rest)
		if err != nil {
			if decoded == 0 {
				return nil, fmt.Errorf("%w: %v", ErrEmptyImage, err)
			}
			log.WithError(err).Debug("stopping at unparseable trailing bytes")
			break
		}
		rest = rest[consumed:]

		target := s.sectionByFrameID(frame.ID())
		if target == nil {
			log.WithField("id", fmt.Sprintf("0x%02X", frame.ID())).
				Warn("frame is not a script section, skipped")
			continue
		}

		steps, err := DecodeSection(frame.Payload())
		if err != nil {
			return nil, fmt.Errorf("frame 0x%02X: %w", frame.ID(), err)
		}
		target.Steps = steps
		decoded++
	}

	if decoded == 0 {
		return nil, ErrEmptyImage
	}
	return s, nil
}

// DecompileScript is the binary-to-source counterpart of Compile
func DecompileScript(buf []byte) (*Script, error) {
	return Disassemble(buf)
}

func (s *Script) sectionSteps(frameID byte) []Step {
	if sec := s.sectionByFrameID(frameID); sec != nil {
		return sec.Steps
	}
	return nil
}

func (s *Script) sectionByFrameID(frameID byte) *Section {
	switch frameID {
	case modfsp.FrameIDScriptInit:
		return &s.Init
	case modfsp.FrameIDScriptDLS:
		return &s.DLSRoutine
	case modfsp.FrameIDScriptCam:
		return &s.CamRoutine
	}
	return nil
}
