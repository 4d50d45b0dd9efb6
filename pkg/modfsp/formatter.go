// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package modfsp

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// FormatFrameID returns a human-readable name for a frame ID
func FormatFrameID(id byte) string {
	switch id {
	case CmdSendTime:
		return "CMD_SEND_TIME"
	case CmdRunExperiment:
		return "CMD_RUN_EXPERIMENT"
	case CmdUpdateOBC:
		return "CMD_UPDATE_OBC"
	case CmdUpdateExp:
		return "CMD_UPDATE_EXP"
	case AckSendTime:
		return "ACK_SEND_TIME"
	case AckRunExperiment:
		return "ACK_RUN_EXPERIMENT"
	case AckUpdateOBC:
		return "ACK_UPDATE_OBC"
	case AckUpdateExp:
		return "ACK_UPDATE_EXP"
	case CmdGetLaserInternal:
		return "CMD_GET_LASER_INTERNAL"
	case CmdGetLaserExternal:
		return "CMD_GET_LASER_EXTERNAL"
	case AckGetLaserInternal:
		return "ACK_GET_LASER_INTERNAL"
	case AckGetLaserExternal:
		return "ACK_GET_LASER_EXTERNAL"
	case CmdFramePause:
		return "CMD_PAUSE"
	case AckFramePause:
		return "ACK_PAUSE"
	case CmdFrameResume:
		return "CMD_RESUME"
	case AckFrameResume:
		return "ACK_RESUME"
	case CmdSelfTest:
		return "CMD_SELF_TEST"
	case AckSelfTest:
		return "ACK_SELF_TEST"
	case CmdTestConnection:
		return "CMD_TEST_CONNECTION"
	case AckTestConnection:
		return "ACK_TEST_CONNECTION"
	case CmdHalt:
		return "CMD_HALT"
	case AckHalt:
		return "ACK_HALT"
	case FrameIDScriptInit:
		return "SCRIPT_INIT"
	case FrameIDScriptDLS:
		return "SCRIPT_DLS"
	case FrameIDScriptCam:
		return "SCRIPT_CAM"
	case AckScriptInit:
		return "ACK_SCRIPT_INIT"
	case AckScriptDLS:
		return "ACK_SCRIPT_DLS"
	case AckScriptCam:
		return "ACK_SCRIPT_CAM"
	case AckMaster:
		return "ACK_MASTER"
	case NakMaster:
		return "NAK_MASTER"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", id)
	}
}

// FormatFrame renders a frame for console monitors and logs
func FormatFrame(f *Frame) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s (0x%02X) len=%d",
		f.Timestamp().Format("15:04:05.000"), FormatFrameID(f.ID()), f.ID(), f.Len()))

	if decoded := formatPayload(f); decoded != "" {
		sb.WriteString(" ")
		sb.WriteString(decoded)
	}
	if f.Len() > 0 {
		sb.WriteString("\n  ")
		sb.WriteString(formatHex(f.Payload()))
	}
	return sb.String()
}

// formatPayload decodes the payloads with a known field layout
func formatPayload(f *Frame) string {
	p := f.Payload()
	switch f.ID() {
	case CmdSendTime:
		if len(p) == 6 {
			return fmt.Sprintf("%02d:%02d:%02d %02d/%02d/%02d", p[0], p[1], p[2], p[3], p[4], p[5])
		}
	case AckSelfTest:
		if len(p) == 2 {
			return fmt.Sprintf("current=%d mA", binary.LittleEndian.Uint16(p))
		}
	case CmdTestConnection, AckTestConnection:
		if len(p) == 4 {
			return fmt.Sprintf("value=%d", binary.BigEndian.Uint32(p))
		}
	case AckGetLaserInternal, AckGetLaserExternal:
		states := make([]string, len(p))
		for i, b := range p {
			states[i] = fmt.Sprintf("%d", b)
		}
		return "states=[" + strings.Join(states, " ") + "]"
	}
	return ""
}

const hexDumpLimit = 32

// formatHex renders payload bytes as space-separated hex, truncated for
// long payloads
func formatHex(data []byte) string {
	n := len(data)
	truncated := false
	if n > hexDumpLimit {
		n = hexDumpLimit
		truncated = true
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%02X", data[i])
	}
	out := strings.Join(parts, " ")
	if truncated {
		out += fmt.Sprintf(" ... (%d bytes)", len(data))
	}
	return out
}
