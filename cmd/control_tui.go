// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Lumiquad/lampyre/pkg/modfsp"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	probeIntervalSeconds = 5 // Send a connection test probe every N seconds
	maxIntensity         = 255
	laserChannels        = 8
)

// Focus states
const (
	focusPalette = iota
	focusIntensityInput
)

// Palette actions
const (
	actionSyncTime = iota
	actionRun
	actionHalt
	actionPause
	actionResume
	actionSelfTestInternal
	actionSelfTestExternal
	actionQueryInternal
	actionQueryExternal
	actionTestConnection
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// paletteEntry is one command in the palette
type paletteEntry struct {
	action int
	name   string
	desc   string
}

// Implement list.Item interface
func (p paletteEntry) Title() string       { return p.name }
func (p paletteEntry) Description() string { return p.desc }
func (p paletteEntry) FilterValue() string { return p.name }

// eventLogEntry is one line in the scrolling event log
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	// Connection manager (for sending commands and reconnection)
	connMgr  *connectionManager
	connInfo string

	// Command palette
	palette list.Model

	// Self test intensity
	intensityInput textinput.Model
	focusedField   int

	// Monitoring
	stats         *modfsp.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int

	// Instrument state gleaned from acks
	linkUp           bool
	lastAckTime      time.Time
	selfTestCurrent  uint16
	hasSelfTest      bool
	internalLasers   []byte
	externalLasers   []byte
	pendingEchoValue uint32
	hasPendingEcho   bool

	// Probe state
	lastProbeTime time.Time
	probeCounter  uint32

	// UI state
	width          int
	height         int
	synchronized   bool
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controlDataMsg struct {
	frame            *modfsp.Frame
	decodeErr        error
	validationErrors []modfsp.ValidationError
}

type controlSyncMsg struct {
	syncErrors int
}

type controlBatchMsg struct {
	messages []controlDataMsg
	syncMsg  *controlSyncMsg
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func paletteEntries() []list.Item {
	return []list.Item{
		paletteEntry{actionSyncTime, "Sync Time", "Push the local wall clock"},
		paletteEntry{actionRun, "Run Experiment", "Start the loaded script"},
		paletteEntry{actionHalt, "Halt", "Stop the running experiment"},
		paletteEntry{actionPause, "Pause", "Suspend frame processing"},
		paletteEntry{actionResume, "Resume", "Resume frame processing"},
		paletteEntry{actionSelfTestInternal, "Self Test (internal)", "Fire internal bank at set intensity"},
		paletteEntry{actionSelfTestExternal, "Self Test (external)", "Fire external bank at set intensity"},
		paletteEntry{actionQueryInternal, "Query Internal Lasers", "Read internal bank intensities"},
		paletteEntry{actionQueryExternal, "Query External Lasers", "Read external bank intensities"},
		paletteEntry{actionTestConnection, "Test Connection", "Echo round trip"},
	}
}

func initialControlModel(connMgr *connectionManager, connInfo string) controlModel {
	// Initialize text input for self test intensity
	ti := textinput.New()
	ti.Placeholder = "64"
	ti.CharLimit = 3
	ti.Width = 6

	// Initialize the command palette
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	palette := list.New(paletteEntries(), delegate, 34, 10)
	palette.Title = "Commands"
	palette.SetShowStatusBar(false)
	palette.SetShowHelp(false)
	palette.SetFilteringEnabled(false)

	return controlModel{
		connMgr:        connMgr,
		connInfo:       connInfo,
		palette:        palette,
		intensityInput: ti,
		focusedField:   focusPalette,
		stats:          modfsp.NewStatistics(),
		eventLog:       make([]eventLogEntry, 0),
		maxLogEntries:  100,
		width:          80,
		height:         24,
		synchronized:   false,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		return m.handleMouseMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		// Probe the link periodically so stale acks and dead connections
		// surface without operator action
		if !m.connectionLost && time.Since(m.lastProbeTime) >= probeIntervalSeconds*time.Second {
			m.lastProbeTime = time.Now()
			m.sendProbe()
		}
		return m, controlTickCmd()

	case controlSyncMsg:
		m.synchronized = true
		if msg.syncErrors > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after %d decode errors", msg.syncErrors), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case controlBatchMsg:
		if msg.syncMsg != nil {
			m.synchronized = true
			if msg.syncMsg.syncErrors > 0 {
				m.addLogEntry(fmt.Sprintf("Synchronized after %d decode errors", msg.syncMsg.syncErrors), false)
			} else {
				m.addLogEntry("Synchronized", false)
			}
		}
		for _, data := range msg.messages {
			m.processControlData(data)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.linkUp = false
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.synchronized = false
		m.lastProbeTime = time.Time{} // Probe on the next tick
		m.addLogEntry("Reconnected", false)
	}

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusIntensityInput {
		m.intensityInput, cmd = m.intensityInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.focusedField == focusPalette {
		m.palette, cmd = m.palette.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "x":
		if m.focusedField != focusIntensityInput {
			m.emergencyStop()
			return m, nil
		}

	case "tab", "shift+tab":
		m.cycleFocus()
		return m, nil

	case "enter":
		if m.focusedField == focusPalette {
			m.executeSelected()
			return m, nil
		}

	case "up", "k", "down", "j":
		if m.focusedField == focusPalette {
			m.palette, _ = m.palette.Update(msg)
			return m, nil
		}
	}

	// Pass through to focused component
	if m.focusedField == focusIntensityInput {
		var cmd tea.Cmd
		m.intensityInput, cmd = m.intensityInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *controlModel) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionRelease || msg.Button != tea.MouseButtonLeft {
		return m, nil
	}

	m.palette, _ = m.palette.Update(msg)
	return m, nil
}

func (m *controlModel) cycleFocus() {
	if m.focusedField == focusPalette {
		m.focusedField = focusIntensityInput
		m.intensityInput.Focus()
	} else {
		m.focusedField = focusPalette
		m.intensityInput.Blur()
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// sendFrame encodes and writes one frame, logging the outcome
func (m *controlModel) sendFrame(frame *modfsp.Frame, what string) bool {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return false
	}

	conn := m.connMgr.getConn()
	if conn == nil {
		m.addLogEntry("Cannot send command: connection lost", true)
		return false
	}

	wire := modfsp.MustEncodeFrame(frame.ID(), frame.Payload())
	if _, err := conn.Write(wire); err != nil {
		m.addLogEntry(fmt.Sprintf("Failed to send %s: %v", what, err), true)
		return false
	}

	m.stats.RecordSent(len(wire))
	m.addLogEntry(fmt.Sprintf("Sent %s", what), false)
	return true
}

func (m *controlModel) executeSelected() {
	entry, ok := m.palette.SelectedItem().(paletteEntry)
	if !ok {
		return
	}

	switch entry.action {
	case actionSyncTime:
		now := time.Now()
		m.sendFrame(modfsp.NewSyncTimeFrame(now), fmt.Sprintf("SYNC TIME (%s)", now.Format("15:04:05")))

	case actionRun:
		m.sendFrame(modfsp.NewRunExperimentFrame(), "RUN EXPERIMENT")

	case actionHalt:
		m.sendFrame(modfsp.NewHaltFrame(), "HALT")

	case actionPause:
		m.sendFrame(modfsp.NewPauseFrame(), "PAUSE")

	case actionResume:
		m.sendFrame(modfsp.NewResumeFrame(), "RESUME")

	case actionSelfTestInternal:
		m.sendSelfTest(modfsp.SelfTestInternal)

	case actionSelfTestExternal:
		m.sendSelfTest(modfsp.SelfTestExternal)

	case actionQueryInternal:
		m.sendFrame(modfsp.NewLaserStatusFrame(modfsp.SelfTestInternal), "QUERY INTERNAL LASERS")

	case actionQueryExternal:
		m.sendFrame(modfsp.NewLaserStatusFrame(modfsp.SelfTestExternal), "QUERY EXTERNAL LASERS")

	case actionTestConnection:
		m.sendProbe()
	}
}

func (m *controlModel) sendSelfTest(kind modfsp.SelfTestKind) {
	intensityStr := m.intensityInput.Value()
	if intensityStr == "" {
		intensityStr = m.intensityInput.Placeholder
	}

	intensity, err := strconv.ParseUint(intensityStr, 10, 64)
	if err != nil || intensity > maxIntensity {
		m.addLogEntry(fmt.Sprintf("Invalid intensity: %s (0-%d)", intensityStr, maxIntensity), true)
		return
	}

	// All bank positions fire
	name := "internal"
	if kind == modfsp.SelfTestExternal {
		name = "external"
	}
	m.sendFrame(modfsp.NewSelfTestFrame(kind, byte(intensity), 0xFF),
		fmt.Sprintf("SELF TEST %s (intensity %d)", name, intensity))
}

func (m *controlModel) sendProbe() {
	m.probeCounter++
	m.pendingEchoValue = m.probeCounter
	m.hasPendingEcho = true

	conn := m.connMgr.getConn()
	if conn == nil {
		return // Connection loss is handled elsewhere
	}
	frame := modfsp.NewTestConnectionFrame(m.probeCounter)
	wire := modfsp.MustEncodeFrame(frame.ID(), frame.Payload())
	if _, err := conn.Write(wire); err != nil {
		return // Next tick will retry
	}
	m.stats.RecordSent(len(wire))
}

// emergencyStop queues 3 halt frames without waiting for acks
func (m *controlModel) emergencyStop() {
	conn := m.connMgr.getConn()
	if conn == nil {
		m.addLogEntry("EMERGENCY STOP failed: connection lost", true)
		return
	}

	wire := modfsp.MustEncodeFrame(modfsp.CmdHalt, nil)
	for i := 0; i < 3; i++ {
		if _, err := conn.Write(wire); err != nil {
			m.addLogEntry(fmt.Sprintf("EMERGENCY STOP write failed: %v", err), true)
			return
		}
		m.stats.RecordSent(len(wire))
	}
	m.addLogEntry("EMERGENCY STOP: 3 halt frames sent", true)
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) processControlData(msg controlDataMsg) {
	if msg.decodeErr != nil {
		if m.synchronized {
			m.stats.RecordDecodeError(msg.decodeErr)
			m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
		}
		return
	}

	if msg.frame == nil {
		return
	}

	m.stats.RecordFrame(msg.frame)
	m.stats.RecordAnomalies(len(msg.validationErrors))

	frame := msg.frame
	switch frame.ID() {
	case modfsp.AckSendTime:
		m.markAck()
		m.addLogEntry("Time sync acknowledged", false)

	case modfsp.AckRunExperiment:
		m.markAck()
		m.addLogEntry("Experiment started", false)

	case modfsp.AckHalt:
		m.markAck()
		m.addLogEntry("Halt acknowledged", false)

	case modfsp.AckFramePause:
		m.markAck()
		m.addLogEntry("Pause acknowledged", false)

	case modfsp.AckFrameResume:
		m.markAck()
		m.addLogEntry("Resume acknowledged", false)

	case modfsp.AckSelfTest:
		m.markAck()
		current, err := modfsp.ParseSelfTestAck(frame.Payload())
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Self test ack: %v", err), true)
			break
		}
		m.selfTestCurrent = current
		m.hasSelfTest = true
		m.addLogEntry(fmt.Sprintf("Self test current: %d mA", current), false)

	case modfsp.AckTestConnection:
		m.markAck()
		echoed, err := modfsp.ParseTestConnectionAck(frame.Payload())
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Connection test ack: %v", err), true)
			break
		}
		if m.hasPendingEcho && echoed != m.pendingEchoValue {
			m.addLogEntry(fmt.Sprintf("Echo mismatch: sent %d, got %d", m.pendingEchoValue, echoed), true)
		}
		m.hasPendingEcho = false

	case modfsp.AckGetLaserInternal:
		m.markAck()
		m.internalLasers = append([]byte(nil), frame.Payload()...)
		m.addLogEntry("Internal laser status updated", false)

	case modfsp.AckGetLaserExternal:
		m.markAck()
		m.externalLasers = append([]byte(nil), frame.Payload()...)
		m.addLogEntry("External laser status updated", false)

	case modfsp.NakMaster:
		m.addLogEntry("Instrument rejected the last command (NAK)", true)

	default:
		m.addLogEntry(fmt.Sprintf("Received %s len=%d", modfsp.FormatFrameID(frame.ID()), len(frame.Payload())), false)
	}

	for _, v := range msg.validationErrors {
		m.addLogEntry(fmt.Sprintf("%s: %s", modfsp.FormatFrameID(frame.ID()), v.Message), true)
	}
}

func (m *controlModel) markAck() {
	m.linkUp = true
	m.lastAckTime = time.Now()
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("LAMPYRE CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch x=EMERGENCY STOP", connStatus)))
	s.WriteString("\n")

	// Link state (below header)
	linkState := warningStyle.Render("no ack yet")
	if m.linkUp {
		linkState = valueStyle.Render(fmt.Sprintf("up, last ack %s", m.lastAckTime.Format("15:04:05")))
	}
	s.WriteString(fmt.Sprintf(" %s %s", labelStyle.Render("Link:"), linkState))
	s.WriteString("\n\n")

	// Layout: left panel (palette) | right panel (status)
	leftWidth := 34
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 20 {
		rightWidth = 20
	}

	paletteStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusPalette {
		paletteStyle = focusedBoxStyle.Width(leftWidth)
	}
	palettePanel := paletteStyle.Render(m.palette.View())

	statusContent := m.renderStatusPanel(labelStyle, valueStyle, headerStyle, focusedBoxStyle)
	statusPanel := boxStyle.Width(rightWidth).Render(statusContent)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, palettePanel, " ", statusPanel))
	s.WriteString("\n\n")

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(m.renderEventLog(labelStyle, warningStyle, boxStyle))

	return s.String()
}

func (m controlModel) renderStatusPanel(labelStyle, valueStyle, headerStyle, focusedBoxStyle lipgloss.Style) string {
	var s strings.Builder

	// Self test intensity input
	s.WriteString(labelStyle.Render("Self test intensity: "))
	if m.focusedField == focusIntensityInput {
		s.WriteString(m.intensityInput.View())
	} else {
		val := m.intensityInput.Value()
		if val == "" {
			val = m.intensityInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	s.WriteString("\n\n")

	// Last self test result
	if m.hasSelfTest {
		s.WriteString(fmt.Sprintf("%s %s\n\n",
			labelStyle.Render("Self test current:"),
			valueStyle.Render(fmt.Sprintf("%d mA", m.selfTestCurrent))))
	}

	// Laser banks
	s.WriteString(m.renderLaserBank("Internal", m.internalLasers, labelStyle, valueStyle, headerStyle))
	s.WriteString(m.renderLaserBank("External", m.externalLasers, labelStyle, valueStyle, headerStyle))

	return s.String()
}

func (m controlModel) renderLaserBank(name string, intensities []byte, labelStyle, valueStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render(fmt.Sprintf("%s lasers: ", name)))
	if intensities == nil {
		s.WriteString(headerStyle.Render("not queried"))
	} else {
		parts := make([]string, 0, laserChannels)
		for _, v := range intensities {
			parts = append(parts, fmt.Sprintf("%3d", v))
		}
		s.WriteString(valueStyle.Render(strings.Join(parts, " ")))
	}
	s.WriteString("\n")
	return s.String()
}

func (m controlModel) renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	snap := m.stats.Snapshot()

	errorTotal := snap.CRCErrors + snap.StopByteErrors + snap.LengthErrors + snap.Timeouts + snap.OtherErrors
	var errorPercent float64
	if snap.TotalFrames+errorTotal > 0 {
		errorPercent = float64(errorTotal) * 100.0 / float64(snap.TotalFrames+errorTotal)
	}
	var frameRate float64
	if secs := snap.Elapsed.Seconds(); secs > 0 {
		frameRate = float64(snap.TotalFrames) / secs
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Recv:"), valueStyle.Render(fmt.Sprintf("%d", snap.TotalFrames)),
		labelStyle.Render("Sent:"), valueStyle.Render(fmt.Sprintf("%d", snap.FramesSent)),
		labelStyle.Render("Errors:"), func() string {
			if errorPercent > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
			}
			return valueStyle.Render("0.0%")
		}(),
		labelStyle.Render("Anomalies:"), valueStyle.Render(fmt.Sprintf("%d", snap.Anomalies)),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f frm/s", frameRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog(labelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := 8
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}

	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m *controlModel) updateListSize() {
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.palette.SetSize(32, listHeight)
}
