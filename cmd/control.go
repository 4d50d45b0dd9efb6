// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package cmd

import (
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Lumiquad/lampyre/pkg/modfsp"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for operating the instrument",
	Long: `Operate the instrument via an interactive terminal UI.

This command provides a TUI for driving the instrument over a serial or
WebSocket link.

Features:
  - Command palette (time sync, run, halt, pause, resume)
  - Laser self tests with configurable intensity
  - Laser bank status display
  - Periodic link probing with echo verification
  - Statistics tracking and event logging
  - Automatic reconnection on connection loss
  - Emergency stop hotkey (x)

Tab switches between the command palette and the intensity field. Enter
executes the selected command. Acks arrive asynchronously and are shown
in the event log and status panel.

Supports both serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// connectionManager handles connection lifecycle and reconnection
type connectionManager struct {
	conn     Connection
	connInfo string
	mu       sync.RWMutex
	p        *tea.Program
	done     chan struct{}
}

func (cm *connectionManager) getConn() Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.connInfo = connInfo
}

func runControl(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	cm := &connectionManager{
		conn:     conn,
		connInfo: connInfo,
		done:     make(chan struct{}),
	}

	m := initialControlModel(cm, connInfo)

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	cm.p = p

	go cm.readerLoop()

	if _, err := p.Run(); err != nil {
		close(cm.done)
		cm.getConn().Close()
		return fmt.Errorf("TUI error: %v", err)
	}

	close(cm.done)
	cm.getConn().Close()
	return nil
}

// readerLoop handles reading from the connection with automatic reconnection
func (cm *connectionManager) readerLoop() {
	for {
		select {
		case <-cm.done:
			return
		default:
		}

		connLost := cm.readFromConnection()

		if connLost {
			cm.p.Send(connectionLostMsg{})

			if !cm.reconnect() {
				return // Shutdown requested during reconnect
			}
		}
	}
}

// readFromConnection decodes frames from the connection until it fails.
// Returns true if the connection was lost, false if shutdown was requested.
func (cm *connectionManager) readFromConnection() bool {
	decoder := modfsp.NewDecoder()
	decoder.SetTimeout(modfsp.GroundTimeout)
	synchronized := false
	errorsBeforeSync := 0

	// Buffered channel for batching updates
	batchChan := make(chan controlDataMsg, 100)
	syncChan := make(chan controlSyncMsg, 1)
	readerDone := make(chan struct{})

	// Reader goroutine owns the decoder and feeds the batch channel
	go func() {
		defer close(readerDone)
		buf := make([]byte, 128)
		for {
			select {
			case <-cm.done:
				return
			default:
			}

			conn := cm.getConn()
			if conn == nil {
				return
			}

			n, err := conn.Read(buf)
			if err != nil {
				select {
				case <-cm.done:
					return
				default:
					// A WebSocket read error means the connection is
					// permanently closed
					if err == ErrConnectionClosed {
						return
					}
					// Transient serial errors: sweep the frame timeout,
					// pause briefly, retry
					if tErr := decoder.CheckTimeout(time.Now()); tErr != nil && synchronized {
						select {
						case batchChan <- controlDataMsg{decodeErr: tErr}:
						default:
						}
					}
					time.Sleep(10 * time.Millisecond)
					continue
				}
			}

			for i := 0; i < n; i++ {
				frame, decodeErr := decoder.DecodeByte(buf[i])

				if decodeErr != nil {
					if synchronized {
						select {
						case batchChan <- controlDataMsg{decodeErr: decodeErr}:
						default:
						}
					} else {
						errorsBeforeSync++
					}
				} else if frame != nil {
					if !synchronized {
						synchronized = true
						select {
						case syncChan <- controlSyncMsg{syncErrors: errorsBeforeSync}:
						default:
						}
					}

					validationErrors := modfsp.ValidateFrame(frame)
					select {
					case batchChan <- controlDataMsg{
						frame:            frame,
						validationErrors: validationErrors,
					}:
					default:
					}
				}
			}
		}
	}()

	// Batch sender goroutine sends batched updates to the TUI at a fixed rate
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-cm.done:
				return
			case <-readerDone:
				return
			case <-ticker.C:
				var batch controlBatchMsg

				select {
				case sync := <-syncChan:
					batch.syncMsg = &sync
				default:
				}

			drainLoop:
				for {
					select {
					case msg := <-batchChan:
						batch.messages = append(batch.messages, msg)
					default:
						break drainLoop
					}
				}

				if batch.syncMsg != nil || len(batch.messages) > 0 {
					cm.p.Send(batch)
				}
			}
		}
	}()

	// Wait for reader to finish (connection lost or shutdown)
	<-readerDone

	select {
	case <-cm.done:
		return false
	default:
		return true // Connection lost
	}
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (cm *connectionManager) reconnect() bool {
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection()
		if err == nil {
			cm.setConn(conn, connInfo)
			cm.p.Send(reconnectedMsg{connInfo: connInfo})
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
