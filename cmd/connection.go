// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Lumiquad/lampyre/pkg/modfsp"
)

// Connection is the byte transport handed to the protocol port
type Connection = modfsp.Conn

// ErrConnectionClosed is returned by reads on a WebSocket whose peer has
// gone away. Readers treat it as a permanent failure, unlike transient
// serial errors.
var ErrConnectionClosed = errors.New("websocket connection closed")

// SerialConnection adapts a serial port to the Connection interface
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// WebSocketConnection adapts a message-oriented WebSocket to the
// byte-stream Connection interface. Incoming binary messages are held in
// pending and drained across as many Read calls as the caller needs;
// frames never align with message boundaries, so no boundary is assumed.
type WebSocketConnection struct {
	conn    *websocket.Conn
	pending []byte
	failed  bool
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.failed {
		return 0, ErrConnectionClosed
	}

	for len(w.pending) == 0 {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			// ReadMessage errors are not recoverable on this conn
			w.failed = true
			return 0, err
		}
		// Text/ping traffic on the same socket carries no frames
		if messageType == websocket.BinaryMessage {
			w.pending = data
		}
	}

	n := copy(p, w.pending)
	w.pending = w.pending[n:]
	return n, nil
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens portName at the given baud rate, 8-N-1
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}
	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection dials wsURL, optionally authenticating with HTTP
// Basic credentials. skipSSLVerify disables certificate checks for wss://.
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket dial failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword resolves the WebSocket password: LAMPYRE_PASSWORD if set,
// otherwise an interactive prompt with echo suppressed. Piped stdin (no
// terminal) falls back to a plain line read.
func GetPassword() (string, error) {
	if pw := os.Getenv("LAMPYRE_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err == nil {
		return string(passwordBytes), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// OpenConnection opens the transport selected by the persistent flags and
// returns it with a printable description
func OpenConnection() (Connection, string, error) {
	switch {
	case wsURL != "":
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}
		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil

	case portName != "":
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil

	default:
		return nil, "", fmt.Errorf("either --port or --url must be specified")
	}
}

// openPort opens the configured connection and wraps it in a started port
// with the ground-profile timeout
func openPort() (*modfsp.Port, string, error) {
	conn, info, err := OpenConnection()
	if err != nil {
		return nil, "", err
	}
	port := modfsp.NewPort(conn, modfsp.NewRegistry())
	port.SetTimeout(modfsp.GroundTimeout)
	port.Start()
	return port, info, nil
}
