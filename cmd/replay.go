// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Lumiquad/lampyre/pkg/modfsp"
)

var replaySend bool

var replayCmd = &cobra.Command{
	Use:   "replay <capture.cbor>",
	Short: "Print a journal capture, or re-send its outbound frames",
	Long: `Read a CBOR capture written by "lampyre log --journal".

Without flags the capture is printed frame by frame. With --send, the
frames journaled in the outbound direction are re-sent over the
configured connection in their original order.

Examples:
  lampyre replay session.cbor
  lampyre replay session.cbor --send --port /dev/ttyUSB0`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replaySend, "send", false, "Re-send outbound frames over the connection")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening capture: %w", err)
	}
	defer f.Close()

	var port *modfsp.Port
	if replaySend {
		var info string
		port, info, err = openPort()
		if err != nil {
			return err
		}
		defer port.Close()
		fmt.Printf("Re-sending to %s\n\n", info)
	}

	reader := modfsp.NewJournalReader(f)
	var total, sent int
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading capture after %d records: %w", total, err)
		}
		total++

		fmt.Printf("[%s] %-3s %s (0x%02X) len=%d\n",
			rec.Time.Format("15:04:05.000"), rec.Dir, modfsp.FormatFrameID(rec.ID), rec.ID, len(rec.Payload))

		if port != nil && rec.Dir == modfsp.DirOut {
			if err := port.Send(rec.ID, rec.Payload); err != nil {
				return fmt.Errorf("re-sending record %d: %w", total, err)
			}
			sent++
		}
	}

	fmt.Printf("\n%d records", total)
	if replaySend {
		fmt.Printf(", %d re-sent", sent)
	}
	fmt.Println()
	return nil
}
