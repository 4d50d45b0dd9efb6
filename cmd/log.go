// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lumiquad/lampyre/pkg/modfsp"
)

var logJournalPath string

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print every decoded frame, optionally journaling to a capture file",
	Long: `Decode and print every frame arriving on the link.

With --journal, each frame is also appended to a CBOR capture file that
"lampyre replay" can print or re-send later.

Examples:
  lampyre log --port /dev/ttyUSB0
  lampyre log --url ws://ground-station.local/link --journal session.cbor`,
	RunE: runLog,
}

func init() {
	rootCmd.AddCommand(logCmd)
	logCmd.Flags().StringVar(&logJournalPath, "journal", "", "Append decoded frames to a CBOR capture file")
}

func runLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	var journal *modfsp.JournalWriter
	if logJournalPath != "" {
		f, err := os.OpenFile(logJournalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer f.Close()
		journal = modfsp.NewJournalWriter(f)
		fmt.Printf("Journaling to %s\n", logJournalPath)
	}

	fmt.Printf("Lampyre - Frame Log\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	decoder := modfsp.NewDecoder()
	decoder.SetTimeout(modfsp.GroundTimeout)

	buf := make([]byte, 256)
	lastCheck := time.Now()
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, b := range buf[:n] {
				frame, decErr := decoder.DecodeByte(b)
				if decErr != nil {
					fmt.Fprintf(os.Stderr, "decode: %v\n", decErr)
					continue
				}
				if frame == nil {
					continue
				}
				fmt.Println(modfsp.FormatFrame(frame))
				if journal != nil {
					if jErr := journal.AppendFrame(modfsp.DirIn, frame); jErr != nil {
						fmt.Fprintf(os.Stderr, "journal: %v\n", jErr)
					}
				}
			}
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
			return nil
		}
		// Blocking reads return often enough on a live link for a coarse
		// timeout sweep between them.
		if now := time.Now(); now.Sub(lastCheck) >= 50*time.Millisecond {
			lastCheck = now
			if tErr := decoder.CheckTimeout(now); tErr != nil {
				fmt.Fprintf(os.Stderr, "decode: %v\n", tErr)
			}
		}
	}
}
