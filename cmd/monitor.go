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

var (
	monitorStatsInterval int
	monitorQuiet         bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Decode, validate and report on live link traffic",
	Long: `Decode every frame on the link, validate it against the command
vocabulary, and print periodic link statistics.

Decode errors (CRC, stop bytes, lengths, timeouts) are counted and the
decoder resynchronizes at the next start sequence. Validation anomalies
(unknown IDs, wrong payload lengths, out-of-range fields) are reported
per frame.

Examples:
  lampyre monitor --port /dev/ttyUSB0
  lampyre monitor --url ws://ground-station.local/link --stats-interval 30`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 10, "Seconds between statistics reports")
	monitorCmd.Flags().BoolVarP(&monitorQuiet, "quiet", "q", false, "Only print anomalies and statistics")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Lampyre - Link Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics every %d seconds\n\n", monitorStatsInterval)

	decoder := modfsp.NewDecoder()
	decoder.SetTimeout(modfsp.GroundTimeout)
	stats := modfsp.NewStatistics()

	statsTicker := time.NewTicker(time.Duration(monitorStatsInterval) * time.Second)
	defer statsTicker.Stop()
	timeoutTicker := time.NewTicker(50 * time.Millisecond)
	defer timeoutTicker.Stop()

	// The reader goroutine only pulls raw bytes; the decoder stays owned
	// by the select loop below.
	raw := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				raw <- data
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case data := <-raw:
			stats.RecordBytes(len(data))
			for _, b := range data {
				frame, decErr := decoder.DecodeByte(b)
				if decErr != nil {
					stats.RecordDecodeError(decErr)
					fmt.Fprintf(os.Stderr, "decode: %v\n", decErr)
					continue
				}
				if frame == nil {
					continue
				}
				stats.RecordFrame(frame)
				anomalies := modfsp.ValidateFrame(frame)
				stats.RecordAnomalies(len(anomalies))
				if !monitorQuiet {
					fmt.Println(modfsp.FormatFrame(frame))
				}
				for _, a := range anomalies {
					fmt.Printf("  ANOMALY %s\n", a.Error())
				}
			}
		case <-timeoutTicker.C:
			if tErr := decoder.CheckTimeout(time.Now()); tErr != nil {
				stats.RecordDecodeError(tErr)
				fmt.Fprintf(os.Stderr, "decode: %v\n", tErr)
			}
		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		case err := <-readErr:
			fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
			fmt.Println()
			fmt.Print(stats.String())
			return nil
		}
	}
}
