// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lumiquad/lampyre/pkg/ground"
)

var (
	pingValue   uint32
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Run a connection test round trip",
	Long: `Send the test-connection command and verify the instrument echoes
the 32-bit value back.

Exit codes:
  0 - Echo received and correct
  1 - Timeout or bad echo
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().Uint32Var(&pingValue, "value", 0, "Value to echo (random if omitted)")
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Per-attempt timeout in seconds")
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 1, "Number of round trips")
}

func runPing(cmd *cobra.Command, args []string) error {
	port, connInfo, err := openPort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer port.Close()

	fmt.Printf("Lampyre - Connection Test\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	controller := ground.NewController(port)
	controller.SetAckTimeout(time.Duration(pingTimeout) * time.Second)

	failures := 0
	for i := 0; i < pingCount; i++ {
		value := pingValue
		if !cmd.Flags().Changed("value") {
			value = rand.Uint32()
		}

		start := time.Now()
		err := controller.TestConnection(context.Background(), value)
		elapsed := time.Since(start)
		if err != nil {
			failures++
			fmt.Printf("ping %d/%d: FAILED after %v: %v\n", i+1, pingCount, elapsed.Round(time.Millisecond), err)
			continue
		}
		fmt.Printf("ping %d/%d: value=%d ok (%v)\n", i+1, pingCount, value, elapsed.Round(time.Millisecond))
	}

	if failures > 0 {
		fmt.Printf("\n%d of %d pings failed\n", failures, pingCount)
		os.Exit(1)
	}
	return nil
}
