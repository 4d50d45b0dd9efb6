// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Lumiquad/lampyre/pkg/modfsp"
	"github.com/Lumiquad/lampyre/pkg/payload"
)

var simulateCurrent uint16

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Answer the link as a simulated instrument",
	Long: `Attach to the configured connection and answer ground commands the
way the instrument does: time sync, script sections, self tests, laser
queries and connection tests. Useful for exercising ground tooling
without hardware on the bench.

Examples:
  lampyre simulate --port /dev/ttyUSB1
  lampyre simulate --url ws://localhost:8080/link --self-test-current 2100`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Uint16Var(&simulateCurrent, "self-test-current", 1500, "Current in mA reported by self tests")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	port := modfsp.NewPort(conn, modfsp.NewRegistry())
	port.SetTimeout(modfsp.DefaultTimeout)
	defer port.Close()

	handler := payload.New(port)
	handler.SetSelfTestCurrent(simulateCurrent)
	port.Start()

	fmt.Printf("Lampyre - Instrument Simulator\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Self test current: %d mA\n", simulateCurrent)
	fmt.Println("Answering commands, Ctrl+C to stop...")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("\nSimulator stopped")
	if t, ok := handler.LastSyncedTime(); ok {
		fmt.Printf("Last time sync received: %s\n", t.Format("2006-01-02 15:04:05"))
	}
	return nil
}
