// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lumiquad/lampyre/pkg/ground"
	"github.com/Lumiquad/lampyre/pkg/modfsp"
)

var (
	selfTestExternal  bool
	selfTestIntensity uint8
	selfTestPositions []int
)

// withController opens the configured connection, establishes the link and
// runs one controller operation
func withController(fn func(ctx context.Context, c *ground.Controller) error) error {
	port, connInfo, err := openPort()
	if err != nil {
		return err
	}
	defer port.Close()

	fmt.Printf("Connection: %s\n", connInfo)

	controller := ground.NewController(port)
	if err := controller.EstablishLink(context.Background()); err != nil {
		return fmt.Errorf("establishing link: %w", err)
	}
	return fn(context.Background(), controller)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the loaded experiment script",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, c *ground.Controller) error {
			if err := c.RunExperiment(ctx); err != nil {
				return err
			}
			fmt.Println("Experiment started")
			return nil
		})
	},
}

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Stop the running experiment",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, c *ground.Controller) error {
			if err := c.Halt(ctx); err != nil {
				return err
			}
			fmt.Println("Experiment halted")
			return nil
		})
	},
}

var synctimeCmd = &cobra.Command{
	Use:   "synctime",
	Short: "Push the local wall clock to the instrument",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, c *ground.Controller) error {
			now := time.Now()
			if err := c.SyncTime(ctx, now); err != nil {
				return err
			}
			fmt.Printf("Time synced: %s\n", now.Format("2006-01-02 15:04:05"))
			return nil
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Suspend frame processing on the instrument",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, c *ground.Controller) error {
			if err := c.Pause(ctx); err != nil {
				return err
			}
			fmt.Println("Frame processing paused")
			return nil
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume frame processing on the instrument",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withController(func(ctx context.Context, c *ground.Controller) error {
			if err := c.Resume(ctx); err != nil {
				return err
			}
			fmt.Println("Frame processing resumed")
			return nil
		})
	},
}

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Fire a laser self test and report the measured current",
	Long: `Fire a self test on the selected laser bank and print the current
draw the instrument measured, in milliamps.

Examples:
  lampyre selftest --port /dev/ttyUSB0
  lampyre selftest --external --intensity 128 --position 0 --position 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := modfsp.SelfTestInternal
		if selfTestExternal {
			kind = modfsp.SelfTestExternal
		}

		var mask byte
		for _, pos := range selfTestPositions {
			if pos < 0 || pos > 7 {
				return fmt.Errorf("position %d out of range 0-7", pos)
			}
			mask |= 1 << pos
		}

		return withController(func(ctx context.Context, c *ground.Controller) error {
			current, err := c.SelfTest(ctx, kind, selfTestIntensity, mask)
			if err != nil {
				return err
			}
			fmt.Printf("Self test current: %d mA\n", current)
			return nil
		})
	},
}

var lasersCmd = &cobra.Command{
	Use:       "lasers [internal|external]",
	Short:     "Query laser bank intensities",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"internal", "external"},
	RunE: func(cmd *cobra.Command, args []string) error {
		bank := "internal"
		if len(args) == 1 {
			bank = args[0]
		}

		return withController(func(ctx context.Context, c *ground.Controller) error {
			var intensities []byte
			var err error
			if bank == "external" {
				intensities, err = c.ExternalLaser(ctx)
			} else {
				intensities, err = c.InternalLaser(ctx)
			}
			if err != nil {
				return err
			}

			fmt.Printf("%s laser bank (%d channels):\n", bank, len(intensities))
			for i, v := range intensities {
				fmt.Printf("  channel %d: %3d\n", i, v)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(haltCmd)
	rootCmd.AddCommand(synctimeCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(selftestCmd)
	rootCmd.AddCommand(lasersCmd)

	selftestCmd.Flags().BoolVar(&selfTestExternal, "external", false, "Test the external bank instead of the internal one")
	selftestCmd.Flags().Uint8Var(&selfTestIntensity, "intensity", 64, "Laser drive intensity 0-255")
	selftestCmd.Flags().IntSliceVar(&selfTestPositions, "position", []int{0}, "Bank positions to fire (repeatable, 0-7)")
}
