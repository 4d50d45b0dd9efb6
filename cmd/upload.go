// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lumiquad/lampyre/pkg/ground"
	"github.com/Lumiquad/lampyre/pkg/script"
)

var uploadVersion uint16

var uploadCmd = &cobra.Command{
	Use:   "upload <script.bin|script.json>",
	Short: "Send a script to the instrument and wait for section acks",
	Long: `Upload a compiled script image. A .json argument is compiled on the
fly. The upload succeeds once the instrument has acknowledged every
section frame present in the image; uploads are idempotent and safe to
retry.

Examples:
  lampyre upload experiment.bin --port /dev/ttyUSB0
  lampyre upload experiment.json --url ws://ground-station.local/link`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	uploadCmd.Flags().Uint16Var(&uploadVersion, "version", script.DefaultVersion, "Section format version (.json input only)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	var img []byte
	if strings.HasSuffix(args[0], ".json") {
		src, err := script.LoadScript(args[0])
		if err != nil {
			return err
		}
		img, err = src.Compile(uploadVersion)
		if err != nil {
			return fmt.Errorf("compiling %s: %w", args[0], err)
		}
	} else {
		var err error
		img, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
	}

	port, connInfo, err := openPort()
	if err != nil {
		return err
	}
	defer port.Close()

	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Uploading %d bytes...\n", len(img))

	controller := ground.NewController(port)
	if err := controller.EstablishLink(context.Background()); err != nil {
		return fmt.Errorf("establishing link: %w", err)
	}
	if err := controller.UploadScript(context.Background(), img); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	fmt.Println("All sections acknowledged")
	return nil
}
