// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lumiquad/lampyre/pkg/script"
)

var (
	scriptOutput  string
	scriptVersion uint16
)

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Compile and inspect experiment scripts",
}

var scriptBuildCmd = &cobra.Command{
	Use:   "build <script.json>",
	Short: "Compile a JSON script to its binary image",
	Long: `Compile a JSON experiment script into the multi-frame binary image
the instrument accepts. Empty sections emit no frame.

Examples:
  lampyre script build experiment.json
  lampyre script build experiment.json -o experiment.bin --version 2`,
	Args: cobra.ExactArgs(1),
	RunE: runScriptBuild,
}

var scriptDumpCmd = &cobra.Command{
	Use:   "dump <script.bin>",
	Short: "Decompile a binary image back to JSON",
	Long: `Decompile a compiled script image back to its JSON source form.

Section CRC mismatches are tolerated with a warning so captures from a
flaky link stay inspectable; unknown actions decode to placeholder names.

Examples:
  lampyre script dump experiment.bin
  lampyre script dump experiment.bin -o recovered.json`,
	Args: cobra.ExactArgs(1),
	RunE: runScriptDump,
}

func init() {
	rootCmd.AddCommand(scriptCmd)
	scriptCmd.AddCommand(scriptBuildCmd)
	scriptCmd.AddCommand(scriptDumpCmd)

	scriptBuildCmd.Flags().StringVarP(&scriptOutput, "output", "o", "", "Output file (default: input with .bin)")
	scriptBuildCmd.Flags().Uint16Var(&scriptVersion, "version", script.DefaultVersion, "Section format version")
	scriptDumpCmd.Flags().StringVarP(&scriptOutput, "output", "o", "", "Output file (default: stdout)")
}

func runScriptBuild(cmd *cobra.Command, args []string) error {
	src, err := script.LoadScript(args[0])
	if err != nil {
		return err
	}
	if src.Empty() {
		return fmt.Errorf("script %s has no steps in any section", args[0])
	}

	img, err := src.Compile(scriptVersion)
	if err != nil {
		return fmt.Errorf("compiling %s: %w", args[0], err)
	}

	out := scriptOutput
	if out == "" {
		out = strings.TrimSuffix(args[0], ".json") + ".bin"
	}
	if err := os.WriteFile(out, img, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}

	fmt.Printf("%s: %d bytes (init %d, dls %d, cam %d steps)\n",
		out, len(img), len(src.Init.Steps), len(src.DLSRoutine.Steps), len(src.CamRoutine.Steps))
	return nil
}

func runScriptDump(cmd *cobra.Command, args []string) error {
	img, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	src, err := script.DecompileScript(img)
	if err != nil {
		return fmt.Errorf("decompiling %s: %w", args[0], err)
	}

	if scriptOutput != "" {
		if err := script.SaveScript(scriptOutput, src); err != nil {
			return err
		}
		fmt.Printf("%s written\n", scriptOutput)
		return nil
	}

	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
