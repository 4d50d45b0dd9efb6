// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tomas Brandt, Lumiquad

package script

import (
	"encoding/json"
	"fmt"
	"os"
)

// Step is one script step in source form
type Step struct {
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Section is an ordered list of steps
type Section struct {
	Steps []Step `json:"steps"`
}

// Script is the source form of an experiment script. Missing sections are
// treated as empty.
type Script struct {
	Init       Section `json:"init"`
	DLSRoutine Section `json:"dls_routine"`
	CamRoutine Section `json:"cam_routine"`
}

// LoadScript reads a JSON script file
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing script %s: %w", path, err)
	}
	return &s, nil
}

// SaveScript writes a script as indented JSON
func SaveScript(path string, s *Script) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding script: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing script: %w", err)
	}
	return nil
}

// Compile assembles the script into its multi-frame binary image
func (s *Script) Compile(version uint16) ([]byte, error) {
	return Assemble(s, version)
}

// Empty reports whether no section carries any steps
func (s *Script) Empty() bool {
	return len(s.Init.Steps) == 0 && len(s.DLSRoutine.Steps) == 0 && len(s.CamRoutine.Steps) == 0
}
