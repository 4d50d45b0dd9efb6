// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tomas Brandt, Lumiquad
//
// Lampyre - MODFSP link tool for the light-scattering experiment payload
//
// Ground-segment tooling: monitor and decode link traffic, compile and
// upload experiment scripts, and drive the instrument.

package main

import (
	"os"

	"github.com/Lumiquad/lampyre/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
