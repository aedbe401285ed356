// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build !unix

package procgroup

import "os/exec"

// Set is a no-op where process groups are unavailable.
func Set(cmd *exec.Cmd) {}

// Only the root process can be killed here; there is no graceful signal.
func signalGroup(cmd *exec.Cmd, kind signalKind) error {
	if kind != sigKill {
		return nil
	}
	return cmd.Process.Kill()
}

func isNoSuchProcess(error) bool { return false }
