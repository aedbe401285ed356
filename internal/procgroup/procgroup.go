// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package procgroup supervises encoder processes as whole process groups so
// that helper children never outlive a killed parent.
package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/ManuGH/tune2hls/internal/metrics"
)

// ErrNotStarted is returned when signalling a command that has no process.
var ErrNotStarted = errors.New("procgroup: process not started")

type signalKind int

const (
	sigTerm signalKind = iota
	sigKill
)

func (k signalKind) String() string {
	if k == sigKill {
		return "SIGKILL"
	}
	return "SIGTERM"
}

// Signal sends SIGTERM (force=false) or SIGKILL (force=true) to the command's
// process group. A process that already exited is not an error.
func Signal(cmd *exec.Cmd, force bool) error {
	if cmd == nil || cmd.Process == nil {
		return ErrNotStarted
	}
	kind := sigTerm
	if force {
		kind = sigKill
	}
	err := signalGroup(cmd, kind)
	switch {
	case err == nil:
		metrics.IncProcTerminate(kind.String(), "sent")
	case errors.Is(err, os.ErrProcessDone) || isNoSuchProcess(err):
		metrics.IncProcTerminate(kind.String(), "esrch")
		return nil
	default:
		metrics.IncProcTerminate(kind.String(), "error")
	}
	return err
}

// Terminate stops a started command: SIGTERM to the group, SIGKILL after
// grace, and always drains waitCh so the process is reaped. waitCh must
// deliver the result of cmd.Wait. The returned error is that result.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = Signal(cmd, false)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-timer.C:
	}

	_ = Signal(cmd, true)
	err := <-waitCh
	if err == nil {
		metrics.IncProcWait("forced_exit0")
	} else {
		metrics.IncProcWait("forced_error")
	}
	return err
}
