// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tune2hls/internal/procgroup"
)

const (
	defaultKillGrace = 3 * time.Second
	stderrTailLines  = 40
)

// Result captures one encoder run.
type Result struct {
	ExitCode int
	Stderr   string
	TimedOut bool
	Elapsed  time.Duration
}

// Runner executes the encoder with the given arguments. A non-zero exit is
// returned as *EncodeError, a timeout as ErrEncoderTimeout.
type Runner interface {
	Run(ctx context.Context, args []string) (Result, error)
}

// ExecRunner runs ffmpeg in its own process group with a wall-clock limit.
type ExecRunner struct {
	Path    string
	Timeout time.Duration
	// KillGrace is the wait between SIGTERM and SIGKILL.
	KillGrace time.Duration
	Logger    zerolog.Logger
}

// NewExecRunner returns a runner for the binary at path.
func NewExecRunner(path string, timeout time.Duration, logger zerolog.Logger) *ExecRunner {
	if path == "" {
		path = "ffmpeg"
	}
	return &ExecRunner{Path: path, Timeout: timeout, KillGrace: defaultKillGrace, Logger: logger}
}

// Run starts the encoder and waits for it. On timeout or ctx cancellation the
// whole process group is terminated and reaped before Run returns.
func (r *ExecRunner) Run(ctx context.Context, args []string) (Result, error) {
	start := time.Now()
	cmd := exec.Command(r.Path, args...)
	procgroup.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("encoder stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("encoder start: %w", err)
	}

	tail := newTailBuffer(stderrTailLines)
	done := make(chan error, 1)
	go func() {
		// Stderr must be drained before Wait closes the pipe.
		tail.consume(stderr)
		done <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if r.Timeout > 0 {
		timer := time.NewTimer(r.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	grace := r.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}

	var waitErr error
	res := Result{}
	select {
	case waitErr = <-done:
	case <-timeout:
		res.TimedOut = true
		r.Logger.Warn().Dur("timeout", r.Timeout).Int("pid", cmd.Process.Pid).Msg("encoder timed out, terminating")
		waitErr = procgroup.Terminate(cmd, done, grace)
	case <-ctx.Done():
		r.Logger.Warn().Int("pid", cmd.Process.Pid).Msg("encoder cancelled, terminating")
		waitErr = procgroup.Terminate(cmd, done, grace)
	}

	res.Elapsed = time.Since(start)
	res.Stderr = tail.String()
	res.ExitCode = exitCode(cmd, waitErr)

	switch {
	case res.TimedOut:
		return res, fmt.Errorf("%w after %s", ErrEncoderTimeout, r.Timeout)
	case ctx.Err() != nil && waitErr != nil:
		return res, ctx.Err()
	case waitErr != nil:
		return res, &EncodeError{ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	pos   int
	full  bool
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{lines: make([]string, n)}
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines[t.pos] = line
	t.pos = (t.pos + 1) % len(t.lines)
	if t.pos == 0 {
		t.full = true
	}
}

func (t *tailBuffer) consume(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			t.add(line)
		}
	}
	// Keep draining after an over-long line so the child never blocks.
	_, _ = io.Copy(io.Discard, r)
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	if t.full {
		out = append(out, t.lines[t.pos:]...)
	}
	out = append(out, t.lines[:t.pos]...)
	return strings.Join(out, "\n")
}
