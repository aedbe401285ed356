// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build linux

package transcoder

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shRunner(timeout time.Duration) *ExecRunner {
	r := NewExecRunner("/bin/sh", timeout, zerolog.Nop())
	r.KillGrace = 200 * time.Millisecond
	return r
}

func TestExecRunner_Success(t *testing.T) {
	res, err := shRunner(5*time.Second).Run(context.Background(), []string{"-c", "echo progress >&2; exit 0"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "progress", res.Stderr)
	assert.False(t, res.TimedOut)
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	res, err := shRunner(5*time.Second).Run(context.Background(), []string{"-c", "echo first >&2; echo 'Invalid data' >&2; exit 3"})
	var ee *EncodeError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 3, ee.ExitCode)
	assert.Equal(t, "first\nInvalid data", ee.Stderr)
	assert.Equal(t, 3, res.ExitCode)
}

func TestExecRunner_TimeoutKillsGroup(t *testing.T) {
	start := time.Now()
	// The trap keeps the shell alive through SIGTERM, forcing escalation.
	res, err := shRunner(150*time.Millisecond).Run(context.Background(), []string{"-c", "trap '' TERM; sleep 30 & wait"})
	require.ErrorIs(t, err, ErrEncoderTimeout)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecRunner_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := shRunner(10*time.Second).Run(ctx, []string{"-c", "sleep 30"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := NewExecRunner("/nonexistent/ffmpeg", time.Second, zerolog.Nop())
	res, err := r.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(3)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		b.add(s)
	}
	assert.Equal(t, "c\nd\ne", b.String())
	assert.Equal(t, "", newTailBuffer(2).String())
}
