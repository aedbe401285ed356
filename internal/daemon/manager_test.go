// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      "127.0.0.1:0",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 5 * time.Second,
	}
}

func waitForAddr(t *testing.T, mgr Manager) string {
	t.Helper()
	var addr string
	require.Eventually(t, func() bool {
		addr = mgr.Addr()
		return addr != ""
	}, 5*time.Second, 10*time.Millisecond)
	return addr
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(testServerConfig(), Deps{Logger: zerolog.Nop(), APIHandler: http.NotFoundHandler()})
	require.ErrorIs(t, err, ErrMissingLogger)

	_, err = NewManager(testServerConfig(), Deps{Logger: testLogger()})
	require.ErrorIs(t, err, ErrMissingAPIHandler)

	mgr, err := NewManager(testServerConfig(), Deps{Logger: testLogger(), APIHandler: http.NotFoundHandler()})
	require.NoError(t, err)
	assert.NotNil(t, mgr)
}

func TestManager_ServesAndRunsHooksInReverse(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	mgr, err := NewManager(testServerConfig(), Deps{Logger: testLogger(), APIHandler: handler})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []string
	)
	for _, name := range []string{"first", "second", "third"} {
		mgr.RegisterShutdownHook(name, func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()

	addr := waitForAddr(t, mgr)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("manager did not stop")
	}
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestManager_HookErrorsAreJoined(t *testing.T) {
	mgr, err := NewManager(testServerConfig(), Deps{Logger: testLogger(), APIHandler: http.NotFoundHandler()})
	require.NoError(t, err)

	boom := errors.New("boom")
	ran := false
	mgr.RegisterShutdownHook("ok", func(context.Context) error { ran = true; return nil })
	mgr.RegisterShutdownHook("failing", func(context.Context) error { return boom })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()
	waitForAddr(t, mgr)
	cancel()

	err = <-done
	require.ErrorIs(t, err, boom)
	assert.True(t, ran, "a failing hook does not stop the others")
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	mgr, err := NewManager(testServerConfig(), Deps{Logger: testLogger(), APIHandler: http.NotFoundHandler()})
	require.NoError(t, err)
	require.ErrorIs(t, mgr.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestManager_BindFailureRunsHooks(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = taken.Close() }()

	cfg := testServerConfig()
	cfg.ListenAddr = taken.Addr().String()
	mgr, err := NewManager(cfg, Deps{Logger: testLogger(), APIHandler: http.NotFoundHandler()})
	require.NoError(t, err)

	closed := false
	mgr.RegisterShutdownHook("store", func(context.Context) error { closed = true; return nil })

	require.Error(t, mgr.Start(context.Background()))
	assert.True(t, closed)
}

func TestManager_StartTwice(t *testing.T) {
	mgr, err := NewManager(testServerConfig(), Deps{Logger: testLogger(), APIHandler: http.NotFoundHandler()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()
	waitForAddr(t, mgr)

	require.Error(t, mgr.Start(ctx))
	cancel()
	require.NoError(t, <-done)
}
