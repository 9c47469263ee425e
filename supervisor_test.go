//go:build !windows

package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer writes a shell script that stands in for java. The script runs
// in the jar's directory, so it can keep state in files there.
func fakeServer(t *testing.T, script string) ServerConfig {
	t.Helper()
	dir := t.TempDir()
	java := filepath.Join(dir, "java")
	require.NoError(t, os.WriteFile(java, []byte("#!/bin/sh\n"+script), 0o755))
	return ServerConfig{
		JarPath:     filepath.Join(dir, "server.jar"),
		JavaPath:    java,
		MemoryMB:    512,
		StopTimeout: 5 * time.Second,
	}
}

type lineCollector struct {
	mu    sync.Mutex
	lines []RawLine
}

func collectLines(ctx context.Context, s *Supervisor) *lineCollector {
	c := &lineCollector{}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case line := <-s.Lines():
				c.mu.Lock()
				c.lines = append(c.lines, line)
				c.mu.Unlock()
			}
		}
	}()
	return c
}

func (c *lineCollector) has(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range c.lines {
		if line.Text == text {
			return true
		}
	}
	return false
}

func (c *lineCollector) stream(text string) Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range c.lines {
		if line.Text == text {
			return line.Stream
		}
	}
	return ""
}

func drainTransitions(s *Supervisor) []ProcessState {
	var states []ProcessState
	for {
		select {
		case state := <-s.Transitions():
			states = append(states, state)
		default:
			return states
		}
	}
}

const readyLine = `[00:00:01] [Server thread/INFO]: Done (0.100s)! For help, type "help"`

const serveUntilStop = `
echo '` + readyLine + `'
while read line; do
  if [ "$line" = "stop" ]; then
    echo "[00:00:02] [Server thread/INFO]: Stopping server"
    exit 0
  fi
  echo "[00:00:02] [Server thread/INFO]: got $line"
done
`

func TestSupervisor_CrashRestartThenStop(t *testing.T) {
	cfg := fakeServer(t, `
if [ ! -f crashed ]; then
  touch crashed
  echo "exploding" >&2
  exit 1
fi
`+serveUntilStop)

	tel, reader := testTelemetry(t, nil)
	s := NewSupervisor(cfg, RestartPolicy{Backoff: []time.Duration{10 * time.Millisecond}}, tel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lines := collectLines(ctx, s)

	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return lines.has(readyLine) }, 5*time.Second, tick)
	assert.Equal(t, StreamStderr, lines.stream("exploding"))
	assert.Equal(t, PhaseRunning, s.State().Phase)
	assert.Equal(t, 1, s.State().Attempt)
	assert.ErrorIs(t, s.Run(ctx), ErrAlreadyRunning)

	require.NoError(t, s.SendCommand("list"))
	require.Eventually(t, func() bool { return lines.has("[00:00:02] [Server thread/INFO]: got list") }, 5*time.Second, tick)

	require.NoError(t, s.SendCommand("stop"))
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after stop")
	}

	state := s.State()
	assert.Equal(t, PhaseStopped, state.Phase)
	require.NotNil(t, state.Exit)
	assert.Equal(t, 0, state.Exit.Code)

	var crashed *ProcessState
	for _, st := range drainTransitions(s) {
		if st.Phase == PhaseCrashed {
			st := st
			crashed = &st
		}
	}
	require.NotNil(t, crashed, "expected a crashed transition")
	assert.Equal(t, 1, crashed.Exit.Code)
	assert.Equal(t, 10*time.Millisecond, crashed.RestartIn)

	assert.Equal(t, int64(1), counterValue(t, reader, "mcbridge.process.crashes", nil))
	assert.Equal(t, int64(1), counterValue(t, reader, "mcbridge.process.restarts", nil))

	_, err := os.Stat(filepath.Join(filepath.Dir(cfg.JarPath), eulaFileName))
	assert.NoError(t, err, "eula.txt is created on first launch")
}

func TestSupervisor_RestartsExhausted(t *testing.T) {
	cfg := fakeServer(t, "exit 3\n")
	tel, reader := testTelemetry(t, nil)
	s := NewSupervisor(cfg, RestartPolicy{Backoff: []time.Duration{time.Millisecond}, MaxAttempts: 2}, tel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	collectLines(ctx, s)

	err := s.Run(ctx)
	require.ErrorIs(t, err, ErrRestartsExhausted)
	assert.Equal(t, PhaseCrashed, s.State().Phase)
	assert.Equal(t, 3, s.State().Exit.Code)
	assert.Equal(t, int64(3), counterValue(t, reader, "mcbridge.process.crashes", nil))
	assert.Equal(t, int64(2), counterValue(t, reader, "mcbridge.process.restarts", nil))
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	cfg := fakeServer(t, "")
	cfg.JavaPath = filepath.Join(t.TempDir(), "no-such-java")
	tel, _ := testTelemetry(t, nil)
	s := NewSupervisor(cfg, RestartPolicy{Backoff: []time.Duration{time.Millisecond}}, tel)

	err := s.Run(context.Background())
	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, cfg.JavaPath, spawnErr.Path)
	assert.Equal(t, PhaseStopped, s.State().Phase)
}

func TestSupervisor_CancelStopsGracefully(t *testing.T) {
	cfg := fakeServer(t, serveUntilStop)
	tel, _ := testTelemetry(t, nil)
	s := NewSupervisor(cfg, RestartPolicy{Backoff: []time.Duration{time.Millisecond}}, tel)

	ctx, cancel := context.WithCancel(context.Background())
	linesCtx, stopLines := context.WithCancel(context.Background())
	defer stopLines()
	lines := collectLines(linesCtx, s)

	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return lines.has(readyLine) }, 5*time.Second, tick)

	cancel()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after cancel")
	}
	assert.Equal(t, PhaseStopped, s.State().Phase)
	assert.Equal(t, 0, s.State().Exit.Code)
}

func TestSupervisor_KillsAfterStopTimeout(t *testing.T) {
	cfg := fakeServer(t, `
echo '`+readyLine+`'
trap '' INT TERM
while true; do sleep 1; done
`)
	cfg.StopTimeout = 100 * time.Millisecond
	tel, _ := testTelemetry(t, nil)
	s := NewSupervisor(cfg, RestartPolicy{Backoff: []time.Duration{time.Millisecond}}, tel)

	ctx, cancel := context.WithCancel(context.Background())
	linesCtx, stopLines := context.WithCancel(context.Background())
	defer stopLines()
	lines := collectLines(linesCtx, s)

	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return lines.has(readyLine) }, 5*time.Second, tick)

	s.Stop()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not kill the server")
	}
	cancel()
	assert.Equal(t, PhaseStopped, s.State().Phase)
	assert.NotEqual(t, 0, s.State().Exit.Code)
}

func TestSupervisor_SurvivesOverlongLine(t *testing.T) {
	cfg := fakeServer(t, `
head -c 2000000 /dev/zero | tr '\0' x
echo
`+serveUntilStop)
	tel, _ := testTelemetry(t, nil)
	s := NewSupervisor(cfg, RestartPolicy{Backoff: []time.Duration{time.Millisecond}}, tel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lines := collectLines(ctx, s)

	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	// The pipe keeps draining after the truncated line, so the server is not
	// left blocked on a stdout write.
	require.Eventually(t, func() bool { return lines.has(readyLine) }, 5*time.Second, tick)
	require.NoError(t, s.SendCommand("stop"))
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return after stop")
	}
	assert.Equal(t, PhaseStopped, s.State().Phase)
}

func TestSupervisor_BlockedStdinDoesNotBlockState(t *testing.T) {
	cfg := fakeServer(t, `
echo '`+readyLine+`'
while true; do sleep 1; done
`)
	cfg.StopTimeout = 100 * time.Millisecond
	tel, _ := testTelemetry(t, nil)
	s := NewSupervisor(cfg, RestartPolicy{Backoff: []time.Duration{time.Millisecond}}, tel)

	linesCtx, stopLines := context.WithCancel(context.Background())
	defer stopLines()
	lines := collectLines(linesCtx, s)

	result := make(chan error, 1)
	go func() { result <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool { return lines.has(readyLine) }, 5*time.Second, tick)

	// Far more than a pipe buffer; the server never reads it.
	writeDone := make(chan error, 1)
	go func() { writeDone <- s.SendCommand("say " + strings.Repeat("x", 1<<20)) }()
	time.Sleep(50 * time.Millisecond)

	stateRead := make(chan ProcessState, 1)
	go func() { stateRead <- s.State() }()
	select {
	case state := <-stateRead:
		assert.Equal(t, PhaseRunning, state.Phase)
	case <-time.After(time.Second):
		t.Fatal("State blocked behind a stdin write")
	}

	s.Stop()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not kill the server")
	}
	select {
	case err := <-writeDone:
		assert.Error(t, err, "the write fails once the server is gone")
	case <-time.After(5 * time.Second):
		t.Fatal("blocked write never returned")
	}
	assert.Equal(t, PhaseStopped, s.State().Phase)
}

func TestSupervisor_SendCommandNotRunning(t *testing.T) {
	tel, _ := testTelemetry(t, nil)
	s := NewSupervisor(ServerConfig{JarPath: "server.jar"}, RestartPolicy{}, tel)

	err := s.SendCommand("say hi")
	assert.ErrorIs(t, err, ErrNotRunning)
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "say hi", writeErr.Command)
}

func TestJVMArgs(t *testing.T) {
	args := jvmArgs(ServerConfig{JarPath: "/srv/server.jar", MemoryMB: 2048, JVMFlags: []string{"-XX:+UseG1GC"}})
	assert.Equal(t, []string{"-Xmx2048M", "-Xms2048M", "-XX:+UseG1GC", "-jar", "/srv/server.jar", "nogui"}, args)
}
