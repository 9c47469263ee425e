package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotRunning        = errors.New("server is not running")
	ErrAlreadyRunning    = errors.New("supervisor is already running")
	ErrRestartsExhausted = errors.New("restart attempts exhausted")
)

// Phase is the lifecycle position of the server process.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseStarting   Phase = "starting"
	PhaseRunning    Phase = "running"
	PhaseStopping   Phase = "stopping"
	PhaseCrashed    Phase = "crashed"
	PhaseStopped    Phase = "stopped"
)

// ExitInfo describes how a server process ended.
type ExitInfo struct {
	Code   int // -1 when killed by a signal or Wait failed
	Err    error
	Uptime time.Duration
	At     time.Time
}

// ProcessState is a snapshot of the supervisor's view of the server.
type ProcessState struct {
	Phase     Phase
	PID       int
	Exit      *ExitInfo     // set for crashed and stopped
	Attempt   int           // restarts since the last stable run
	RestartIn time.Duration // crashed: delay before the next spawn
}

func (s ProcessState) Running() bool { return s.Phase == PhaseRunning }

func (s ProcessState) String() string {
	if s.Exit != nil {
		return fmt.Sprintf("%s (exit code %d)", s.Phase, s.Exit.Code)
	}
	return string(s.Phase)
}

// SpawnError means the server process could not be launched at all.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Path, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// WriteError means a console command could not be delivered to the server.
type WriteError struct {
	Command string
	Err     error
}

func (e *WriteError) Error() string { return fmt.Sprintf("write %q: %v", e.Command, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// ServerConfig describes how to launch the server process.
type ServerConfig struct {
	JarPath     string
	JavaPath    string
	MemoryMB    int
	JVMFlags    []string
	StopTimeout time.Duration
}

// jvmArgs builds `-Xmx{m}M -Xms{m}M [flags] -jar {jar} nogui`.
func jvmArgs(cfg ServerConfig) []string {
	args := []string{
		fmt.Sprintf("-Xmx%dM", cfg.MemoryMB),
		fmt.Sprintf("-Xms%dM", cfg.MemoryMB),
	}
	args = append(args, cfg.JVMFlags...)
	return append(args, "-jar", cfg.JarPath, "nogui")
}

type exitResult struct {
	info ExitInfo
}

// Supervisor owns the server process: it spawns it, is the only writer to its
// stdin, classifies exits and restarts it after crashes.
type Supervisor struct {
	cfg     ServerConfig
	policy  RestartPolicy
	metrics *Telemetry

	mu            sync.Mutex
	writeMu       sync.Mutex
	state         ProcessState
	stdin         io.WriteCloser
	cmd           *exec.Cmd
	startedAt     time.Time
	stopRequested bool
	running       bool

	lines       chan RawLine
	transitions chan ProcessState
	stopCh      chan struct{}
	stopOnce    sync.Once

	after afterFunc
	now   func() time.Time
}

func NewSupervisor(cfg ServerConfig, policy RestartPolicy, metrics *Telemetry) *Supervisor {
	if cfg.JavaPath == "" {
		cfg.JavaPath = "java"
	}
	return &Supervisor{
		cfg:         cfg,
		policy:      policy,
		metrics:     metrics,
		state:       ProcessState{Phase: PhaseNotStarted},
		lines:       make(chan RawLine, 256),
		transitions: make(chan ProcessState, 32),
		stopCh:      make(chan struct{}),
		after:       time.After,
		now:         time.Now,
	}
}

// Lines delivers stdout and stderr lines of every process the supervisor
// spawns, in per-stream order.
func (s *Supervisor) Lines() <-chan RawLine { return s.lines }

// Transitions delivers state changes. Slow readers miss intermediate states
// but can always read State.
func (s *Supervisor) Transitions() <-chan ProcessState { return s.transitions }

func (s *Supervisor) State() ProcessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state ProcessState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	select {
	case s.transitions <- state:
	default:
	}
}

// SendCommand writes one line to the server console. Writing "stop" marks
// the next clean exit as intentional. The console stays writable while the
// server is stopping.
func (s *Supervisor) SendCommand(text string) error {
	text = strings.TrimRight(text, "\r\n")
	stopping := strings.TrimSpace(text) == "stop"

	// Writes are serialized on writeMu so a server that stops reading stdin
	// blocks only other writers, never State.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	stdin := s.stdin
	writable := stdin != nil && (s.state.Phase == PhaseRunning || s.state.Phase == PhaseStopping)
	if writable && stopping {
		s.stopRequested = true
	}
	s.mu.Unlock()

	if !writable {
		return &WriteError{Command: text, Err: ErrNotRunning}
	}
	if _, err := io.WriteString(stdin, text+"\n"); err != nil {
		if stopping {
			s.consumeStopRequest()
		}
		return &WriteError{Command: text, Err: err}
	}
	if stopping {
		s.markStopping()
	}
	return nil
}

// markStopping moves a running server to stopping.
func (s *Supervisor) markStopping() {
	s.mu.Lock()
	if s.state.Phase != PhaseRunning {
		s.mu.Unlock()
		return
	}
	s.state.Phase = PhaseStopping
	state := s.state
	s.mu.Unlock()

	select {
	case s.transitions <- state:
	default:
	}
}

// Stop asks Run to stop the server gracefully and return.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run starts the server and keeps it running until it stops cleanly, Stop is
// called, ctx is cancelled or the restart policy gives up. A spawn failure is
// returned immediately without consuming a restart attempt.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	for {
		exited, err := s.spawn(ctx)
		if err != nil {
			s.setState(ProcessState{Phase: PhaseStopped, Attempt: s.policy.Attempts()})
			return err
		}

		var result exitResult
		select {
		case result = <-exited:
		case <-ctx.Done():
			s.shutdown(exited)
			return nil
		case <-s.stopCh:
			s.shutdown(exited)
			return nil
		}

		info := result.info
		if s.consumeStopRequest() && info.Code == 0 {
			log.Printf("server stopped (uptime %s)", info.Uptime.Round(time.Second))
			s.setState(ProcessState{Phase: PhaseStopped, Exit: &info})
			return nil
		}

		s.metrics.Crashed(ctx, info)
		s.policy.ObserveRun(info.Uptime)
		if s.policy.Exhausted() {
			s.setState(ProcessState{Phase: PhaseCrashed, Exit: &info, Attempt: s.policy.Attempts()})
			return fmt.Errorf("%w: server crashed %d times without a stable run (last exit code %d)",
				ErrRestartsExhausted, s.policy.Attempts()+1, info.Code)
		}

		delay := s.policy.Next()
		log.Printf("server crashed with exit code %d after %s, restarting in %s (attempt %d)",
			info.Code, info.Uptime.Round(time.Second), delay, s.policy.Attempts())
		s.setState(ProcessState{Phase: PhaseCrashed, Exit: &info, Attempt: s.policy.Attempts(), RestartIn: delay})

		select {
		case <-ctx.Done():
		case <-s.stopCh:
		case <-s.after(delay):
			s.metrics.Restarted(ctx)
			continue
		}
		s.setState(ProcessState{Phase: PhaseStopped, Exit: &info, Attempt: s.policy.Attempts()})
		return nil
	}
}

func (s *Supervisor) consumeStopRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	requested := s.stopRequested
	s.stopRequested = false
	return requested
}

// spawn launches one server process and returns a channel that receives its
// exit once both output pipes are drained.
func (s *Supervisor) spawn(ctx context.Context) (<-chan exitResult, error) {
	dir := filepath.Dir(s.cfg.JarPath)
	if _, err := ensureEULA(dir); err != nil {
		return nil, &SpawnError{Path: s.cfg.JarPath, Err: err}
	}

	s.setState(ProcessState{Phase: PhaseStarting, Attempt: s.policy.Attempts()})

	cmd := exec.Command(s.cfg.JavaPath, jvmArgs(s.cfg)...)
	cmd.Dir = dir
	configureProcess(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Path: s.cfg.JavaPath, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Path: s.cfg.JavaPath, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Path: s.cfg.JavaPath, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: s.cfg.JavaPath, Err: err}
	}

	startedAt := s.now()
	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.startedAt = startedAt
	s.stopRequested = false
	s.mu.Unlock()

	pid := cmd.Process.Pid
	log.Printf("started server %s (pid %d, %d MB)", s.cfg.JarPath, pid, s.cfg.MemoryMB)
	s.setState(ProcessState{Phase: PhaseRunning, PID: pid, Attempt: s.policy.Attempts()})

	exited := make(chan exitResult, 1)
	go func() {
		var wg sync.WaitGroup
		for _, pipe := range []struct {
			r      io.Reader
			stream Stream
		}{{stdout, StreamStdout}, {stderr, StreamStderr}} {
			wg.Add(1)
			go func(r io.Reader, stream Stream) {
				defer wg.Done()
				if err := NewLineReader(r, stream).Run(ctx, s.lines); err != nil {
					log.Printf("read server %s: %v", stream, err)
				}
			}(pipe.r, pipe.stream)
		}
		wg.Wait()

		waitErr := cmd.Wait()
		at := s.now()

		s.mu.Lock()
		if s.cmd == cmd {
			s.stdin = nil
			s.cmd = nil
		}
		s.mu.Unlock()

		exited <- exitResult{info: newExitInfo(waitErr, at.Sub(startedAt), at)}
	}()
	return exited, nil
}

func newExitInfo(err error, uptime time.Duration, at time.Time) ExitInfo {
	info := ExitInfo{Uptime: uptime, At: at}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		info.Code = exitErr.ExitCode()
	default:
		info.Code = -1
		info.Err = err
	}
	return info
}

// shutdown sends "stop", waits up to the stop timeout for the process to
// exit, then kills its process group.
func (s *Supervisor) shutdown(exited <-chan exitResult) {
	// A server that stopped reading stdin would block this write, so it must
	// not hold up the kill below.
	go func() {
		if err := s.SendCommand("stop"); err != nil && !errors.Is(err, ErrNotRunning) {
			log.Printf("send stop: %v", err)
		}
	}()
	s.markStopping()

	var result exitResult
	select {
	case result = <-exited:
	case <-s.after(s.cfg.StopTimeout):
		log.Printf("server did not stop within %s, killing it", s.cfg.StopTimeout)
		s.mu.Lock()
		cmd := s.cmd
		s.mu.Unlock()
		if cmd != nil {
			if err := killProcess(cmd); err != nil {
				log.Printf("kill server: %v", err)
			}
		}
		result = <-exited
	}

	s.consumeStopRequest()
	info := result.info
	log.Printf("server stopped with exit code %d", info.Code)
	s.setState(ProcessState{Phase: PhaseStopped, Exit: &info})
}
