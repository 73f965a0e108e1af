// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package session wires the core's leaf components -- procmap, binimage,
// anchors, cpython/probe, cpython/sampler, driver -- into the attach(pid) /
// spawn(argv) / start(interval, duration, sink) / stop() surface the thin
// CLI front-end drives. Session-wide state is built once here, at Attach or
// Spawn, and never mutated afterward.
package session // import "github.com/stackscope/stackscope/session"

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/stackscope/stackscope/anchors"
	"github.com/stackscope/stackscope/binimage"
	"github.com/stackscope/stackscope/collapsed"
	"github.com/stackscope/stackscope/cpython/probe"
	"github.com/stackscope/stackscope/cpython/sampler"
	"github.com/stackscope/stackscope/driver"
	"github.com/stackscope/stackscope/libpf"
	"github.com/stackscope/stackscope/proc"
	"github.com/stackscope/stackscope/procmap"
	"github.com/stackscope/stackscope/remotememory"
)

// ExitCode enumerates the process-level exit codes the CLI front-end
// translates a terminal session error into, per the external interface's
// exit-code partition: clean exit, permission failure, no-such-process,
// invalid-arguments, unsupported-runtime-version, and internal error.
type ExitCode int

const (
	ExitSuccess ExitCode = iota
	ExitPermissionDenied
	ExitNoSuchProcess
	ExitInvalidArguments
	ExitUnsupportedVersion
	ExitInternalError
)

// ErrInvalidArguments is returned by Attach/Spawn for a malformed request,
// e.g. Spawn with an empty argv.
var ErrInvalidArguments = errors.New("session: invalid arguments")

// ClassifyExit maps an error returned by Attach, Spawn, or Start onto the
// exit code the front-end should report. nil maps to ExitSuccess.
func ClassifyExit(err error) ExitCode {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, remotememory.ErrPermissionDenied):
		return ExitPermissionDenied
	case errors.Is(err, remotememory.ErrNoSuchProcess), errors.Is(err, procmap.ErrMapIncomplete):
		return ExitNoSuchProcess
	case errors.Is(err, ErrInvalidArguments):
		return ExitInvalidArguments
	case errors.Is(err, probe.ErrUnsupportedVersion), errors.Is(err, binimage.ErrBadFormat),
		errors.Is(err, binimage.ErrNoDynamicSymbols):
		return ExitUnsupportedVersion
	default:
		return ExitInternalError
	}
}

// Session is one attached-or-spawned target: the immutable, session-wide
// state built at Attach/Spawn (memory map, resolved anchors, version
// descriptor, thread-state head) plus the Sampler that walks it on demand.
type Session struct {
	// id identifies this session in logs; useful when a front-end runs
	// several sessions concurrently (e.g. one per discovered worker PID).
	id uuid.UUID

	pid     libpf.PID
	rm      remotememory.RemoteMemory
	mm      *procmap.MemoryMap
	sampler *sampler.Sampler

	// spawned is non-nil when Spawn created the target; Stop waits for its
	// reaper goroutine to observe the child's exit before returning.
	spawned  *exec.Cmd
	reaperCh chan struct{}
}

// PID returns the attached or spawned target's process ID.
func (s *Session) PID() libpf.PID {
	return s.pid
}

// ID returns the session's unique identifier, for correlating its log
// lines when a front-end runs several sessions concurrently.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Attach locates, validates, and prepares to sample the CPython interpreter
// running in pid. It performs the full startup pipeline: map introspection,
// binary parsing, anchor symbol resolution, and runtime probing.
func Attach(pid libpf.PID) (*Session, error) {
	live, err := proc.IsPIDLive(pid)
	if err != nil {
		return nil, fmt.Errorf("checking pid %d liveness: %w", pid, err)
	}
	if !live {
		return nil, fmt.Errorf("%w: pid %d", remotememory.ErrNoSuchProcess, pid)
	}

	mm, err := procmap.Load(pid)
	if err != nil {
		return nil, fmt.Errorf("loading process map for pid %d: %w", pid, err)
	}

	img, err := binimage.Parse(mm.BinaryPath(), mm.ELF.Base)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", mm.BinaryPath(), err)
	}

	a, err := anchors.Resolve(img)
	if err != nil {
		log.WithField("binary", mm.BinaryPath()).
			Debug("no anchor symbol resolved, probe will fall back to a heap scan")
	}

	rm := remotememory.NewProcessVirtualMemory(pid).WithBounds(mm.MinAddr, mm.MaxAddr)

	p, err := probe.Locate(rm, mm, a)
	if err != nil {
		return nil, fmt.Errorf("locating interpreter runtime in pid %d: %w", pid, err)
	}

	samp, err := sampler.New(pid, rm, p, sampler.DefaultMaxDepth)
	if err != nil {
		return nil, fmt.Errorf("building sampler for pid %d: %w", pid, err)
	}

	log.WithFields(log.Fields{
		"pid":     pid,
		"version": p.Desc.String(),
		"binary":  mm.BinaryPath(),
	}).Info("attached to interpreter")

	return &Session{id: uuid.New(), pid: pid, rm: rm, mm: mm, sampler: samp}, nil
}

// Spawn starts argv as a child process and attaches to it once it has had a
// moment to map its interpreter binary. The child is reaped by a background
// goroutine that performs no shared-state access beyond observing its exit,
// per the concurrency model's single wait-for-child worker.
func Spawn(argv []string) (*Session, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command line", ErrInvalidArguments)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout, cmd.Stderr = nil, nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning %q: %w", argv[0], err)
	}

	pid := libpf.PID(cmd.Process.Pid)

	reaperCh := make(chan struct{})
	go func() {
		defer close(reaperCh)
		_ = cmd.Wait()
	}()

	// The interpreter needs a brief moment after exec to map its binary and
	// initialize _PyRuntime before the map/probe pipeline can find it.
	var s *Session
	var err error
	for attempt := 0; attempt < 20; attempt++ {
		s, err = Attach(pid)
		if err == nil {
			break
		}
		select {
		case <-reaperCh:
			return nil, fmt.Errorf("spawned process exited before it could be attached: %w", err)
		case <-time.After(25 * time.Millisecond):
		}
	}
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("attaching to spawned pid %d: %w", pid, err)
	}

	s.spawned = cmd
	s.reaperCh = reaperCh
	return s, nil
}

// defaultMaxConsecutiveErrors bounds how many ticks in a row may sample zero
// threads before Start gives up on a target that has likely reloaded its
// runtime or become unreachable.
const defaultMaxConsecutiveErrors = 10

// Start runs the sampling loop until duration elapses (0 = until the target
// exits or ctx is canceled), or ctx is canceled, emitting samples to sink.
// It layers a target-liveness watch atop driver.Run: once the target
// process disappears, the session's context is canceled so Run exits 0
// per the boundary spec, rather than surfacing an internal error.
func (s *Session) Start(ctx context.Context, interval, duration time.Duration, sink collapsed.Sink) (driver.Stats, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	defer func() { <-done }()
	go func() {
		defer close(done)
		s.watchTargetExit(watchCtx, cancel)
	}()

	return driver.Run(watchCtx, driver.Config{
		Interval:             interval,
		Duration:             duration,
		MaxConsecutiveErrors: defaultMaxConsecutiveErrors,
	}, s.sampler, sink)
}

// watchTargetExit polls target liveness at a coarse cadence, calling cancel
// once the process is gone so Start's driver.Run exits cleanly rather than
// spinning against a target that will never answer another read.
func (s *Session) watchTargetExit(ctx context.Context, cancel context.CancelFunc) {
	const pollInterval = 200 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			live, err := proc.IsPIDLive(s.pid)
			if err == nil && !live {
				cancel()
				return
			}
		}
	}
}

// Stop tears down session resources. If the session spawned its target, Stop
// also waits for the reaper goroutine to observe the child's exit.
func (s *Session) Stop() {
	if s.spawned != nil {
		_ = s.spawned.Process.Kill()
		<-s.reaperCh
	}
}
