// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// stackscope is the thin CLI front-end around the sampling core: flag
// parsing, output file handling, and signal handling live here, outside
// the specification's core boundary; spawning a target is done by the
// session package. Everything below main is the session
// API the core exposes: attach(pid), spawn(argv), start(interval,
// duration, sink), stop().
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	log "github.com/sirupsen/logrus"

	"github.com/stackscope/stackscope/collapsed"
	"github.com/stackscope/stackscope/libpf"
	"github.com/stackscope/stackscope/procmap"
	"github.com/stackscope/stackscope/session"
)

func main() {
	log.SetReportCaller(false)
	log.SetFormatter(&log.TextFormatter{})

	os.Exit(int(run(os.Args[1:])))
}

func run(args []string) session.ExitCode {
	fs := flag.NewFlagSet("stackscope", flag.ContinueOnError)
	pid := fs.Int64("pid", 0, "attach to an already-running process by PID")
	interval := fs.Duration("rate", 100*time.Millisecond, "sampling interval, e.g. 100ms")
	duration := fs.Duration("duration", 0, "total time to sample for (0 = until target exits)")
	output := fs.String("output", "", "output file for collapsed-stack lines (default stdout)")
	binaryHint := fs.String("interpreter", "python", "substring identifying the interpreter binary in the target's memory maps")
	verbose := fs.Bool("verbose", false, "enable debug logging")

	// STACKSCOPE_INTERPRETER selects the interpreter binary hint when
	// -interpreter is not given on the command line; an explicit flag takes
	// precedence over the environment variable.
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("STACKSCOPE")); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return session.ExitSuccess
		}
		log.WithError(err).Error("invalid arguments")
		return session.ExitInvalidArguments
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	procmap.SetNameHint(*binaryHint)

	sink, closeSink, err := openSink(*output)
	if err != nil {
		log.WithError(err).Error("failed to open output")
		return session.ExitInternalError
	}
	defer closeSink()

	sess, err := attachOrSpawn(*pid, fs.Args())
	if err != nil {
		log.WithError(err).Error("failed to start session")
		return session.ClassifyExit(err)
	}
	defer sess.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := sess.Start(ctx, *interval, *duration, sink)
	log.WithFields(log.Fields{
		"session_id":    sess.ID(),
		"pid":           sess.PID(),
		"samples_ok":    stats.SamplesOK,
		"samples_error": stats.SamplesError,
	}).Info("sampling session ended")

	return session.ClassifyExit(err)
}

// attachOrSpawn implements the CLI's "attach by pid, or spawn a command
// line" duality: exactly one of -pid or a trailing command line is
// expected.
func attachOrSpawn(pid int64, argv []string) (*session.Session, error) {
	switch {
	case pid > 0 && len(argv) > 0:
		return nil, fmt.Errorf("%w: pass -pid or a command line, not both", session.ErrInvalidArguments)
	case pid > 0:
		return session.Attach(libpf.PID(pid))
	case len(argv) > 0:
		return session.Spawn(argv)
	default:
		return nil, fmt.Errorf("%w: need -pid=<pid> or a command line to spawn", session.ErrInvalidArguments)
	}
}

// openSink opens path for collapsed-stack output, or wraps stdout if path
// is empty. The returned close function flushes and, for a real file,
// closes it.
func openSink(path string) (collapsed.Sink, func(), error) {
	if path == "" {
		sink := collapsed.NewWriterSink(os.Stdout)
		return sink, func() { _ = sink.Flush() }, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	sink := collapsed.NewWriterSink(f)
	return sink, func() {
		_ = sink.Flush()
		_ = f.Close()
	}, nil
}
