// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package driver runs a Sampler on a fixed cadence for a bounded duration,
// emitting each tick's samples to a collapsed.Sink and tracking success and
// failure counts, aborting early if sampling starts failing consecutively.
package driver // import "github.com/stackscope/stackscope/driver"

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stackscope/stackscope/collapsed"
	"github.com/stackscope/stackscope/periodiccaller"
	"github.com/stackscope/stackscope/successfailurecounter"
)

// ErrTooManyConsecutiveFailures is returned by Run when Config.MaxConsecutiveErrors
// ticks in a row failed to sample, signaling the target is gone or wedged.
var ErrTooManyConsecutiveFailures = errors.New("driver: too many consecutive sampling failures")

// Sampler produces one collapsed sample set per tick. cpython/sampler.Sampler
// satisfies this.
type Sampler interface {
	Sample(metric int64) []collapsed.Sample
}

// Config bounds a sampling session.
type Config struct {
	// Interval is the nominal time between samples.
	Interval time.Duration
	// Duration is the total wall-clock time to sample for. Zero means run
	// until ctx is canceled.
	Duration time.Duration
	// MaxConsecutiveErrors aborts the session once this many ticks in a row
	// produced zero samples. Zero disables the abort check.
	MaxConsecutiveErrors int
}

// Stats reports how a Run concluded.
type Stats struct {
	SamplesOK    uint64
	SamplesError uint64
}

// Run samples s every Config.Interval, emitting each tick's samples to sink,
// until Config.Duration elapses, ctx is canceled, or MaxConsecutiveErrors is
// reached. The returned error is nil for a normal, duration-bounded or
// context-canceled exit.
func Run(ctx context.Context, cfg Config, s Sampler, sink collapsed.Sink) (Stats, error) {
	var samplesOK, samplesError, consecutiveFailures atomic.Uint64

	runCtx := ctx
	var cancel context.CancelFunc
	if cfg.Duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	tickErr := make(chan error, 1)
	metric := cfg.Interval.Microseconds()

	tick := func() {
		samples := s.Sample(metric)
		sfCounter := successfailurecounter.New(&samplesOK, &samplesError)

		if len(samples) == 0 {
			sfCounter.ReportFailure()
			if n := consecutiveFailures.Add(1); cfg.MaxConsecutiveErrors > 0 && int(n) >= cfg.MaxConsecutiveErrors {
				select {
				case tickErr <- ErrTooManyConsecutiveFailures:
				default:
				}
			}
			return
		}
		consecutiveFailures.Store(0)

		ok := true
		for _, sample := range samples {
			if err := sink.Emit(sample); err != nil {
				log.WithError(err).Warn("failed to emit sample")
				ok = false
			}
		}
		if ok {
			sfCounter.ReportSuccess()
		} else {
			sfCounter.ReportFailure()
		}
	}

	stop := periodiccaller.Start(runCtx, cfg.Interval, tick)
	defer stop()

	var err error
	select {
	case <-runCtx.Done():
	case err = <-tickErr:
	}
	return Stats{SamplesOK: samplesOK.Load(), SamplesError: samplesError.Load()}, err
}
