// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackscope/stackscope/collapsed"
)

type fakeSampler struct {
	calls atomic.Uint64
	empty bool
}

func (f *fakeSampler) Sample(metric int64) []collapsed.Sample {
	f.calls.Add(1)
	if f.empty {
		return nil
	}
	return []collapsed.Sample{{PID: 1, TID: 1, Metric: metric}}
}

type recordingSink struct {
	emitted atomic.Uint64
}

func (r *recordingSink) Emit(collapsed.Sample) error {
	r.emitted.Add(1)
	return nil
}

func TestRunDurationBounded(t *testing.T) {
	sampler := &fakeSampler{}
	sink := &recordingSink{}

	stats, err := Run(context.Background(), Config{
		Interval: 5 * time.Millisecond,
		Duration: 40 * time.Millisecond,
	}, sampler, sink)

	require.NoError(t, err)
	assert.Greater(t, stats.SamplesOK, uint64(0))
	assert.Equal(t, uint64(0), stats.SamplesError)
	assert.Equal(t, stats.SamplesOK, sink.emitted.Load())
}

func TestRunContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sampler := &fakeSampler{}
	sink := &recordingSink{}

	done := make(chan struct{})
	var stats Stats
	var runErr error
	go func() {
		stats, runErr = Run(ctx, Config{Interval: 5 * time.Millisecond}, sampler, sink)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	require.NoError(t, runErr)
	assert.Greater(t, stats.SamplesOK, uint64(0))
}

func TestRunAbortsOnConsecutiveFailures(t *testing.T) {
	sampler := &fakeSampler{empty: true}
	sink := &recordingSink{}

	stats, err := Run(context.Background(), Config{
		Interval:             2 * time.Millisecond,
		MaxConsecutiveErrors: 3,
	}, sampler, sink)

	require.ErrorIs(t, err, ErrTooManyConsecutiveFailures)
	assert.Equal(t, uint64(0), stats.SamplesOK)
	assert.GreaterOrEqual(t, stats.SamplesError, uint64(3))
}
