// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collapsed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterSinkEmit(t *testing.T) {
	var buf strings.Builder
	sink := NewWriterSink(&buf)

	err := sink.Emit(Sample{
		PID: 100,
		TID: 200,
		Frames: []Frame{
			{Function: "<module>", File: "app.py", Line: 1},
			{Function: "fact", File: "app.py", Line: 5},
		},
		Metric: 10000,
	})
	require.NoError(t, err)
	require.NoError(t, sink.Flush())

	assert.Equal(t,
		"P100;T200;<module> (app.py);L1;fact (app.py);L5 10000\n",
		buf.String())
}

func TestWriterSinkEscapesSemicolons(t *testing.T) {
	var buf strings.Builder
	sink := NewWriterSink(&buf)

	require.NoError(t, sink.Emit(Sample{
		PID: 1,
		TID: 1,
		Frames: []Frame{
			{Function: "weird;name", File: "a;b.py", Line: 2},
		},
		Metric: 1000,
	}))
	require.NoError(t, sink.Flush())

	assert.Equal(t, `P1;T1;weird\;name (a\;b.py);L2 1000`+"\n", buf.String())
}

func TestWriterSinkDepthExceeded(t *testing.T) {
	var buf strings.Builder
	sink := NewWriterSink(&buf)

	require.NoError(t, sink.Emit(Sample{
		PID: 1,
		TID: 1,
		Frames: []Frame{
			{Function: "deep", File: "a.py", Line: 1},
			{DepthExceeded: true},
		},
		Metric: 1000,
	}))
	require.NoError(t, sink.Flush())

	assert.Equal(t, "P1;T1;deep (a.py);L1;[depth-exceeded] 1000\n", buf.String())
}

func TestWriterSinkNoFrames(t *testing.T) {
	var buf strings.Builder
	sink := NewWriterSink(&buf)

	require.NoError(t, sink.Emit(Sample{PID: 1, TID: 1, Metric: 1000}))
	require.NoError(t, sink.Flush())

	assert.Equal(t, "P1;T1 1000\n", buf.String())
}
