//go:build linux || darwin

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package proc

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackscope/stackscope/libpf"
)

func TestIsPIDLiveSelf(t *testing.T) {
	live, err := IsPIDLive(libpf.PID(os.Getpid()))
	require.NoError(t, err)
	assert.True(t, live)
}

func TestIsPIDLiveNonexistent(t *testing.T) {
	// PID 1 is always init/launchd; use a single very large PID that almost
	// certainly doesn't exist.
	const improbablePID = libpf.PID(1 << 21)
	live, err := IsPIDLive(improbablePID)
	require.NoError(t, err)
	assert.False(t, live)
}
