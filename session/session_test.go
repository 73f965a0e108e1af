// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackscope/stackscope/binimage"
	"github.com/stackscope/stackscope/cpython/probe"
	"github.com/stackscope/stackscope/libpf"
	"github.com/stackscope/stackscope/procmap"
	"github.com/stackscope/stackscope/remotememory"
)

func TestClassifyExit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ExitCode
	}{
		{"nil is success", nil, ExitSuccess},
		{"permission denied", remotememory.ErrPermissionDenied, ExitPermissionDenied},
		{"no such process", remotememory.ErrNoSuchProcess, ExitNoSuchProcess},
		{"incomplete map treated as no such process", procmap.ErrMapIncomplete, ExitNoSuchProcess},
		{"invalid arguments", ErrInvalidArguments, ExitInvalidArguments},
		{"unsupported version", probe.ErrUnsupportedVersion, ExitUnsupportedVersion},
		{"bad format", binimage.ErrBadFormat, ExitUnsupportedVersion},
		{"unknown error is internal", errors.New("boom"), ExitInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyExit(tt.err))
		})
	}
}

func TestClassifyExitWrapped(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), remotememory.ErrPermissionDenied)
	assert.Equal(t, ExitPermissionDenied, ClassifyExit(wrapped))
}

func TestAttachNonexistentPID(t *testing.T) {
	const improbablePID = libpf.PID(1 << 21)
	_, err := Attach(improbablePID)
	require.Error(t, err)
	assert.Equal(t, ExitNoSuchProcess, ClassifyExit(err))
}

func TestSpawnRequiresArgv(t *testing.T) {
	_, err := Spawn(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArguments)
}
