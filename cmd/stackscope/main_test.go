// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackscope/stackscope/session"
)

func TestAttachOrSpawnRejectsBoth(t *testing.T) {
	_, err := attachOrSpawn(123, []string{"python3"})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrInvalidArguments)
}

func TestAttachOrSpawnRejectsNeither(t *testing.T) {
	_, err := attachOrSpawn(0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrInvalidArguments)
}
