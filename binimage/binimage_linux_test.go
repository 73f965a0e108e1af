//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package binimage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelf(t *testing.T) {
	img, err := Parse("/proc/self/exe", 0x400000)
	if errors.Is(err, ErrNoDynamicSymbols) {
		t.Skip("test binary has no dynamic symbol table (statically linked, no cgo)")
	}
	require.NoError(t, err)
	assert.Equal(t, 8, img.WordSize)
	assert.NotEmpty(t, img.Symbols)
}

func TestParseMissingFile(t *testing.T) {
	_, err := Parse("/nonexistent/path/to/binary", 0)
	require.Error(t, err)
}
