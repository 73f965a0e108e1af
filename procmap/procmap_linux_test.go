//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package procmap

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackscope/stackscope/libpf"
)

func TestParseMapsLine(t *testing.T) {
	lower, upper, path, ok := parseMapsLine(
		"7f1234500000-7f1234520000 r-xp 00000000 08:01 131074 /usr/bin/python3.11")
	assert.True(t, ok)
	assert.Equal(t, uint64(0x7f1234500000), lower)
	assert.Equal(t, uint64(0x7f1234520000), upper)
	assert.Equal(t, "/usr/bin/python3.11", path)

	lower, upper, path, ok = parseMapsLine("7ffd00000000-7ffd00021000 rw-p 00000000 00:00 0")
	assert.True(t, ok)
	assert.Equal(t, uint64(0x7ffd00000000), lower)
	assert.Equal(t, uint64(0x7ffd00021000), upper)
	assert.Equal(t, "", path)

	_, _, _, ok = parseMapsLine("garbage")
	assert.False(t, ok)
}

func TestRegionEnd(t *testing.T) {
	r := Region{Base: 0x1000, Size: 0x100}
	assert.Equal(t, r.Base+0x100, r.End())
}

func TestLoadSelf(t *testing.T) {
	SetNameHint(".test")
	defer SetNameHint("python")

	mm, err := Load(libpf.PID(os.Getpid()))
	if err != nil {
		// go test binaries are always larger than MinCandidateSize and named
		// "*.test", but a stripped/too-small build could still miss.
		assert.ErrorIs(t, err, ErrMapIncomplete)
		return
	}
	assert.Greater(t, mm.MaxAddr, mm.MinAddr)
}

func TestResidentSetSize(t *testing.T) {
	rss, err := ResidentSetSize(libpf.PID(os.Getpid()))
	require.NoError(t, err)
	assert.Greater(t, rss, int64(0))
}
