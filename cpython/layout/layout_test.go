// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForKnownVersions(t *testing.T) {
	d, ok := For(3, 11)
	require.True(t, ok)
	assert.False(t, d.Introspect)
	assert.Equal(t, uint64(8), d.ThreadState.Next)
	assert.Equal(t, uint64(56), d.ThreadState.Frame)
	assert.Equal(t, uint64(8), d.CFrame.CurrentFrame)
	assert.Equal(t, LineTableLocationTable, d.LineTable)
	assert.Equal(t, "3.11", d.String())

	d, ok = For(3, 9)
	require.True(t, ok)
	assert.True(t, d.Introspect)
	assert.Equal(t, LineTableLnotab, d.LineTable)

	d, ok = For(3, 10)
	require.True(t, ok)
	assert.True(t, d.Introspect)
	assert.Equal(t, LineTableLinetable, d.LineTable)

	d, ok = For(3, 13)
	require.True(t, ok)
	assert.Equal(t, uint64(72), d.ThreadState.Frame)
}

func TestForOutOfRange(t *testing.T) {
	_, ok := For(2, 7)
	assert.False(t, ok)

	_, ok = For(3, 5)
	assert.False(t, ok)

	_, ok = For(3, 14)
	assert.False(t, ok)

	_, ok = For(4, 0)
	assert.False(t, ok)
}
