// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package anchors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackscope/stackscope/libpf"
)

type fakeSymbols map[libpf.SymbolName]libpf.Address

func (f fakeSymbols) Lookup(name libpf.SymbolName) (libpf.Address, bool) {
	addr, ok := f[name]
	return addr, ok
}

func TestResolveFound(t *testing.T) {
	syms := fakeSymbols{"_PyRuntime": 0x6b2d40}

	a, err := Resolve(syms)
	require.NoError(t, err)
	assert.Equal(t, libpf.Address(0x6b2d40), a.RuntimeState)
	assert.Equal(t, libpf.Address(0), a.ThreadStateHead)
}

func TestResolveNotFound(t *testing.T) {
	syms := fakeSymbols{"some_other_symbol": 0x1000}

	_, err := Resolve(syms)
	require.ErrorIs(t, err, ErrRuntimeNotFound)
}
