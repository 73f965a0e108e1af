// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package binimage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stackscope/stackscope/libpf"
)

func TestImageLookup(t *testing.T) {
	img := &Image{
		WordSize: 8,
		Bias:     0x1000,
		Symbols: []libpf.Symbol{
			{Name: "_PyRuntime", Address: 0x404000},
			{Name: "_PyThreadState_Current", Address: 0x404100},
		},
	}

	addr, ok := img.Lookup("_PyRuntime")
	assert.True(t, ok)
	assert.Equal(t, libpf.Address(0x404000), addr)

	_, ok = img.Lookup("does_not_exist")
	assert.False(t, ok)
}
