// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceFromPointer(t *testing.T) {
	s := 0xcafebabe
	p := &s
	actual := SliceFrom(p)
	assert.Equal(t, []byte{0xbe, 0xba, 0xfe, 0xca, 0x0, 0x0, 0x0, 0x0}, actual)
}

func TestSliceFromSlice(t *testing.T) {
	s := []uint64{0xcafebabe, 0xdeadbeef}
	actual := SliceFrom(s)
	expected := []byte{
		0xbe, 0xba, 0xfe, 0xca, 0x0, 0x0, 0x0, 0x0,
		0xef, 0xbe, 0xad, 0xde, 0x0, 0x0, 0x0, 0x0,
	}
	assert.Equal(t, expected, actual)
}

func TestAddJitter(t *testing.T) {
	base := int64(1000)
	for _, jitter := range []float64{0, 0.1, 0.5, 1.0} {
		got := AddJitter(1000, jitter)
		low := int64(float64(base) * (1 - jitter))
		high := int64(float64(base) * (1 + jitter))
		assert.GreaterOrEqual(t, int64(got), low)
		assert.LessOrEqual(t, int64(got), high)
	}
}
