// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package readatbuf_test

import (
	"bytes"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/stackscope/stackscope/libpf/readatbuf"
	"github.com/stretchr/testify/require"
)

func generateTestInput(seed int64, size uint) []byte {
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(r.Uint32())
	}
	return buf
}

func validateTransparency(t *testing.T, iterations int, want []byte, r io.ReaderAt) {
	t.Helper()
	rnd := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < iterations; i++ {
		if len(want) == 0 {
			return
		}
		off := rnd.IntN(len(want))
		n := rnd.IntN(len(want)-off) + 1
		got := make([]byte, n)
		read, err := r.ReadAt(got, int64(off))
		require.NoError(t, err)
		require.Equal(t, want[off:off+n], got[:read])
	}
}

func testVariant(t *testing.T, fileSize, granularity, cacheSize uint) {
	file := generateTestInput(255, fileSize)
	rawReader := bytes.NewReader(file)
	cachingReader, err := readatbuf.New(rawReader, granularity, cacheSize)
	require.NoError(t, err)
	validateTransparency(t, 1000, file, cachingReader)
}

func TestCaching(t *testing.T) {
	testVariant(t, 1024, 64, 1)
	testVariant(t, 1346, 11, 55)
	testVariant(t, 889, 34, 111)
}
