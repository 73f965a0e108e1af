// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackscope/stackscope/anchors"
	"github.com/stackscope/stackscope/cpython/layout"
	"github.com/stackscope/stackscope/libpf"
	"github.com/stackscope/stackscope/procmap"
	"github.com/stackscope/stackscope/remotememory"
)

// fakeMemory is an in-process io.ReaderAt simulating a target's address
// space: addresses below base read as zero, addresses within [base,
// base+len(data)) are served from data.
type fakeMemory struct {
	base libpf.Address
	data []byte
}

func (f *fakeMemory) ReadAt(p []byte, off int64) (int, error) {
	addr := libpf.Address(off)
	if addr < f.base || addr-f.base >= libpf.Address(len(f.data)) {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, f.data[addr-f.base:])
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

func (f *fakeMemory) putPtr(addr libpf.Address, val libpf.Address) {
	binary.LittleEndian.PutUint64(f.data[addr-f.base:], uint64(val))
}

func newFakeMemory(base libpf.Address, size int) *fakeMemory {
	return &fakeMemory{base: base, data: make([]byte, size)}
}

func TestDetectVersion(t *testing.T) {
	major, minor, ok := DetectVersion("/usr/lib/x86_64-linux-gnu/libpython3.11.so.1.0")
	require.True(t, ok)
	assert.Equal(t, 3, major)
	assert.Equal(t, 11, minor)

	major, minor, ok = DetectVersion("/usr/bin/python3.9")
	require.True(t, ok)
	assert.Equal(t, 3, major)
	assert.Equal(t, 9, minor)

	_, _, ok = DetectVersion("/usr/bin/not-python")
	assert.False(t, ok)
}

func TestLocateViaRuntimeAnchor(t *testing.T) {
	const base = libpf.Address(0x10000)
	mem := newFakeMemory(base, 0x2000)

	desc, ok := layout.For(3, 11)
	require.True(t, ok)

	runtimeAddr := base + 0x100
	interpAddr := base + 0x200
	threadAddr := base + 0x300
	frameAddr := base + 0x400
	cframeAddr := base + 0x500
	codeAddr := base + 0x600

	mem.putPtr(runtimeAddr+libpf.Address(desc.Runtime.InterpHead), interpAddr)
	mem.putPtr(interpAddr+libpf.Address(desc.Runtime.ThreadsHead), threadAddr)
	mem.putPtr(threadAddr+libpf.Address(desc.ThreadState.Frame), cframeAddr)
	mem.putPtr(cframeAddr+libpf.Address(desc.CFrame.CurrentFrame), frameAddr)
	mem.putPtr(frameAddr+libpf.Address(desc.Frame.Code), codeAddr)

	rm := remotememory.RemoteMemory{ReaderAt: mem}
	mm := &procmap.MemoryMap{BinPath: "/usr/bin/python3.11"}

	a := anchors.Anchors{RuntimeState: runtimeAddr}
	p, err := Locate(rm, mm, a)
	require.NoError(t, err)
	assert.Equal(t, threadAddr, p.ThreadStateHead)
	assert.Equal(t, "3.11", p.Desc.String())
}

func TestLocateScanFallback(t *testing.T) {
	const base = libpf.Address(0x10000)
	mem := newFakeMemory(base, 0x2000)

	desc, ok := layout.For(3, 9)
	require.True(t, ok)

	heapBase := base
	threadAddr := base + 0x800
	frameAddr := base + 0x900
	codeAddr := base + 0xa00

	mem.putPtr(heapBase+0x40, threadAddr)
	mem.putPtr(threadAddr+libpf.Address(desc.ThreadState.Frame), frameAddr)
	mem.putPtr(frameAddr+libpf.Address(desc.Frame.Code), codeAddr)

	rm := remotememory.RemoteMemory{ReaderAt: mem}
	mm := &procmap.MemoryMap{
		BinPath: "/usr/bin/python3.9",
		Heap:    procmap.Region{Base: heapBase, Size: 0x1000},
	}

	p, err := Locate(rm, mm, anchors.Anchors{})
	require.NoError(t, err)
	assert.Equal(t, threadAddr, p.ThreadStateHead)
}

func TestLocateUnsupportedVersion(t *testing.T) {
	rm := remotememory.RemoteMemory{ReaderAt: newFakeMemory(0, 0x100)}
	mm := &procmap.MemoryMap{BinPath: "/usr/bin/python2.7"}
	_, err := Locate(rm, mm, anchors.Anchors{})
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestLocateNoThreadState(t *testing.T) {
	rm := remotememory.RemoteMemory{ReaderAt: newFakeMemory(0, 0x100)}
	mm := &procmap.MemoryMap{BinPath: "/usr/bin/python3.11"}
	_, err := Locate(rm, mm, anchors.Anchors{})
	require.ErrorIs(t, err, ErrNoThreadState)
}
