// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sampler

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackscope/stackscope/cpython/layout"
	"github.com/stackscope/stackscope/cpython/probe"
	"github.com/stackscope/stackscope/libpf"
	"github.com/stackscope/stackscope/remotememory"
)

// fakeMemory simulates a target's address space for a fixed backing buffer.
type fakeMemory struct {
	base libpf.Address
	data []byte
}

func newFakeMemory(base libpf.Address, size int) *fakeMemory {
	return &fakeMemory{base: base, data: make([]byte, size)}
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

func (f *fakeMemory) putPtr(addr, val libpf.Address) {
	binary.LittleEndian.PutUint64(f.data[addr-f.base:], uint64(val))
}

func (f *fakeMemory) putUint32(addr libpf.Address, val uint32) {
	binary.LittleEndian.PutUint32(f.data[addr-f.base:], val)
}

func (f *fakeMemory) putBytes(addr libpf.Address, b []byte) {
	copy(f.data[addr-f.base:], b)
}

// putPyUnicode writes a minimal compact-ASCII PyASCIIObject: the header
// region is untouched (Sampler never reads it beyond ASCIIObject.Data) and
// the string bytes follow at the version's Data offset, NUL terminated.
func (f *fakeMemory) putPyUnicode(addr libpf.Address, dataOffset uint64, s string) {
	f.putBytes(addr+libpf.Address(dataOffset), append([]byte(s), 0))
}

// putPyBytes writes a minimal PyBytesObject: ob_size at VarObject.ObSize,
// then raw bytes at Bytes.DataOffset.
func (f *fakeMemory) putPyBytes(addr libpf.Address, desc layout.Descriptor, b []byte) {
	binary.LittleEndian.PutUint64(f.data[addr-f.base+libpf.Address(desc.VarObject.ObSize):], uint64(len(b)))
	f.putBytes(addr+libpf.Address(desc.Bytes.DataOffset), b)
}

func TestSampleOneThreadOneFrame(t *testing.T) {
	const base = libpf.Address(0x10000)
	mem := newFakeMemory(base, 0x4000)

	desc, ok := layout.For(3, 9)
	require.True(t, ok)

	threadAddr := base + 0x100
	frameAddr := base + 0x200
	codeAddr := base + 0x300
	nameObjAddr := base + 0x400
	fileObjAddr := base + 0x500
	lnotabAddr := base + 0x600

	mem.putPtr(threadAddr+libpf.Address(desc.ThreadState.Frame), frameAddr)
	mem.putUint32(threadAddr+libpf.Address(desc.ThreadState.ThreadID), 4242)

	mem.putPtr(frameAddr+libpf.Address(desc.Frame.Code), codeAddr)
	mem.putUint32(frameAddr+libpf.Address(desc.Frame.LastI), 4)
	mem.putPtr(frameAddr+libpf.Address(desc.Frame.Back), 0)

	mem.putPtr(codeAddr+libpf.Address(desc.Code.Name), nameObjAddr)
	mem.putPtr(codeAddr+libpf.Address(desc.Code.Filename), fileObjAddr)
	mem.putUint32(codeAddr+libpf.Address(desc.Code.FirstLineno), 10)
	mem.putPtr(codeAddr+libpf.Address(desc.Code.Lnotab), lnotabAddr)

	mem.putPyUnicode(nameObjAddr, desc.ASCIIObject.Data, "handler")
	mem.putPyUnicode(fileObjAddr, desc.ASCIIObject.Data, "app.py")
	mem.putPyBytes(lnotabAddr, desc, []byte{0, 1, 2, 1})

	rm := remotememory.RemoteMemory{ReaderAt: mem}
	p := &probe.Probe{Desc: desc, ThreadStateHead: threadAddr}

	s, err := New(42, rm, p, 0)
	require.NoError(t, err)

	samples := s.Sample(1000)
	require.Len(t, samples, 1)
	assert.Equal(t, libpf.PID(42), samples[0].PID)
	assert.Equal(t, libpf.PID(4242), samples[0].TID)
	require.Len(t, samples[0].Frames, 1)
	assert.Equal(t, "handler", samples[0].Frames[0].Function)
	assert.Equal(t, "app.py", samples[0].Frames[0].File)
	assert.Equal(t, int64(1000), samples[0].Metric)
}

func TestSampleDepthExceeded(t *testing.T) {
	const base = libpf.Address(0x10000)
	mem := newFakeMemory(base, 0x4000)

	desc, ok := layout.For(3, 11)
	require.True(t, ok)

	threadAddr := base + 0x100
	mem.putPtr(threadAddr+libpf.Address(desc.ThreadState.Frame), base+0x200)
	mem.putPtr(base+0x200+libpf.Address(desc.CFrame.CurrentFrame), base+0x300)

	// A self-referential frame chain so the walk never terminates on its own.
	mem.putPtr(base+0x300+libpf.Address(desc.Frame.Back), base+0x300)

	rm := remotememory.RemoteMemory{ReaderAt: mem}
	p := &probe.Probe{Desc: desc, ThreadStateHead: threadAddr}

	s, err := New(1, rm, p, 3)
	require.NoError(t, err)

	samples := s.Sample(500)
	require.Len(t, samples, 1)
	last := samples[0].Frames[len(samples[0].Frames)-1]
	assert.True(t, last.DepthExceeded)
}

func TestLineForInstructionLnotab(t *testing.T) {
	// One (addr-delta, line-delta) pair: line 0 until byte 2, then +1.
	lnotab := []byte{2, 1}
	assert.Equal(t, uint32(0), mapByteCodeIndexToLine(lnotab, 0))
	assert.Equal(t, uint32(1), mapByteCodeIndexToLine(lnotab, 5))
}
