// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package sampler walks a located CPython interpreter's thread and frame
// chains and renders them as collapsed.Sample values. The bytecode-offset
// to line-number decoders are ported from the three formats CPython has
// shipped (co_lnotab, the 3.10 line table, and the 3.11+ location table);
// the frame walk itself has no eBPF counterpart to crib from, since the
// teacher resolves it all in-kernel.
package sampler // import "github.com/stackscope/stackscope/cpython/sampler"

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"

	"github.com/stackscope/stackscope/collapsed"
	"github.com/stackscope/stackscope/cpython/layout"
	"github.com/stackscope/stackscope/cpython/probe"
	"github.com/stackscope/stackscope/libpf"
	"github.com/stackscope/stackscope/libpf/freelru"
	"github.com/stackscope/stackscope/remotememory"
)

// DefaultMaxDepth bounds the number of frames walked per thread before a
// sample is cut short with a DepthExceeded marker frame.
const DefaultMaxDepth = 128

// maxThreadsPerTick guards the thread-state list walk against a corrupted
// or cyclic chain, most likely from probe's heap-scan fallback landing on a
// false positive.
const maxThreadsPerTick = 4096

// maxLineTableSize rejects line tables larger than this as a sign the
// pointer chain has gone stale or the code object offsets are wrong for the
// running build.
const maxLineTableSize = 1 << 16

const codeObjectCacheSize = 4096

// ErrInvalidCodeObject is returned internally when a code object's name or
// filename could not be read; frames backed by such a code object are
// dropped from the sample rather than failing it outright.
var ErrInvalidCodeObject = errors.New("sampler: invalid code object")

// codeEntry is the cached, decoded subset of one PyCodeObject.
type codeEntry struct {
	Name      string
	File      string
	FirstLine uint32
	LineTable []byte
}

// Sampler samples one target process's CPython interpreter on demand.
type Sampler struct {
	pid        libpf.PID
	rm         remotememory.RemoteMemory
	desc       layout.Descriptor
	threadHead libpf.Address
	maxDepth   int
	cache      *freelru.LRU[libpf.Address, *codeEntry]
}

// New builds a Sampler from a located Probe. maxDepth <= 0 selects
// DefaultMaxDepth.
func New(pid libpf.PID, rm remotememory.RemoteMemory, p *probe.Probe, maxDepth int) (*Sampler, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	cache, err := freelru.New[libpf.Address, *codeEntry](codeObjectCacheSize, hashAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to create code object cache: %w", err)
	}
	return &Sampler{
		pid:        pid,
		rm:         rm,
		desc:       p.Desc,
		threadHead: p.ThreadStateHead,
		maxDepth:   maxDepth,
		cache:      cache,
	}, nil
}

func hashAddress(a libpf.Address) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(a))
	return uint32(xxh3.Hash(buf[:]))
}

// Sample walks the interpreter's thread-state list once and returns one
// collapsed.Sample per thread found, each annotated with metric (the
// sampling interval, conventionally in microseconds).
func (s *Sampler) Sample(metric int64) []collapsed.Sample {
	samples := make([]collapsed.Sample, 0, 8)
	addr := s.threadHead
	for i := 0; addr != 0 && i < maxThreadsPerTick; i++ {
		samples = append(samples, s.sampleThread(addr, metric))
		addr = s.rm.Ptr(addr + libpf.Address(s.desc.ThreadState.Next))
	}
	return samples
}

func (s *Sampler) sampleThread(addr libpf.Address, metric int64) collapsed.Sample {
	tid := libpf.PID(s.rm.Uint64(addr + libpf.Address(s.desc.ThreadState.ThreadID)))

	frame := s.rm.Ptr(addr + libpf.Address(s.desc.ThreadState.Frame))
	if s.desc.CFrame.CurrentFrame != 0 {
		frame = s.rm.Ptr(frame + libpf.Address(s.desc.CFrame.CurrentFrame))
	}

	var stack []collapsed.Frame
	for depth := 0; frame != 0; depth++ {
		if depth >= s.maxDepth {
			stack = append(stack, collapsed.Frame{DepthExceeded: true})
			break
		}

		if s.desc.Frame.EntryMember != 0 {
			marker := s.rm.Uint8(frame + libpf.Address(s.desc.Frame.EntryMember))
			if uint64(marker) == s.desc.Frame.EntryVal {
				// C-call shim/entry frame pushed at the boundary: not a
				// real Python frame, and nothing above it is either.
				break
			}
		}

		codeAddr := s.rm.Ptr(frame + libpf.Address(s.desc.Frame.Code))
		lastI := s.rm.Uint32(frame + libpf.Address(s.desc.Frame.LastI))

		if co, err := s.codeObject(codeAddr); err == nil {
			stack = append(stack, collapsed.Frame{
				Function: co.Name,
				File:     co.File,
				Line:     int64(co.FirstLine) + int64(lineForInstruction(s.desc.LineTable, co.LineTable, lastI)),
			})
		}

		frame = s.rm.Ptr(frame + libpf.Address(s.desc.Frame.Back))
	}

	// The walk above runs leaf (innermost call) to root; collapsed-stack
	// output wants root-to-leaf.
	for i, j := 0, len(stack)-1; i < j; i, j = i+1, j-1 {
		stack[i], stack[j] = stack[j], stack[i]
	}

	return collapsed.Sample{PID: s.pid, TID: tid, Frames: stack, Metric: metric}
}

func (s *Sampler) codeObject(addr libpf.Address) (*codeEntry, error) {
	if addr == 0 {
		return nil, fmt.Errorf("%w: null pointer", ErrInvalidCodeObject)
	}
	if entry, ok := s.cache.Get(addr); ok {
		return entry, nil
	}

	name := s.readPyString(addr + libpf.Address(s.desc.Code.Name))
	file := s.readPyString(addr + libpf.Address(s.desc.Code.Filename))
	if name == "" || file == "" {
		return nil, fmt.Errorf("%w: 0x%x", ErrInvalidCodeObject, addr)
	}
	firstLine := s.rm.Uint32(addr + libpf.Address(s.desc.Code.FirstLineno))
	lineTable := s.readLineTable(addr)

	entry := &codeEntry{Name: name, File: file, FirstLine: firstLine, LineTable: lineTable}
	s.cache.Add(addr, entry)
	return entry, nil
}

// readPyString dereferences a PyObject* field holding a compact ASCII str
// (true for co_name/co_filename on all supported interned-identifier
// builds) and reads its inline character data.
func (s *Sampler) readPyString(fieldAddr libpf.Address) string {
	obj := s.rm.Ptr(fieldAddr)
	if obj == 0 {
		return ""
	}
	return s.rm.String(obj + libpf.Address(s.desc.ASCIIObject.Data))
}

// readLineTable dereferences co_lnotab/co_linetable and reads the bytes
// object's inline data, bounding the size against maxLineTableSize.
func (s *Sampler) readLineTable(codeAddr libpf.Address) []byte {
	ptr := s.rm.Ptr(codeAddr + libpf.Address(s.desc.Code.Lnotab))
	if ptr == 0 {
		return nil
	}
	size := s.rm.Uint64(ptr + libpf.Address(s.desc.VarObject.ObSize))
	if size == 0 || size >= maxLineTableSize {
		return nil
	}
	buf := make([]byte, size)
	if err := s.rm.Read(ptr+libpf.Address(s.desc.Bytes.DataOffset), buf); err != nil {
		return nil
	}
	return buf
}

// lineForInstruction maps a bytecode offset to a line number relative to
// the code object's first line, using the decoder the interpreter version's
// line table format requires.
func lineForInstruction(kind layout.LineTableKind, lineTable []byte, bci uint32) uint32 {
	switch kind {
	case layout.LineTableLocationTable:
		return walkLocationTable(lineTable, bci)
	case layout.LineTableLinetable:
		return walkLineTable(lineTable, bci)
	default:
		return mapByteCodeIndexToLine(lineTable, bci)
	}
}

// readVarint returns a variable length encoded unsigned integer from a
// location table entry.
func readVarint(r io.ByteReader) uint32 {
	val := uint32(0)
	b := byte(0x40)
	for shift := 0; b&0x40 != 0; shift += 6 {
		var err error
		b, err = r.ReadByte()
		if err != nil || b&0x80 != 0 {
			return 0
		}
		val |= uint32(b&0x3f) << shift
	}
	return val
}

// readSignedVarint returns a variable length encoded signed integer from a
// location table entry.
func readSignedVarint(r io.ByteReader) int32 {
	uval := readVarint(r)
	if uval&1 != 0 {
		return -int32(uval >> 1)
	}
	return int32(uval >> 1)
}

// walkLocationTable implements the Python 3.11+ location table decode.
// https://github.com/python/cpython/blob/main/Objects/locations.md
func walkLocationTable(lineTable []byte, bci uint32) uint32 {
	r := bytes.NewReader(lineTable)
	curI := uint32(0)
	line := int32(0)
	for curI <= bci {
		firstByte, err := r.ReadByte()
		if err != nil || firstByte&0x80 == 0 {
			return 0
		}

		code := (firstByte >> 3) & 15
		curI += uint32(firstByte&7) + 1

		switch code {
		case 0, 1, 2, 3, 4, 5, 6, 7, 8, 9:
			_, _ = r.ReadByte()
		case 10, 11, 12:
			line += int32(code - 10)
			_, _ = r.ReadByte()
			_, _ = r.ReadByte()
		case 13:
			line += readSignedVarint(r)
		case 14:
			line += readSignedVarint(r)
			_ = readVarint(r)
			_ = readVarint(r)
			_ = readVarint(r)
		case 15:
			line = -1
		default:
			return 0
		}
	}
	if line < 0 {
		line = 0
	}
	return uint32(line)
}

// walkLineTable implements the Python 3.10 line table decode.
func walkLineTable(lineTable []byte, addrq uint32) uint32 {
	if addrq == 0 {
		return 0
	}
	var line, start, end uint32
	for i := 0; i < len(lineTable)/2; i += 2 {
		sDelta := lineTable[i]
		lDelta := int8(lineTable[i+1])
		if lDelta == 0 {
			end += uint32(sDelta)
			continue
		}
		start = end
		end = start + uint32(sDelta)
		if lDelta == -128 {
			continue
		}
		line += uint32(lDelta)
		if end == start {
			continue
		}
		if end > addrq {
			return line
		}
	}
	return 0
}

// mapByteCodeIndexToLine implements the pre-3.10 co_lnotab decode.
// https://github.com/python/cpython/blob/3.9/Objects/lnotab_notes.txt
func mapByteCodeIndexToLine(lnotab []byte, bci uint32) uint32 {
	lineno := uint32(0)
	addr := uint(0)
	for i := 0; i+1 < len(lnotab); i += 2 {
		addr += uint(lnotab[i])
		if addr > uint(bci) {
			return lineno
		}
		lineno += uint32(lnotab[i+1])
		if lnotab[i+1] >= 0x80 {
			lineno -= 0x100
		}
	}
	return lineno
}
