// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package probe turns a resolved interpreter binary and a (possibly
// incomplete) set of anchor addresses into a usable starting point for
// sampling: the CPython version's structure Descriptor, and the remote
// address of the first live PyThreadState.
package probe // import "github.com/stackscope/stackscope/cpython/probe"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/stackscope/stackscope/anchors"
	"github.com/stackscope/stackscope/cpython/layout"
	"github.com/stackscope/stackscope/libpf"
	"github.com/stackscope/stackscope/procmap"
	"github.com/stackscope/stackscope/remotememory"
)

// ErrUnsupportedVersion is returned when the interpreter binary's version
// could not be determined, or layout carries no Descriptor for it.
var ErrUnsupportedVersion = errors.New("probe: unsupported or undetected CPython version")

// ErrNoThreadState is returned when neither the anchor-derived address nor
// the heap scan fallback produced a plausible PyThreadState.
var ErrNoThreadState = errors.New("probe: could not locate a live thread state")

var (
	libpythonRegex = regexp.MustCompile(`^(?:.*/)?libpython(\d)\.(\d+)[^/]*$`)
	pythonRegex    = regexp.MustCompile(`^(?:.*/)?python(\d)\.(\d+)(d|m|dm)?$`)
)

// DetectVersion extracts a major.minor CPython version from an interpreter
// binary or libpython's file name, preferring the libpython pattern since a
// "python" launcher linked against a shared libpython carries no version
// information of its own in some distros.
func DetectVersion(path string) (major, minor int, ok bool) {
	matches := libpythonRegex.FindStringSubmatch(path)
	if matches == nil {
		matches = pythonRegex.FindStringSubmatch(path)
	}
	if matches == nil {
		return 0, 0, false
	}
	major, _ = strconv.Atoi(matches[1])
	minor, _ = strconv.Atoi(matches[2])
	return major, minor, true
}

// Probe is a located, version-resolved sampling starting point for one
// target process.
type Probe struct {
	Desc            layout.Descriptor
	ThreadStateHead libpf.Address
}

// Locate resolves the interpreter version from mm's chosen binary path,
// then derives the head of the live PyThreadState list: directly from
// anchors when the runtime's own pointer chain is available, or by scanning
// the process heap for a plausible candidate otherwise. rm must already be
// bounded to mm's [MinAddr, MaxAddr) via RemoteMemory.WithBounds — every
// dereference here and in the resulting sampler relies on that to reject an
// out-of-range candidate before issuing a read syscall.
func Locate(rm remotememory.RemoteMemory, mm *procmap.MemoryMap, a anchors.Anchors) (*Probe, error) {
	major, minor, ok := DetectVersion(mm.BinaryPath())
	if !ok {
		return nil, fmt.Errorf("%w: could not parse version from %q", ErrUnsupportedVersion, mm.BinaryPath())
	}

	desc, ok := layout.For(major, minor)
	if !ok {
		return nil, fmt.Errorf("%w: CPython %d.%d", ErrUnsupportedVersion, major, minor)
	}

	head := a.ThreadStateHead
	if head == 0 && a.RuntimeState != 0 {
		head = walkFromRuntime(rm, a.RuntimeState, desc)
	}
	if head == 0 {
		head = scanForThreadState(rm, mm, desc)
	}
	if head == 0 {
		return nil, ErrNoThreadState
	}

	return &Probe{Desc: desc, ThreadStateHead: head}, nil
}

// walkFromRuntime dereferences _PyRuntime.interpreters.head, then that
// interpreter's threads.head, using desc's best-effort Runtime offsets.
func walkFromRuntime(rm remotememory.RemoteMemory, runtimeAddr libpf.Address, desc layout.Descriptor) libpf.Address {
	interp := rm.Ptr(runtimeAddr + libpf.Address(desc.Runtime.InterpHead))
	if interp == 0 {
		return 0
	}
	return rm.Ptr(interp + libpf.Address(desc.Runtime.ThreadsHead))
}

// scanForThreadState performs a linear scan of the process heap, treating
// each aligned word as a candidate PyThreadState* and validating it by
// walking to its current frame's code object pointer. This is a coarse
// fallback for binaries stripped of the _PyRuntime symbol; it trades
// precision for not requiring any symbol at all.
func scanForThreadState(rm remotememory.RemoteMemory, mm *procmap.MemoryMap, desc layout.Descriptor) libpf.Address {
	if mm.Heap.Size == 0 {
		return 0
	}

	buf := make([]byte, mm.Heap.Size)
	if err := rm.Read(mm.Heap.Base, buf); err != nil {
		return 0
	}

	const wordSize = 8
	for off := 0; off+wordSize <= len(buf); off += wordSize {
		candidate := libpf.Address(binary.LittleEndian.Uint64(buf[off:]))
		if candidate == 0 {
			continue
		}
		if looksLikeThreadState(rm, candidate, desc) {
			return candidate
		}
	}
	return 0
}

// looksLikeThreadState applies a minimal plausibility check: the candidate's
// frame pointer (through the 3.11 PyCFrame indirection if applicable) must
// be non-null and must itself point at a non-null, distinct code object.
func looksLikeThreadState(rm remotememory.RemoteMemory, addr libpf.Address, desc layout.Descriptor) bool {
	frame := rm.Ptr(addr + libpf.Address(desc.ThreadState.Frame))
	if frame == 0 {
		return false
	}
	if desc.CFrame.CurrentFrame != 0 {
		frame = rm.Ptr(frame + libpf.Address(desc.CFrame.CurrentFrame))
		if frame == 0 {
			return false
		}
	}

	code := rm.Ptr(frame + libpf.Address(desc.Frame.Code))
	return code != 0 && code != addr
}
