// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package procmap enumerates a target process's loaded memory regions and
// identifies the region holding the interpreter binary or its shared
// library, plus the heap bounds needed to validate and scan for runtime
// pointers. Region enumeration is platform-specific (/proc/<pid>/maps on
// Linux, the Mach vm_region chain on macOS, VirtualQueryEx on Windows); this
// file holds the types and the shared candidate-selection policy.
package procmap // import "github.com/stackscope/stackscope/procmap"

import (
	"errors"

	"github.com/stackscope/stackscope/libpf"
)

// MinCandidateSize is the minimum on-disk size a mapped file must have to be
// considered a candidate interpreter binary or library. Anything smaller is
// assumed to not be a useful interpreter image. Mirrors Austin's 1 MiB
// threshold in _py_proc__parse_maps_file.
var MinCandidateSize int64 = 1 << 20

// ErrMapIncomplete is returned when no candidate binary/library was found, or
// the heap region was never observed.
var ErrMapIncomplete = errors.New("procmap: incomplete process map")

// nameHint is the substring that a candidate interpreter binary's mapped
// path must contain. Overridable by callers targeting a differently-named
// build.
var nameHint = "python"

// SetNameHint overrides the substring used to recognize candidate interpreter
// binaries in the target's maps (default "python").
func SetNameHint(hint string) {
	nameHint = hint
}

// Region is a single named sub-region of interest within the target's
// address space.
type Region struct {
	Base libpf.Address
	Size uint64
}

// End returns the exclusive upper bound of the region.
func (r Region) End() libpf.Address {
	return r.Base + libpf.Address(r.Size)
}

// MemoryMap describes the subset of a target process's address space
// relevant to locating and bounding the interpreter runtime.
type MemoryMap struct {
	// MinAddr and MaxAddr bound every real (non pseudo) mapping observed;
	// reads outside this range are rejected without a syscall.
	MinAddr, MaxAddr libpf.Address

	// ELF is the region backing the chosen candidate binary or library. The
	// field is named for the common case (ELF on Linux); on macOS and
	// Windows it holds the Mach-O or PE image region respectively.
	ELF Region
	// Heap is the process heap, used as a scan-fallback search space.
	Heap Region

	// Exactly one of BinPath/LibPath is set: the executable is preferred
	// over a shared library once found.
	BinPath string
	LibPath string
}

// BinaryPath returns whichever of BinPath/LibPath was populated.
func (m *MemoryMap) BinaryPath() string {
	if m.BinPath != "" {
		return m.BinPath
	}
	return m.LibPath
}

// candidate is one mapped region whose backing file might be the
// interpreter's binary or shared library, collected by the platform-specific
// region walker and resolved by chooseCandidate using Austin's preference
// rule: an executable is always preferred over a shared library. The first
// executable is kept and never replaced; the first library is kept only until
// an executable is found, which then replaces it.
type candidate struct {
	path        string
	lower, upper uint64
	isExecutable bool
}

// chooseCandidate applies the platform-independent selection policy to a
// sequence of candidates discovered by a platform's region walker.
func chooseCandidate(mm *MemoryMap, cands []candidate) {
	for _, c := range cands {
		if c.isExecutable {
			if mm.BinPath != "" {
				continue
			}
			mm.BinPath = c.path
			mm.LibPath = ""
			mm.ELF = Region{Base: libpf.Address(c.lower), Size: c.upper - c.lower}
			continue
		}
		if mm.BinPath != "" || mm.LibPath != "" {
			continue
		}
		mm.LibPath = c.path
		mm.ELF = Region{Base: libpf.Address(c.lower), Size: c.upper - c.lower}
	}
}
