// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// remotememory provides access to memory space of a process. The ReaderAt
// interface is used for the basic access, and various convenience functions are
// provided to help reading specific data types.
package remotememory // import "github.com/stackscope/stackscope/remotememory"

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/stackscope/stackscope/libpf"
)

// Sentinel errors classifying why a remote read failed, so callers can decide
// whether to retry, abandon the target, or surface a permissions hint to the
// operator. Platform ReadAt implementations map OS-specific errnos onto these.
var (
	ErrNoSuchProcess    = errors.New("remote process does not exist")
	ErrPermissionDenied = errors.New("insufficient permission to read remote process memory")
	ErrMemoryFault      = errors.New("remote address is not mapped or not readable")
)

// RemoteMemory implements a set of convenience functions to access the remote memory
type RemoteMemory struct {
	io.ReaderAt
	// Bias is the adjustment for pointers (used to unrelocate pointers in coredump)
	Bias libpf.Address
	// MinAddr and MaxAddr bound every address Read will accept, rejecting
	// anything outside [MinAddr, MaxAddr) before issuing a syscall. Zero
	// MaxAddr means unbounded: set by WithBounds once a session has a
	// procmap.MemoryMap to bound against; zero-value RemoteMemory values
	// (as used directly against local memory in tests)
	// stay unbounded.
	MinAddr, MaxAddr libpf.Address
}

// Valid determines if this RemoteMemory instance contains a valid reference to target process
func (rm RemoteMemory) Valid() bool {
	return rm.ReaderAt != nil
}

// WithBounds returns a copy of rm that rejects reads outside [min, max)
// without issuing a syscall, per the sampler's "never dereference an
// unvalidated pointer" invariant.
func (rm RemoteMemory) WithBounds(min, max libpf.Address) RemoteMemory {
	rm.MinAddr, rm.MaxAddr = min, max
	return rm
}

// InBounds reports whether [addr, addr+length) falls entirely within rm's
// configured bounds, or is always true if no bounds were set.
func (rm RemoteMemory) InBounds(addr libpf.Address, length int) bool {
	if rm.MaxAddr == 0 {
		return true
	}
	end := addr + libpf.Address(length)
	return addr >= rm.MinAddr && end <= rm.MaxAddr && end >= addr
}

// Read fills slice p[] with data from remote memory at address addr. Out of
// bounds addresses are rejected with ErrMemoryFault before any syscall is
// issued.
func (rm RemoteMemory) Read(addr libpf.Address, p []byte) error {
	if !rm.InBounds(addr, len(p)) {
		return fmt.Errorf("address 0x%x: %w", addr, ErrMemoryFault)
	}
	_, err := rm.ReadAt(p, int64(addr))
	return err
}

// Ptr reads a native pointer from remote memory
func (rm RemoteMemory) Ptr(addr libpf.Address) libpf.Address {
	var buf [8]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return libpf.Address(binary.LittleEndian.Uint64(buf[:])) - rm.Bias
}

// Uint8 reads an 8-bit unsigned integer from remote memory
func (rm RemoteMemory) Uint8(addr libpf.Address) uint8 {
	var buf [1]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return buf[0]
}

// Uint16 reads a 16-bit unsigned integer from remote memory
func (rm RemoteMemory) Uint16(addr libpf.Address) uint16 {
	var buf [2]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(buf[:])
}

// Uint32 reads a 32-bit unsigned integer from remote memory
func (rm RemoteMemory) Uint32(addr libpf.Address) uint32 {
	var buf [4]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// Uint32Checked reads a 32-bit unsigned integer from remote memory
func (rm RemoteMemory) Uint32Checked(addr libpf.Address) (uint32, error) {
	var buf [4]byte
	if err := rm.Read(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Uint64 reads a 64-bit unsigned integer from remote memory
func (rm RemoteMemory) Uint64(addr libpf.Address) uint64 {
	var buf [8]byte
	if rm.Read(addr, buf[:]) != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// String reads a zero terminated string from remote memory
func (rm RemoteMemory) String(addr libpf.Address) string {
	if !rm.InBounds(addr, 1) {
		return ""
	}
	buf := make([]byte, 1024)
	n, err := rm.ReadAt(buf, int64(addr))
	if n == 0 || (err != nil && err != io.EOF) {
		return ""
	}
	buf = buf[:n]
	zeroIdx := bytes.IndexByte(buf, 0)
	if zeroIdx >= 0 {
		return string(buf[:zeroIdx])
	}
	if n != cap(buf) {
		return ""
	}

	bigBuf := make([]byte, 4096)
	copy(bigBuf, buf)
	n, err = rm.ReadAt(bigBuf[len(buf):], int64(addr)+int64(len(buf)))
	if n == 0 || (err != nil && err != io.EOF) {
		return ""
	}
	bigBuf = bigBuf[:len(buf)+n]
	zeroIdx = bytes.IndexByte(bigBuf, 0)
	if zeroIdx >= 0 {
		return string(bigBuf[:zeroIdx])
	}

	// Not a zero terminated string
	return ""
}

// StringPtr reads a zero terminate string by first dereferencing a string pointer
// from target memory
func (rm RemoteMemory) StringPtr(addr libpf.Address) string {
	addr = rm.Ptr(addr)
	if addr == 0 {
		return ""
	}
	return rm.String(addr)
}

// ProcessVirtualMemory implements RemoteMemory using the host's native
// cross-process memory read primitive: process_vm_readv on Linux, a Mach
// task-port read on macOS, ReadProcessMemory on Windows (each in its own
// ReadAt, see remotememory_<os>.go).
type ProcessVirtualMemory struct {
	pid libpf.PID
}

// NewProcessVirtualMemory returns ProcessVirtualMemory implementation of RemoteMemory.
func NewProcessVirtualMemory(pid libpf.PID) RemoteMemory {
	return RemoteMemory{ReaderAt: ProcessVirtualMemory{pid}}
}
