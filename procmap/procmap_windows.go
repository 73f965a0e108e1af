//go:build windows

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package procmap // import "github.com/stackscope/stackscope/procmap"

import (
	"debug/pe"
	"fmt"
	"os"
	"strings"
	"syscall"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/stackscope/stackscope/libpf"
)

// memImage is MEM_IMAGE, the region Type value for a mapped module/image,
// not exported by golang.org/x/sys/windows.
const memImage = 0x1000000

// Load walks the target's address space with VirtualQueryEx, resolving each
// mapped region's backing file with GetMappedFileNameW, and returns the
// resulting MemoryMap. The heap is not located: processHeapBase always
// returns 0, so the returned MemoryMap's Heap is left zero.
func Load(pid libpf.PID) (*MemoryMap, error) {
	handle, err := windows.OpenProcess(
		windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("procmap: OpenProcess(%d) failed: %w", pid, err)
	}
	defer windows.CloseHandle(handle) //nolint:errcheck

	mm := &MemoryMap{MinAddr: libpf.Address(^uint64(0))}
	haveHeap := false
	var cands []candidate

	heapBase := processHeapBase(handle)

	var addr uintptr
	for {
		var info windows.MemoryBasicInformation
		err := windows.VirtualQueryEx(handle, addr, &info,
			unsafe.Sizeof(info))
		if err != nil {
			break
		}
		if info.RegionSize == 0 {
			break
		}

		lower := uint64(info.BaseAddress)
		upper := lower + uint64(info.RegionSize)

		if info.State == windows.MEM_COMMIT {
			if libpf.Address(lower) < mm.MinAddr {
				mm.MinAddr = libpf.Address(lower)
			}
			if libpf.Address(upper) > mm.MaxAddr {
				mm.MaxAddr = libpf.Address(upper)
			}
		}

		if !haveHeap && heapBase != 0 && lower <= heapBase && heapBase < upper {
			mm.Heap = Region{Base: libpf.Address(lower), Size: upper - lower}
			haveHeap = true
		}

		if info.State == windows.MEM_COMMIT && info.Type == memImage {
			if pathname := mappedFileName(handle, uintptr(info.BaseAddress)); pathname != "" &&
				strings.Contains(strings.ToLower(pathname), nameHint) {
				if c, ok := buildCandidate(pathname, lower, upper); ok {
					cands = append(cands, c)
				}
			}
		}

		addr = uintptr(info.BaseAddress) + uintptr(info.RegionSize)
	}

	chooseCandidate(mm, cands)

	if mm.BinPath == "" && mm.LibPath == "" {
		return nil, ErrMapIncomplete
	}
	// processHeapBase cannot yet locate a remote process's heap (see its
	// comment), so unlike Linux/macOS a missing heap does not fail the map
	// here: the anchor-symbol path does not need it, and the heap-scan
	// fallback already tolerates a zero-size Heap by reporting no thread
	// state found instead of misbehaving.
	return mm, nil
}

// processHeapBase always returns 0: the target's heap base is not determined.
func processHeapBase(handle windows.Handle) uint64 {
	// GetProcessHeaps only enumerates heaps of the calling process; locating
	// a remote process's heap list requires reading its PEB, which is not
	// done here. Returning 0 leaves Heap empty rather than misreporting a
	// local heap as the target's.
	_ = handle
	return 0
}

// mappedFileName resolves the module path backing the mapping that contains
// addr, via K32GetMappedFileNameW.
func mappedFileName(handle windows.Handle, addr uintptr) string {
	buf := make([]uint16, windows.MAX_PATH)
	n, err := getMappedFileName(handle, addr, &buf[0], uint32(len(buf)))
	if err != nil || n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

var (
	modpsapi            = windows.NewLazySystemDLL("psapi.dll")
	procGetMappedFileNameW = modpsapi.NewProc("GetMappedFileNameW")
)

func getMappedFileName(handle windows.Handle, addr uintptr, buf *uint16, size uint32) (uint32, error) {
	r1, _, e1 := syscall.SyscallN(procGetMappedFileNameW.Addr(),
		uintptr(handle), addr, uintptr(unsafe.Pointer(buf)), uintptr(size))
	if r1 == 0 {
		return 0, e1
	}
	return uint32(r1), nil
}

// buildCandidate stats and inspects pathname, returning ok=false if it is
// too small or fails to parse as a PE object.
func buildCandidate(pathname string, lower, upper uint64) (candidate, bool) {
	info, err := os.Stat(pathname)
	if err != nil {
		return candidate{}, false
	}
	if info.Size() < MinCandidateSize {
		return candidate{}, false
	}

	isExec, err := isExecutablePE(pathname)
	if err != nil {
		log.WithError(err).Debugf("failed to inspect candidate %s", pathname)
		return candidate{}, false
	}

	return candidate{path: pathname, lower: lower, upper: upper, isExecutable: isExec}, true
}

// isExecutablePE reports whether the PE file at path is an EXE (has the
// IMAGE_FILE_EXECUTABLE_IMAGE characteristic without being a DLL) rather
// than a DLL.
func isExecutablePE(path string) (bool, error) {
	f, err := pe.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	const imageFileDLL = 0x2000
	return f.Characteristics&imageFileDLL == 0, nil
}
