//go:build darwin

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package procmap // import "github.com/stackscope/stackscope/procmap"

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>
#include <libproc.h>
#include <string.h>

// walk_region advances over the task's address space one submap region at a
// time starting from *addr, mirroring vmmap's use of
// mach_vm_region_recurse with VM_REGION_SUBMAP_INFO_COUNT_64. On success
// *addr/*size describe the region and *tag holds its VM_MEMORY_* user tag
// (VM_MEMORY_MALLOC == 1 identifies a malloc heap region).
static kern_return_t walk_region(task_t task, mach_vm_address_t *addr,
                                  mach_vm_size_t *size, uint32_t *tag) {
	vm_region_submap_info_data_64_t info;
	mach_msg_type_number_t infoCount = VM_REGION_SUBMAP_INFO_COUNT_64;
	natural_t depth = 0;
	kern_return_t kr = mach_vm_region_recurse(task, addr, size, &depth,
		(vm_region_recurse_info_t)&info, &infoCount);
	if (kr == KERN_SUCCESS) {
		*tag = info.user_tag;
	}
	return kr;
}

static kern_return_t open_task(pid_t pid, task_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}
*/
import "C"

import (
	"debug/macho"
	"fmt"
	"os"
	"strings"
	"unsafe"

	log "github.com/sirupsen/logrus"

	"github.com/stackscope/stackscope/libpf"
)

// vmMemoryMalloc is the Mach VM_MEMORY_MALLOC user tag, set on regions
// backing the process's malloc heap arenas. See <mach/vm_statistics.h>.
const vmMemoryMalloc = 1

// Load enumerates the target's Mach submap regions via mach_vm_region_recurse,
// resolving each region's backing file through proc_regionfilename, and
// returns the resulting MemoryMap.
func Load(pid libpf.PID) (*MemoryMap, error) {
	var task C.task_t
	if kr := C.open_task(C.pid_t(pid), &task); kr != C.KERN_SUCCESS {
		return nil, fmt.Errorf("procmap: task_for_pid(%d) failed: kern_return_t=%d", pid, int(kr))
	}
	defer C.mach_port_deallocate(C.mach_task_self_, task)

	mm := &MemoryMap{MinAddr: libpf.Address(^uint64(0))}
	haveHeap := false
	var cands []candidate

	var addr C.mach_vm_address_t
	for {
		var size C.mach_vm_size_t
		var tag C.uint32_t
		kr := C.walk_region(task, &addr, &size, &tag)
		if kr != C.KERN_SUCCESS {
			break
		}

		lower := uint64(addr)
		upper := uint64(addr) + uint64(size)

		if lower < uint64(mm.MinAddr) {
			mm.MinAddr = libpf.Address(lower)
		}
		if upper > uint64(mm.MaxAddr) {
			mm.MaxAddr = libpf.Address(upper)
		}

		if !haveHeap && tag == vmMemoryMalloc {
			mm.Heap = Region{Base: libpf.Address(lower), Size: upper - lower}
			haveHeap = true
		}

		if pathname := regionFilename(pid, addr); pathname != "" &&
			strings.Contains(pathname, nameHint) {
			if c, ok := buildCandidate(pathname, lower, upper); ok {
				cands = append(cands, c)
			}
		}

		addr += C.mach_vm_address_t(size)
	}

	chooseCandidate(mm, cands)

	if mm.BinPath == "" && mm.LibPath == "" {
		return nil, ErrMapIncomplete
	}
	if !haveHeap {
		return nil, ErrMapIncomplete
	}
	return mm, nil
}

// buildCandidate stats and inspects pathname, returning ok=false if it is
// too small or fails to parse as a Mach-O object.
func buildCandidate(pathname string, lower, upper uint64) (candidate, bool) {
	info, err := os.Stat(pathname)
	if err != nil {
		return candidate{}, false
	}
	if info.Size() < MinCandidateSize {
		return candidate{}, false
	}

	isExec, err := isExecutableMachO(pathname)
	if err != nil {
		log.WithError(err).Debugf("failed to inspect candidate %s", pathname)
		return candidate{}, false
	}

	return candidate{path: pathname, lower: lower, upper: upper, isExecutable: isExec}, true
}

// isExecutableMachO reports whether the Mach-O file at path is a main
// executable (MH_EXECUTE) rather than a dynamic library (MH_DYLIB).
func isExecutableMachO(path string) (bool, error) {
	f, err := macho.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	return f.Type == macho.TypeExec, nil
}

// regionFilename resolves the backing file path of the mapping containing
// addr via proc_regionfilename, returning "" if the region is anonymous or
// the lookup fails.
func regionFilename(pid libpf.PID, addr C.mach_vm_address_t) string {
	buf := make([]byte, C.PROC_PIDPATHINFO_MAXSIZE)
	n := C.proc_regionfilename(C.int(pid), C.uint64_t(addr),
		unsafe.Pointer(&buf[0]), C.uint32_t(len(buf)))
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}
