//go:build darwin

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory // import "github.com/stackscope/stackscope/remotememory"

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>

static kern_return_t read_remote(pid_t pid, mach_vm_address_t addr,
                                  void *buf, mach_vm_size_t size, mach_vm_size_t *outSize) {
	task_t task;
	kern_return_t kr = task_for_pid(mach_task_self(), pid, &task);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	kr = mach_vm_read_overwrite(task, addr, size, (mach_vm_address_t)buf, outSize);
	mach_port_deallocate(mach_task_self(), task);
	return kr;
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Mach kern_return_t values relevant to classifying read failures.
// See <mach/kern_return.h>.
const (
	kernInvalidArgument = 4
	kernProtectionFailure = 2
	kernNoAccess         = 8
)

func (vm ProcessVirtualMemory) ReadAt(p []byte, off int64) (int, error) {
	numBytesWanted := len(p)
	if numBytesWanted == 0 {
		return 0, nil
	}

	var outSize C.mach_vm_size_t
	kr := C.read_remote(C.pid_t(vm.pid), C.mach_vm_address_t(off),
		unsafe.Pointer(&p[0]), C.mach_vm_size_t(numBytesWanted), &outSize)
	if kr != 0 {
		return 0, fmt.Errorf("failed to read PID %v at 0x%x: %w", vm.pid, off, classifyKernReturn(kr))
	}
	if int(outSize) != numBytesWanted {
		return int(outSize), fmt.Errorf("failed to read PID %v at 0x%x: got only %d of %d: %w",
			vm.pid, off, int(outSize), numBytesWanted, ErrMemoryFault)
	}
	return int(outSize), nil
}

func classifyKernReturn(kr C.kern_return_t) error {
	switch kr {
	case kernProtectionFailure, kernNoAccess:
		return ErrPermissionDenied
	case kernInvalidArgument:
		return ErrMemoryFault
	default:
		return fmt.Errorf("mach error %d", int(kr))
	}
}
