//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory // import "github.com/stackscope/stackscope/remotememory"

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ReadAt copies from the target's address space via process_vm_readv, the
// vectored cross-process read syscall Linux exposes for this purpose.
func (vm ProcessVirtualMemory) ReadAt(p []byte, off int64) (int, error) {
	numBytesWanted := len(p)
	if numBytesWanted == 0 {
		return 0, nil
	}
	localIov := []unix.Iovec{{Base: &p[0], Len: uint64(numBytesWanted)}}
	remoteIov := []unix.RemoteIovec{{Base: uintptr(off), Len: numBytesWanted}}
	numBytesRead, err := unix.ProcessVMReadv(int(vm.pid), localIov, remoteIov, 0)
	if err != nil {
		err = fmt.Errorf("failed to read PID %v at 0x%x: %w", vm.pid, off, classifyErrno(err))
	} else if numBytesRead != numBytesWanted {
		err = fmt.Errorf("failed to read PID %v at 0x%x: got only %d of %d: %w",
			vm.pid, off, numBytesRead, numBytesWanted, ErrMemoryFault)
	}
	return numBytesRead, err
}

// classifyErrno maps a process_vm_readv errno onto the package's sentinel
// errors. Unrecognized errnos are returned unchanged.
func classifyErrno(err error) error {
	switch {
	case errors.Is(err, unix.ESRCH):
		return ErrNoSuchProcess
	case errors.Is(err, unix.EPERM):
		return ErrPermissionDenied
	case errors.Is(err, unix.EFAULT), errors.Is(err, unix.EIO):
		return ErrMemoryFault
	default:
		return err
	}
}
