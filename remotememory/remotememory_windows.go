//go:build windows

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory // import "github.com/stackscope/stackscope/remotememory"

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

func (vm ProcessVirtualMemory) ReadAt(p []byte, off int64) (int, error) {
	numBytesWanted := len(p)
	if numBytesWanted == 0 {
		return 0, nil
	}

	handle, err := windows.OpenProcess(
		windows.PROCESS_VM_READ|windows.PROCESS_QUERY_INFORMATION, false, uint32(vm.pid))
	if err != nil {
		return 0, fmt.Errorf("failed to open PID %v: %w", vm.pid, classifyWindowsErr(err))
	}
	defer windows.CloseHandle(handle) //nolint:errcheck

	var numBytesRead uintptr
	err = windows.ReadProcessMemory(handle, uintptr(off), &p[0], uintptr(numBytesWanted), &numBytesRead)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID %v at 0x%x: %w", vm.pid, off, classifyWindowsErr(err))
	}
	if int(numBytesRead) != numBytesWanted {
		return int(numBytesRead), fmt.Errorf("failed to read PID %v at 0x%x: got only %d of %d: %w",
			vm.pid, off, numBytesRead, numBytesWanted, ErrMemoryFault)
	}
	return int(numBytesRead), nil
}

func classifyWindowsErr(err error) error {
	switch {
	case errors.Is(err, windows.ERROR_INVALID_PARAMETER):
		return ErrNoSuchProcess
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return ErrPermissionDenied
	case errors.Is(err, windows.ERROR_PARTIAL_COPY), errors.Is(err, windows.ERROR_NOACCESS):
		return ErrMemoryFault
	default:
		return err
	}
}
