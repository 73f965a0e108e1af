//go:build windows

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package proc // import "github.com/stackscope/stackscope/proc"

import (
	"golang.org/x/sys/windows"

	"github.com/stackscope/stackscope/libpf"
)

// IsPIDLive checks if a PID belongs to a live process by attempting to open
// it; ERROR_INVALID_PARAMETER means no such process, anything else
// (including a successful open) means it exists.
func IsPIDLive(pid libpf.PID) (bool, error) {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		if err == windows.ERROR_INVALID_PARAMETER { //nolint:errorlint
			return false, nil
		}
		// Any other error (e.g. access denied) means the PID exists but we
		// can't fully confirm it; report it live, mirroring the Unix EPERM
		// case.
		return true, nil
	}
	defer windows.CloseHandle(handle) //nolint:errcheck

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return true, err
	}
	return code == windows.STILL_ACTIVE, nil
}
