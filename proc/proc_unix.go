//go:build linux || darwin

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package proc // import "github.com/stackscope/stackscope/proc"

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/stackscope/stackscope/libpf"
)

const defaultMountPoint = "/proc"

// IsPIDLive checks if a PID belongs to a live process. It will never produce
// a false negative but may produce a false positive (e.g. due to
// permissions), in which case an error will also be returned.
func IsPIDLive(pid libpf.PID) (bool, error) {
	// A kill syscall with a 0 signal is documented to still do the check
	// whether the process exists: https://linux.die.net/man/2/kill
	err := unix.Kill(int(pid), 0)
	if err == nil {
		return true, nil
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.ESRCH:
			return false, nil
		case unix.EPERM:
			// On Darwin there is no procfs to fall back to, and EPERM is
			// conclusive evidence the process exists.
			if runtime.GOOS == "darwin" {
				return true, nil
			}
			// continue with procfs fallback
		default:
			return true, err
		}
	}

	path := fmt.Sprintf("%s/%d/maps", defaultMountPoint, pid)
	_, statErr := os.Stat(path)
	if statErr != nil && os.IsNotExist(statErr) {
		return false, nil
	}
	return true, statErr
}
