// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package proc answers the one process-existence question the rest of the
// module needs: whether a given PID still names a live process. The check
// itself is platform-specific (proc_unix.go / proc_windows.go); this file
// only documents the shared contract.
package proc // import "github.com/stackscope/stackscope/proc"
