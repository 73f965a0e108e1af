// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "github.com/stackscope/stackscope/libpf"

// Address represents a virtual address, or an offset within, a process'
// address space. It is a host-native value and is never dereferenceable
// locally -- only through a remotememory.Reader bound to the owning pid.
type Address uintptr
