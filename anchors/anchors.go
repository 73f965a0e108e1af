// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package anchors matches the fixed, small set of well-known interpreter
// anchor symbols against a parsed binary's dynamic symbol table and records
// their remote addresses. Only one anchor needs to resolve for sampling to
// proceed: cpython/probe derives the rest by walking the runtime's own
// pointer chain using the version-appropriate cpython/layout.Descriptor.
package anchors // import "github.com/stackscope/stackscope/anchors"

import (
	"errors"

	"github.com/stackscope/stackscope/libpf"
)

// ErrRuntimeNotFound is returned when none of the known anchor symbols were
// present in the binary's dynamic symbol table.
var ErrRuntimeNotFound = errors.New("anchors: no interpreter anchor symbol found")

// runtimeStateSymbol is the exported symbol naming the interpreter's global
// runtime state. Present since CPython 3.7; on older, stripped, or
// statically-shimmed interpreter binaries it may be absent, in which case
// cpython/probe falls back to scanning the heap. BSS is not scanned.
const runtimeStateSymbol = libpf.SymbolName("_PyRuntime")

// Anchors holds the remote addresses of the interpreter's known entry
// points. At least one of the two fields is non-zero after a successful
// Resolve; cpython/probe walks from whichever is available to reach the
// other.
type Anchors struct {
	// RuntimeState is the remote address of the interpreter's global runtime
	// state object (CPython's _PyRuntime), or 0 if not resolved.
	RuntimeState libpf.Address
	// ThreadStateHead is the remote address of the head of the live
	// thread-state list, or 0 if not yet derived.
	ThreadStateHead libpf.Address
}

// SymbolSource is the minimal view of a parsed binary image anchors needs:
// a name-to-address lookup over its enumerated dynamic symbols.
type SymbolSource interface {
	Lookup(name libpf.SymbolName) (libpf.Address, bool)
}

// Resolve matches the fixed anchor name list against syms and returns the
// addresses it found. Returns ErrRuntimeNotFound if no anchor symbol is
// present at all, signaling the caller should fall back to a heap scan.
func Resolve(syms SymbolSource) (Anchors, error) {
	var a Anchors
	if addr, ok := syms.Lookup(runtimeStateSymbol); ok {
		a.RuntimeState = addr
	}

	if a.RuntimeState == 0 && a.ThreadStateHead == 0 {
		return Anchors{}, ErrRuntimeNotFound
	}
	return a, nil
}
