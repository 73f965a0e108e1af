// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package binimage parses the on-disk interpreter binary or shared library
// chosen by procmap, computing the load bias and enumerating the dynamic
// symbols needed by the anchors package. It dispatches to the host's native
// object format: ELF on Linux, Mach-O on macOS, PE on Windows.
package binimage // import "github.com/stackscope/stackscope/binimage"

import (
	"errors"

	"github.com/stackscope/stackscope/libpf"
)

// ErrBadFormat is returned when the file is missing its format magic, has no
// section headers, or otherwise fails to parse as an object file of the
// expected kind.
var ErrBadFormat = errors.New("binimage: not a recognized object file")

// ErrNoDynamicSymbols is returned when the file has no dynamic symbol table
// to enumerate.
var ErrNoDynamicSymbols = errors.New("binimage: no dynamic symbol table")

// Image is a parsed, locally-mapped view of the target's on-disk binary or
// shared library.
type Image struct {
	// WordSize is 4 or 8, the pointer width of the parsed object.
	WordSize int
	// Bias is added to in-file symbol addresses to yield the address within
	// the region as mapped into the target's address space.
	Bias libpf.Address
	// Symbols holds every enumerated dynamic symbol, name to remote address
	// already adjusted by adding Bias to the in-file address.
	Symbols []libpf.Symbol
}

// Lookup returns the resolved remote address of name, or ok=false if name is
// not present among the parsed dynamic symbols.
func (img *Image) Lookup(name libpf.SymbolName) (libpf.Address, bool) {
	for _, s := range img.Symbols {
		if s.Name == name {
			return libpf.Address(s.Address), true
		}
	}
	return 0, false
}
