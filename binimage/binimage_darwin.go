//go:build darwin

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package binimage // import "github.com/stackscope/stackscope/binimage"

import (
	"debug/macho"
	"fmt"

	"github.com/stackscope/stackscope/libpf"
)

// Parse opens the Mach-O file at path, computes its load bias relative to
// regionBase, and enumerates its dynamic symbol table.
func Parse(path string, regionBase libpf.Address) (*Image, error) {
	mf, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	defer mf.Close()

	wordSize := 4
	if mf.Cpu == macho.CpuAmd64 || mf.Cpu == macho.CpuArm64 {
		wordSize = 8
	}

	bias := loadBias(mf, regionBase)

	if mf.Symtab == nil || len(mf.Symtab.Syms) == 0 {
		return nil, ErrNoDynamicSymbols
	}

	img := &Image{WordSize: wordSize, Bias: bias}
	for _, sym := range mf.Symtab.Syms {
		if sym.Name == "" || sym.Value == 0 {
			continue
		}
		img.Symbols = append(img.Symbols, libpf.Symbol{
			Name:    libpf.SymbolName(sym.Name),
			Address: libpf.SymbolValue(libpf.Address(sym.Value) + bias),
		})
	}
	if len(img.Symbols) == 0 {
		return nil, ErrNoDynamicSymbols
	}

	return img, nil
}

// loadBias finds the __TEXT segment's declared virtual address and returns
// the offset that maps it onto regionBase. __PAGEZERO, which precedes
// __TEXT in every Mach-O executable and declares Addr == 0, must be
// skipped: using it would double-count regionBase in every symbol address.
func loadBias(mf *macho.File, regionBase libpf.Address) libpf.Address {
	for _, load := range mf.Loads {
		seg, ok := load.(*macho.Segment)
		if !ok || seg.Name != "__TEXT" {
			continue
		}
		return regionBase - libpf.Address(seg.Addr)
	}
	return 0
}
