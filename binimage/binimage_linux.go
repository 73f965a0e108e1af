//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package binimage // import "github.com/stackscope/stackscope/binimage"

import (
	"debug/elf"
	"fmt"
	"os"

	"github.com/stackscope/stackscope/libpf"
	"github.com/stackscope/stackscope/libpf/pfelf"
)

// Parse opens the ELF file at path, computes its load bias relative to
// regionBase (the base address of the mapping procmap.Load identified), and
// enumerates its dynamic symbols with remote addresses already resolved.
func Parse(path string, regionBase libpf.Address) (*Image, error) {
	ef, err := pfelf.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	defer ef.Close()

	if len(ef.Progs) == 0 {
		return nil, fmt.Errorf("%w: no program headers", ErrBadFormat)
	}
	if err := ef.LoadSections(); err != nil || len(ef.Sections) < 2 {
		return nil, fmt.Errorf("%w: missing or too few section headers", ErrBadFormat)
	}

	bias := loadBias(ef, regionBase)

	symbols, err := ef.ReadDynamicSymbols()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDynamicSymbols, err)
	}
	if symbols.Len() == 0 {
		return nil, ErrNoDynamicSymbols
	}

	img := &Image{WordSize: 8, Bias: bias}
	symbols.VisitAll(func(s libpf.Symbol) {
		img.Symbols = append(img.Symbols, libpf.Symbol{
			Name:    s.Name,
			Address: s.Address + libpf.SymbolValue(bias),
			Size:    s.Size,
		})
	})

	return img, nil
}

// loadBias locates the first PT_LOAD segment, aligns its file-declared
// virtual address down to its alignment boundary, and returns the offset
// that must be added to any other in-file virtual address to land on the
// address the segment is actually mapped at (regionBase).
func loadBias(ef *pfelf.File, regionBase libpf.Address) libpf.Address {
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		align := p.Align
		if align == 0 {
			align = 1
		}
		alignedVaddr := libpf.Address(p.Vaddr &^ (align - 1))
		return regionBase - alignedVaddr
	}
	return 0
}
