//go:build windows

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package binimage // import "github.com/stackscope/stackscope/binimage"

import (
	"debug/pe"
	"fmt"

	"github.com/stackscope/stackscope/libpf"
	"github.com/stackscope/stackscope/nopanicslicereader"
)

// Parse opens the PE file at path, computes its load bias relative to
// regionBase, and enumerates its export table as the dynamic symbol
// equivalent.
func Parse(path string, regionBase libpf.Address) (*Image, error) {
	pf, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	defer pf.Close()

	wordSize := 4
	var imageBase libpf.Address
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		wordSize = 8
		imageBase = libpf.Address(oh.ImageBase)
	case *pe.OptionalHeader32:
		imageBase = libpf.Address(oh.ImageBase)
	default:
		return nil, fmt.Errorf("%w: missing optional header", ErrBadFormat)
	}

	bias := regionBase - imageBase

	syms, err := exportedSymbols(pf)
	if err != nil {
		return nil, err
	}
	if len(syms) == 0 {
		return nil, ErrNoDynamicSymbols
	}

	img := &Image{WordSize: wordSize, Bias: bias}
	for name, rva := range syms {
		img.Symbols = append(img.Symbols, libpf.Symbol{
			Name:    libpf.SymbolName(name),
			Address: libpf.SymbolValue(imageBase) + libpf.SymbolValue(rva) + libpf.SymbolValue(bias),
		})
	}
	return img, nil
}

// exportedSymbols enumerates the PE export directory, returning each
// exported name's address as a relative virtual address (RVA) from the image
// base. debug/pe does not expose a parsed export table, so this walks the
// raw export directory structure directly.
func exportedSymbols(pf *pe.File) (map[string]uint32, error) {
	result := make(map[string]uint32)

	section := pf.Section(".edata")
	if section == nil {
		// No export directory: this is normal for non-exporting executables.
		// Fall back to an empty symbol set rather than failing parse outright.
		return result, nil
	}

	data, err := section.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if len(data) < 40 {
		return nil, fmt.Errorf("%w: truncated export directory", ErrBadFormat)
	}

	// Export Directory Table per the PE/COFF spec: NumberOfNames at +24,
	// AddressOfFunctions at +28, AddressOfNames at +32.
	numberOfNames := nopanicslicereader.Uint32(data, 24)
	addressOfFunctions := nopanicslicereader.Uint32(data, 28)
	addressOfNames := nopanicslicereader.Uint32(data, 32)
	addressOfNameOrdinals := nopanicslicereader.Uint32(data, 36)

	base := section.VirtualAddress
	readRVA := func(rva uint32) ([]byte, bool) {
		if rva < base || int(rva-base) >= len(data) {
			return nil, false
		}
		return data[rva-base:], true
	}

	namesTable, ok := readRVA(addressOfNames)
	if !ok || len(namesTable) < int(numberOfNames)*4 {
		return result, nil
	}
	ordinalsTable, ok := readRVA(addressOfNameOrdinals)
	if !ok || len(ordinalsTable) < int(numberOfNames)*2 {
		return result, nil
	}
	functionsTable, ok := readRVA(addressOfFunctions)
	if !ok {
		return result, nil
	}

	for i := uint32(0); i < numberOfNames; i++ {
		nameRVA := nopanicslicereader.Uint32(namesTable, uint(i*4))
		nameBytes, ok := readRVA(nameRVA)
		if !ok {
			continue
		}
		name := cString(nameBytes)

		ordinal := nopanicslicereader.Uint16(ordinalsTable, uint(i*2))
		if int(ordinal)*4+4 > len(functionsTable) {
			continue
		}
		result[name] = nopanicslicereader.Uint32(functionsTable, uint(ordinal*4))
	}
	return result, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
