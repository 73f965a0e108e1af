// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package pfelf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func assertFileToVA(t *testing.T, mapper AddressMapper, fileAddress, virtualAddress uint64) {
	t.Helper()
	mappedAddress, ok := mapper.FileOffsetToVirtualAddress(fileAddress)
	assert.True(t, ok)
	assert.Equal(t, virtualAddress, mappedAddress)
}

func TestAddressMapper(t *testing.T) {
	mapper := AddressMapper{
		phdrs: []addressMapperPHDR{
			{offset: 0x1000, vaddr: 0x401000, filesz: 0x2000},
		},
	}
	assertFileToVA(t, mapper, 0x1000, 0x401000)
	assertFileToVA(t, mapper, 0x1010, 0x401010)

	_, ok := mapper.FileOffsetToVirtualAddress(0x10000)
	assert.False(t, ok)
}

func TestAddressMapperUnalignedOffset(t *testing.T) {
	// A LOAD segment whose file offset is not page-aligned: the kernel still
	// maps starting at the page boundary below it.
	mapper := AddressMapper{
		phdrs: []addressMapperPHDR{
			{offset: 0x1040, vaddr: 0x401040, filesz: 0x100},
		},
	}
	va, ok := mapper.FileOffsetToVirtualAddress(0x1000)
	assert.True(t, ok)
	assert.Equal(t, uint64(0x401000), va)
}
