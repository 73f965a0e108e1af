// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// package pfelf implements functions for processing of ELF files and extracting data from
// them. This file implements an independent ELF parser from debug.elf with different usage:
//   - optimized for speed (and supports only ELF files for current CPU architecture)
//   - loads only portions of the ELF really needed and accessed (minimizing CPU/RSS)
//   - can handle partial ELF files without sections present

// The Executable and Linking Format (ELF) specification is available at:
//   https://refspecs.linuxfoundation.org/elf/elf.pdf

package pfelf // import "github.com/stackscope/stackscope/libpf/pfelf"

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"unsafe"

	"github.com/stackscope/stackscope/libpf"
	"github.com/stackscope/stackscope/libpf/readatbuf"
)

const (
	// maxBytesSmallSection is the maximum section size for small libpf
	// parsed sections (e.g. notes)
	maxBytesSmallSection = 4 * 1024

	// maxBytesLargeSection is the maximum section size for large libpf
	// parsed sections (e.g. symbol tables and string tables; libxul
	// has about 4MB .dynstr)
	maxBytesLargeSection = 16 * 1024 * 1024
)

// ErrNotELF is returned when the file is not an ELF
var ErrNotELF = errors.New("not an ELF file")

// ErrNoTbss is returned when the tbss section cannot be found
var ErrNoTbss = errors.New("no thread-local uninitialized data section (tbss)")

// ErrNoTdata is returned when the tdata section cannot be found
var ErrNoTdata = errors.New("no thread-local initialized data section (tdata)")

// File represents an open ELF file
type File struct {
	// closer is called internally when resources for this File are to be released
	closer io.Closer

	// elfReader is the ReadAt implementation used for this File
	elfReader io.ReaderAt

	// Progs contains the program header
	Progs []Prog

	// Sections contains the program sections if loaded
	Sections []Section

	// elfHeader is the ELF file header
	elfHeader elf.Header64

	// Fields to mimic elf.debug
	Type    elf.Type
	Machine elf.Machine
	Entry   uint64
}

// Prog represents a program header, and data associated with it
type Prog struct {
	elf.ProgHeader

	// elfReader is the same ReadAt as used for the File
	elfReader io.ReaderAt
}

// Section represents a section header, and data associated with it
type Section struct {
	elf.SectionHeader

	// Embed ReaderAt for ReadAt method.
	io.ReaderAt

	// Do not embed SectionReader directly, or as public member. We can't
	// return the same copy to multiple callers, otherwise they corrupt
	// each other's reader file position.
	sr *io.SectionReader
}

// Open opens the named file using os.Open and prepares it for use as an ELF binary.
func Open(name string) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	// Wrap it in a cacher as we often do short reads
	buffered, err := readatbuf.New(f, 1024, 4)
	if err != nil {
		return nil, err
	}

	ff, err := newFile(buffered, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return ff, nil
}

// Close closes the File.
func (f *File) Close() (err error) {
	if f.closer != nil {
		err = f.closer.Close()
		f.closer = nil
	}
	return
}

func newFile(r io.ReaderAt, closer io.Closer) (*File, error) {
	f := &File{
		elfReader: r,
		closer:    closer,
	}

	hdr := &f.elfHeader
	if _, err := r.ReadAt(libpf.SliceFrom(hdr), 0); err != nil {
		return nil, err
	}
	if !bytes.Equal(hdr.Ident[0:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return nil, ErrNotELF
	}
	if elf.Class(hdr.Ident[elf.EI_CLASS]) != elf.ELFCLASS64 ||
		elf.Data(hdr.Ident[elf.EI_DATA]) != elf.ELFDATA2LSB ||
		elf.Version(hdr.Ident[elf.EI_VERSION]) != elf.EV_CURRENT {
		return nil, fmt.Errorf("unsupported ELF file: %v", hdr.Ident)
	}

	// fill the Machine and Type fields
	f.Machine = elf.Machine(hdr.Machine)
	f.Type = elf.Type(hdr.Type)
	f.Entry = hdr.Entry

	if f.Machine != CurrentMachine {
		return nil, fmt.Errorf("unsupported ELF machine %v (built for %v)",
			f.Machine, CurrentMachine)
	}

	// if number of program headers is 0 this is likely not the ELF file we
	// are interested in
	if hdr.Phnum == 0 {
		return nil, fmt.Errorf("ELF with zero Program headers (type: %v)", hdr.Type)
	}

	progs := make([]elf.Prog64, hdr.Phnum)
	if _, err := r.ReadAt(libpf.SliceFrom(progs), int64(hdr.Phoff)); err != nil {
		return nil, err
	}

	f.Progs = make([]Prog, hdr.Phnum)
	for i, ph := range progs {
		p := &f.Progs[i]
		p.ProgHeader = elf.ProgHeader{
			Type:   elf.ProgType(ph.Type),
			Flags:  elf.ProgFlag(ph.Flags),
			Off:    ph.Off,
			Vaddr:  ph.Vaddr,
			Paddr:  ph.Paddr,
			Filesz: ph.Filesz,
			Memsz:  ph.Memsz,
			Align:  ph.Align,
		}
		p.elfReader = r
	}

	return f, nil
}

// getString extracts a null terminated string from an ELF string table
func getString(section []byte, start int) (string, bool) {
	if start < 0 || start >= len(section) {
		return "", false
	}
	slen := bytes.IndexByte(section[start:], 0)
	if slen < 0 {
		return "", false
	}
	return string(section[start : start+slen]), true
}

// LoadSections loads the ELF file sections
func (f *File) LoadSections() error {
	if f.Sections != nil {
		// Already loaded.
		return nil
	}

	hdr := &f.elfHeader
	if hdr.Shnum == 0 {
		// No sections. Nothing to do.
		return nil
	}
	if hdr.Shnum > 0 && hdr.Shstrndx >= hdr.Shnum {
		return fmt.Errorf("invalid ELF section string table index (%d / %d)",
			hdr.Shstrndx, hdr.Shnum)
	}

	// Load section headers
	sections := make([]elf.Section64, hdr.Shnum)
	if _, err := f.elfReader.ReadAt(libpf.SliceFrom(sections), int64(hdr.Shoff)); err != nil {
		return err
	}

	f.Sections = make([]Section, hdr.Shnum)
	for i, sh := range sections {
		s := &f.Sections[i]
		s.SectionHeader = elf.SectionHeader{
			Type:      elf.SectionType(sh.Type),
			Flags:     elf.SectionFlag(sh.Flags),
			Addr:      sh.Addr,
			Offset:    sh.Off,
			Size:      sh.Size,
			Link:      sh.Link,
			Info:      sh.Info,
			Addralign: sh.Addralign,
			Entsize:   sh.Entsize,
			FileSize:  sh.Size,
		}
		s.sr = io.NewSectionReader(f.elfReader, int64(s.Offset), int64(s.FileSize))
		s.ReaderAt = s.sr
	}

	// Load the section name string table
	strsh := f.Sections[hdr.Shstrndx]
	if strsh.FileSize >= 1024*1024 {
		return fmt.Errorf("section headers string table too large (%d)",
			strsh.FileSize)
	}
	strtab, err := strsh.Data(maxBytesLargeSection)
	if err != nil {
		return err
	}
	for i := range f.Sections {
		sh := &f.Sections[i]
		var ok bool
		sh.Name, ok = getString(strtab, int(sections[i].Name))
		if !ok {
			return fmt.Errorf("bad section name index (section %d, index %d/%d)",
				i, sections[i].Name, len(strtab))
		}
	}

	return nil
}

// Section returns a section with the given name, or nil if no such section exists.
func (f *File) Section(name string) *Section {
	if err := f.LoadSections(); err != nil {
		return nil
	}
	for i := range f.Sections {
		s := &f.Sections[i]
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Tbss gets the thread-local uninitialized data section
func (f *File) Tbss() (*Section, error) {
	if err := f.LoadSections(); err != nil {
		return nil, err
	}
	for _, sec := range f.Sections {
		if sec.Type == elf.SHT_NOBITS && sec.Flags&elf.SHF_TLS != 0 {
			return &sec, nil
		}
	}
	return nil, ErrNoTbss
}

// Tdata gets the thread-local initialized data section
func (f *File) Tdata() (*Section, error) {
	if err := f.LoadSections(); err != nil {
		return nil, err
	}
	for _, sec := range f.Sections {
		if sec.Type == elf.SHT_PROGBITS && sec.Flags&elf.SHF_TLS != 0 {
			return &sec, nil
		}
	}
	return nil, ErrNoTdata
}

// ReadVirtualMemory reads bytes from given virtual address
func (f *File) ReadVirtualMemory(p []byte, addr int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for _, ph := range f.Progs {
		// Search for the Program header that contains the start address.
		// ReadVirtualMemory() supports ReadAt() style indication of reading
		// less bytes then requested, so addr+len(p) can be an address beyond
		// the segment and ReadAt() will give short read.
		if ph.Type == elf.PT_LOAD && uint64(addr) >= ph.Vaddr &&
			uint64(addr) < ph.Vaddr+ph.Memsz {
			return ph.ReadAt(p, addr-int64(ph.Vaddr))
		}
	}
	return 0, fmt.Errorf("no matching segment for 0x%x", uint64(addr))
}

// GetBuildID returns the ELF BuildID if present
func (f *File) GetBuildID() (string, error) {
	s := f.Section(".note.gnu.build-id")
	if s == nil {
		s = f.Section(".notes")
	}
	if s == nil {
		return "", ErrNoBuildID
	}
	data, err := s.Data(maxBytesSmallSection)
	if err != nil {
		return "", err
	}

	return getBuildIDFromNotes(data)
}

// ReadAt implements the io.ReaderAt interface
func (ph *Prog) ReadAt(p []byte, off int64) (n int, err error) {
	// First load as much as possible from the disk
	if uint64(off) < ph.Filesz {
		end := int(min(int64(len(p)), int64(ph.Filesz)-off))
		n, err = ph.elfReader.ReadAt(p[0:end], int64(ph.Off)+off)
		if n == 0 && errors.Is(err, syscall.EFAULT) {
			// Read zeroes from sparse file holes
			for i := range p[0:end] {
				p[i] = 0
			}
			n = end
		}
		if n != end || err != nil {
			return n, err
		}
		off += int64(n)
	}

	// The gap between Filesz and Memsz is allocated by dynamic loader as
	// anonymous pages, and zero initialized. Read zeroes from this area.
	if n < len(p) && uint64(off) < ph.Memsz {
		end := int(min(int64(len(p)-n), int64(ph.Memsz)-off))
		for i := range p[n : n+end] {
			p[i] = 0
		}
		n += end
	}

	if n != len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Data loads the whole section header referenced data, and returns it as a slice.
func (sh *Section) Data(maxSize uint) ([]byte, error) {
	if sh.Flags&elf.SHF_COMPRESSED != 0 {
		return nil, errors.New("compressed sections not supported")
	}
	if sh.FileSize > uint64(maxSize) {
		return nil, fmt.Errorf("section size %d is too large", sh.FileSize)
	}
	p := make([]byte, sh.FileSize)
	_, err := sh.ReadAt(p, 0)
	return p, err
}

// loadSymbolTable reads given symbol table
func (f *File) loadSymbolTable(name string) (*libpf.SymbolMap, error) {
	symTab := f.Section(name)
	if symTab == nil {
		return nil, fmt.Errorf("failed to read %v: section not present", name)
	}
	if symTab.Link >= uint32(len(f.Sections)) {
		return nil, fmt.Errorf("failed to read %v strtab: link %v out of range",
			name, symTab.Link)
	}
	strTab := f.Sections[symTab.Link]
	strs, err := strTab.Data(maxBytesLargeSection)
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %v", strTab.Name, err)
	}
	syms, err := symTab.Data(maxBytesLargeSection)
	if err != nil {
		return nil, fmt.Errorf("failed to read %v: %v", name, err)
	}

	symMap := libpf.SymbolMap{}
	symSz := int(unsafe.Sizeof(elf.Sym64{}))
	for i := 0; i < len(syms); i += symSz {
		sym := (*elf.Sym64)(unsafe.Pointer(&syms[i]))
		name, ok := getString(strs, int(sym.Name))
		if !ok {
			continue
		}
		symMap.Add(libpf.Symbol{
			Name:    libpf.SymbolName(name),
			Address: libpf.SymbolValue(sym.Value),
			Size:    sym.Size,
		})
	}
	symMap.Finalize()

	return &symMap, nil
}

// ReadDynamicSymbols reads the full dynamic symbol table from the ELF
func (f *File) ReadDynamicSymbols() (*libpf.SymbolMap, error) {
	return f.loadSymbolTable(".dynsym")
}

// IsGolang determines if this ELF is a Golang executable
func (f *File) IsGolang() bool {
	return f.Section(".go.buildinfo") != nil || f.Section(".gopclntab") != nil
}
