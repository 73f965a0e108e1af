//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package procmap // import "github.com/stackscope/stackscope/procmap"

import (
	"bufio"
	"debug/elf"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/stackscope/stackscope/libpf"
	"github.com/stackscope/stackscope/stringutil"
)

const defaultMountPoint = "/proc"

// Load parses /proc/<pid>/maps for the given pid and returns the resulting
// MemoryMap, or ErrMapIncomplete if no candidate binary/library or heap
// region was found.
func Load(pid libpf.PID) (*MemoryMap, error) {
	path := fmt.Sprintf("%s/%d/maps", defaultMountPoint, pid)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	mm := &MemoryMap{MinAddr: libpf.Address(^uint64(0))}
	haveHeap := false
	var cands []candidate

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		lower, upper, pathname, ok := parseMapsLine(line)
		if !ok {
			continue
		}

		if !strings.HasPrefix(pathname, "[v") {
			if libpf.Address(lower) < mm.MinAddr {
				mm.MinAddr = libpf.Address(lower)
			}
			if libpf.Address(upper) > mm.MaxAddr {
				mm.MaxAddr = libpf.Address(upper)
			}
		}

		if !haveHeap && pathname == "[heap]" {
			mm.Heap = Region{Base: libpf.Address(lower), Size: upper - lower}
			haveHeap = true
			continue
		}

		if pathname == "" || !strings.Contains(pathname, nameHint) {
			continue
		}

		if c, ok := buildCandidate(pathname, lower, upper); ok {
			cands = append(cands, c)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	chooseCandidate(mm, cands)

	if mm.BinPath == "" && mm.LibPath == "" {
		return nil, ErrMapIncomplete
	}
	if !haveHeap {
		return nil, ErrMapIncomplete
	}
	return mm, nil
}

// buildCandidate stats and inspects pathname, returning ok=false if it is
// too small or fails to parse as an ELF object.
func buildCandidate(pathname string, lower, upper uint64) (candidate, bool) {
	info, err := os.Stat(pathname)
	if err != nil {
		return candidate{}, false
	}
	if info.Size() < MinCandidateSize {
		return candidate{}, false
	}

	isExec, err := isExecutableELF(pathname)
	if err != nil {
		log.WithError(err).Debugf("failed to inspect candidate %s", pathname)
		return candidate{}, false
	}

	return candidate{path: pathname, lower: lower, upper: upper, isExecutable: isExec}, true
}

// isExecutableELF reports whether the ELF file at path has type ET_EXEC.
// Any ET_DYN file, including a position-independent executable, is reported
// as not executable, the same as a shared library.
func isExecutableELF(path string) (bool, error) {
	f, err := elf.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	return f.Type == elf.ET_EXEC, nil
}

// parseMapsLine parses one line of /proc/pid/maps, mirroring the
// "%lx-%lx %4c %lx %x:%x %x %s" scanf pattern used by Austin: address range,
// perms, offset, dev, inode, and an optional trailing pathname. Uses
// stringutil's allocation-free field splitters, since this runs once per
// mapped region on every attach.
func parseMapsLine(line string) (lower, upper uint64, pathname string, ok bool) {
	var fields [6]string
	if stringutil.FieldsN(line, fields[:]) < 5 {
		return 0, 0, "", false
	}

	var addrs [2]string
	if stringutil.SplitN(fields[0], "-", addrs[:]) < 2 {
		return 0, 0, "", false
	}
	lower, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return 0, 0, "", false
	}
	upper, err = strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return 0, 0, "", false
	}

	if fields[5] != "" {
		pathname = fields[5]
	}
	return lower, upper, pathname, true
}

// ResidentSetSize returns the resident set size, in bytes, of pid, read from
// /proc/<pid>/statm. Grounded on Austin's _py_proc__get_resident_memory.
func ResidentSetSize(pid libpf.PID) (int64, error) {
	path := fmt.Sprintf("%s/%d/statm", defaultMountPoint, pid)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed statm contents: %q", string(data))
	}
	resident, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed resident field in statm: %w", err)
	}

	return resident * int64(os.Getpagesize()), nil
}
