// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package layout describes, per CPython minor version, the memory layout of
// the interpreter structures a sampler must walk: the thread-state list, the
// frame chain, and the code object fields needed to resolve a file/line.
//
// CPython 3.11 replaced PyFrameObject with _PyInterpreterFrame, fixing the
// frame field offsets for external readers; this package hardcodes those
// exactly from the published struct definitions. Earlier versions carry
// Introspect=true for documentation: a tool with attach-time access to the
// interpreter's own debug info (as the teacher codebase has, via eBPF and
// PyFrame_Type's member table) would read the classic PyFrameObject offsets
// back from the live process rather than trust a constant. This package has
// no such introspection step, so it uses a fixed best-effort constant for
// those versions too, the same tradeoff RuntimeLayout makes.
package layout // import "github.com/stackscope/stackscope/cpython/layout"

import "fmt"

// ThreadStateLayout describes the PyThreadState fields needed to walk the
// interpreter's linked list of threads and reach each one's current frame.
type ThreadStateLayout struct {
	Next  uint64 `name:"next"`  // *PyThreadState, next entry in the interpreter's thread list
	Frame uint64 `name:"frame"` // current top frame, or (3.11 only) a PyCFrame* indirection
	// ThreadID is PyThreadState.thread_id, the native OS thread id set by
	// PyThread_get_thread_ident. Like RuntimeLayout, its offset is not part
	// of any CPython ABI guarantee; when the read fails the sampler labels
	// the sample with thread id 0.
	ThreadID uint64 `name:"thread_id"`
}

// CFrameLayout describes the one-version (3.11) indirection between
// PyThreadState and the active _PyInterpreterFrame.
type CFrameLayout struct {
	// CurrentFrame is the offset of current_frame within PyCFrame. Zero (the
	// default) means ThreadStateLayout.Frame already points at the frame
	// directly and there is no PyCFrame indirection.
	CurrentFrame uint64 `name:"current_frame"`
}

// FrameLayout describes the frame chain, spanning both the classic
// PyFrameObject (pre-3.11) and _PyInterpreterFrame (3.11+).
type FrameLayout struct {
	Back  uint64 `name:"f_back"` // previous frame in the call chain
	Code  uint64 `name:"f_code"` // owning PyCodeObject
	LastI uint64 `name:"f_lasti"` // last executed instruction offset

	// EntryMember/EntryVal identify the shim/entry frame CPython 3.11+
	// pushes at the C-call boundary: frames where the field at EntryMember
	// equals EntryVal are not real Python frames and unwinding stops there.
	// Zero EntryMember means the version has no such marker.
	EntryMember uint64
	EntryVal    uint64
}

// CodeLayout describes the PyCodeObject fields needed to resolve a frame to
// a source filename, function name and line number. Unlike FrameLayout,
// CPython itself never froze these offsets for external readers: the
// teacher's own tooling gets them by reading PyCode_Type's member-descriptor
// table out of the live process at attach time (readIntrospectionData).
// This package instead carries fixed best-effort offsets, in the same spirit
// as RuntimeLayout -- accurate for a representative CPython build per
// version group, not guaranteed across every redistribution.
type CodeLayout struct {
	Filename    uint64 `name:"co_filename"`
	Name        uint64 `name:"co_name"`
	FirstLineno uint64 `name:"co_firstlineno"`
	// Lnotab is co_lnotab pre-3.10, co_linetable on 3.10, and the location
	// table (also co_linetable) from 3.11 on. Which decoder applies is a
	// function of LineTable, not of this offset.
	Lnotab uint64 `name:"co_lnotab"`
}

// ASCIIObjectLayout describes PyASCIIObject, the backing store for co_name
// and co_filename on all supported versions (CPython interns these as str).
type ASCIIObjectLayout struct {
	Data uint64 `name:"data"` // offset to the first character of inline string data
}

// VarObjectLayout describes PyVarObject, the common header for
// variable-length objects (bytes line tables, ASCII string data).
type VarObjectLayout struct {
	ObSize uint64 `name:"ob_size"`
}

// BytesLayout describes PyBytesObject, the backing store for both the
// legacy co_lnotab and the newer co_linetable/location tables.
type BytesLayout struct {
	// DataOffset is the start of ob_sval, right after ob_refcnt, ob_type,
	// ob_size and ob_shash -- unchanged since bytes objects gained a cached
	// hash field.
	DataOffset uint64
}

// RuntimeLayout describes the offsets a probe walks from the _PyRuntime
// anchor symbol down to the first live thread state, when no thread-state
// address was recovered any other way. These mirror the struct order of
// pystate.h's pyruntimestate/_is: interpreters.head then threads.head.
// Unlike the frame/code offsets above, CPython makes no ABI promise about
// this internal layout even within a minor version; tools that rely on it
// (py-spy, austin, pystack) all carry an equivalent best-effort table and
// fall back to a heap scan when it walks off into nothing.
type RuntimeLayout struct {
	InterpHead   uint64 // pyruntimestate.interpreters.head
	ThreadsHead  uint64 // _is.threads.head (PyInterpreterState -> first PyThreadState)
}

// LineTableKind selects the bytecode-offset-to-line decoder a version's
// co_lnotab/co_linetable field requires.
type LineTableKind int

const (
	// LineTableLnotab is the classic (addr-delta, line-delta) byte pairs
	// format used before Python 3.10.
	LineTableLnotab LineTableKind = iota
	// LineTableLinetable is the Python 3.10 line table format.
	LineTableLinetable
	// LineTableLocationTable is the Python 3.11+ location table format,
	// which also encodes column information alongside lines.
	LineTableLocationTable
)

// Descriptor is the complete per-version structure map a sampler needs to
// walk one interpreter's thread and frame chains without any of the
// interpreter's own debug symbols.
type Descriptor struct {
	Major, Minor int

	// Introspect is true when this version predates the 3.11 rewrite that
	// made FrameLayout.Back/Code/LastI fixed. It only marks such versions:
	// nothing reads the offsets back from the live process, and the
	// constant FrameLayout values are used as they are.
	Introspect bool

	ThreadState ThreadStateLayout
	CFrame      CFrameLayout
	Frame       FrameLayout
	Code        CodeLayout
	ASCIIObject ASCIIObjectLayout
	VarObject   VarObjectLayout
	Bytes       BytesLayout
	Runtime     RuntimeLayout

	LineTable LineTableKind
}

// minSupported and maxSupported bound the CPython versions this package
// ships descriptors for.
var (
	minSupported = [2]int{3, 6}
	maxSupported = [2]int{3, 13}
)

func versionString(major, minor int) string {
	return fmt.Sprintf("%d.%d", major, minor)
}

// common holds the field offsets that are stable across every supported
// version; per-version descriptors start from a copy and override only what
// changed in that release.
var common = Descriptor{
	// PyThreadState begins with prev(0), next(8), interp(16), then frame(24)
	// for the pre-3.11 versions; the 3.11 frame rewrite moved the frame
	// pointer, so For overrides ThreadState.Frame for 3.11 and later.
	ThreadState: ThreadStateLayout{Next: 8, Frame: 24, ThreadID: 176},
	// Classic PyFrameObject, used by every version with Introspect=true:
	// PyObject_VAR_HEAD(24), f_back(24), f_code(32), then several
	// interpreter-internal fields before f_lasti. A version built with
	// debug introspection available would read these back from
	// PyFrame_Type's member table instead of trusting this constant; this
	// package chooses the constant uniformly, accepting the same
	// redistribution risk as RuntimeLayout.
	Frame: FrameLayout{Back: 24, Code: 32, LastI: 58},
	ASCIIObject: ASCIIObjectLayout{Data: 48},
	VarObject:   VarObjectLayout{ObSize: 16},
	Bytes:       BytesLayout{DataOffset: 32},
	Runtime:     RuntimeLayout{InterpHead: 48, ThreadsHead: 8},
	Code: CodeLayout{
		Filename:    96,
		Name:        104,
		FirstLineno: 64,
		Lnotab:      112,
	},
}

// For returns the structure layout for the given CPython minor version, and
// false if this package carries no descriptor for it.
func For(major, minor int) (Descriptor, bool) {
	if (major < minSupported[0] || (major == minSupported[0] && minor < minSupported[1])) ||
		(major > maxSupported[0] || (major == maxSupported[0] && minor > maxSupported[1])) {
		return Descriptor{}, false
	}

	d := common
	d.Major, d.Minor = major, minor

	switch {
	case major == 3 && minor <= 9:
		d.Introspect = true
		d.LineTable = LineTableLnotab
	case major == 3 && minor == 10:
		d.Introspect = true
		d.LineTable = LineTableLinetable
	case major == 3 && minor == 11:
		// _PyInterpreterFrame replaces PyFrameObject; PyThreadState no
		// longer embeds the frame pointer directly but reaches it through
		// a PyCFrame.
		d.Frame = FrameLayout{
			Code:        32,
			LastI:       56,
			Back:        48,
			EntryMember: 68,
			EntryVal:    1,
		}
		d.ThreadState.Frame = 56
		d.CFrame.CurrentFrame = 8
		d.LineTable = LineTableLocationTable
		d.Code = CodeLayout{Filename: 112, Name: 128, FirstLineno: 52, Lnotab: 120}
	case major == 3 && minor == 12:
		d.Frame = FrameLayout{
			Code:        0,
			LastI:       56,
			Back:        8,
			EntryMember: 70,
			EntryVal:    3,
		}
		d.ThreadState.Frame = 56
		d.CFrame.CurrentFrame = 0
		d.ASCIIObject.Data = 40
		d.LineTable = LineTableLocationTable
		d.Code = CodeLayout{Filename: 112, Name: 128, FirstLineno: 52, Lnotab: 120}
	case major == 3 && minor == 13:
		d.Frame = FrameLayout{
			Code:        0,
			LastI:       56,
			Back:        8,
			EntryMember: 70,
			EntryVal:    3,
		}
		d.ThreadState.Frame = 72
		d.CFrame.CurrentFrame = 0
		d.ASCIIObject.Data = 40
		d.LineTable = LineTableLocationTable
		d.Code = CodeLayout{Filename: 112, Name: 128, FirstLineno: 52, Lnotab: 120}
	default:
		return Descriptor{}, false
	}

	return d, true
}

// String formats the version a Descriptor was built for, e.g. "3.11".
func (d Descriptor) String() string {
	return versionString(d.Major, d.Minor)
}
