// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package collapsed renders Sample values into the collapsed-stack line
// format consumed by flamegraph tooling: one line per sampled thread, frames
// ordered root-to-leaf, with the sampling interval as the trailing metric.
package collapsed // import "github.com/stackscope/stackscope/collapsed"

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stackscope/stackscope/libpf"
)

// Frame is one entry in a sampled stack, root-to-leaf ordering expected from
// the caller. DepthExceeded marks a frame synthesized because the walk hit
// the configured maximum stack depth rather than a null prev pointer.
type Frame struct {
	Function      string
	File          string
	Line          int64
	DepthExceeded bool
}

// Sample is one thread's stack as of one sampling tick.
type Sample struct {
	PID    libpf.PID
	TID    libpf.PID
	Frames []Frame
	// Metric is the value reported after the frame list, conventionally the
	// sampling interval in microseconds.
	Metric int64
}

// Sink receives rendered samples. A Driver calls Emit once per Sample
// produced by a Sampler tick.
type Sink interface {
	Emit(Sample) error
}

// WriterSink renders samples as collapsed-stack lines and writes them to an
// underlying io.Writer, buffering output across a session.
type WriterSink struct {
	w *bufio.Writer
}

// NewWriterSink wraps w, buffering collapsed-stack output.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: bufio.NewWriter(w)}
}

// Emit writes one collapsed-stack line for the sample.
func (s *WriterSink) Emit(sample Sample) error {
	var b strings.Builder
	fmt.Fprintf(&b, "P%d;T%d", sample.PID, sample.TID)
	for _, f := range sample.Frames {
		b.WriteByte(';')
		if f.DepthExceeded {
			b.WriteString("[depth-exceeded]")
			continue
		}
		b.WriteString(escape(f.Function))
		b.WriteString(" (")
		b.WriteString(escape(f.File))
		b.WriteString(");L")
		b.WriteString(strconv.FormatInt(f.Line, 10))
	}
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(sample.Metric, 10))
	b.WriteByte('\n')

	_, err := s.w.WriteString(b.String())
	return err
}

// Flush flushes any buffered output to the underlying writer.
func (s *WriterSink) Flush() error {
	return s.w.Flush()
}

// escape backslash-escapes the ';' delimiter inside a name so collapsed-stack
// consumers can split fields unambiguously.
func escape(name string) string {
	if !strings.ContainsRune(name, ';') {
		return name
	}
	return strings.ReplaceAll(name, ";", `\;`)
}
