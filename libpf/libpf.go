// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf

// AddressOrLineno represents a line number in an interpreted file or an offset into
// a native file.
type AddressOrLineno uint64

// SourceLineno represents a line number within a source file.
type SourceLineno uint64

// Void allows to use maps as sets without memory allocation for the values.
type Void struct{}
