//go:build linux

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package remotememory

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyErrno(t *testing.T) {
	assert.ErrorIs(t, classifyErrno(syscall.ESRCH), ErrNoSuchProcess)
	assert.ErrorIs(t, classifyErrno(syscall.EPERM), ErrPermissionDenied)
	assert.ErrorIs(t, classifyErrno(syscall.EFAULT), ErrMemoryFault)
	assert.ErrorIs(t, classifyErrno(syscall.EIO), ErrMemoryFault)

	other := errors.New("boom")
	assert.Equal(t, other, classifyErrno(other))
}
