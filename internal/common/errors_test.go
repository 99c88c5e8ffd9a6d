package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"disk full", &os.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC}, ErrDiskFull},
		{"permission", &os.PathError{Op: "open", Path: "/x", Err: os.ErrPermission}, ErrPermissionDenied},
		{"conn reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, ErrTransientNetwork},
		{"unexpected eof", fmt.Errorf("copy: %w", io.ErrUnexpectedEOF), ErrTransientNetwork},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.invalid"}, ErrTransientNetwork},
		{"deadline", context.DeadlineExceeded, ErrTransientNetwork},
		{"already classified", fmt.Errorf("x: %w", ErrLocatorExpired), ErrLocatorExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.in)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.in)
		})
	}
}

func TestClassify_UnknownPassesThrough(t *testing.T) {
	in := errors.New("boom")
	assert.Equal(t, in, Classify(in))
	assert.Nil(t, Classify(nil))
}

func TestFatalHierarchy(t *testing.T) {
	assert.ErrorIs(t, ErrDiskFull, ErrFatalResource)
	assert.ErrorIs(t, ErrPermissionDenied, ErrFatalResource)
	assert.True(t, IsFatal(&os.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC}))
	assert.False(t, IsFatal(ErrTransientNetwork))
	assert.True(t, IsTransient(&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}))
	assert.False(t, IsTransient(ErrIntegrity))
	assert.False(t, IsTransient(context.Canceled))
}
