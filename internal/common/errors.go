// Package common defines the error taxonomy and small helpers shared by the
// coursekeeper client packages. Callers should use errors.Is to match the
// sentinel values.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"syscall"
)

var (
	// Lookup errors.
	ErrNotFound = errors.New("not found")

	// Transport errors.
	ErrTransientNetwork = errors.New("transient network error")
	ErrLocatorExpired   = errors.New("locator expired")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrOffline          = errors.New("offline")

	// Content errors.
	ErrIntegrity = errors.New("integrity check failed")

	// Resource errors. ErrDiskFull and ErrPermissionDenied both match
	// ErrFatalResource.
	ErrFatalResource    = errors.New("fatal resource error")
	ErrDiskFull         = fmt.Errorf("disk full: %w", ErrFatalResource)
	ErrPermissionDenied = fmt.Errorf("permission denied: %w", ErrFatalResource)

	// Vault errors.
	ErrCapacity = errors.New("capacity exceeded")

	// Scheduler errors.
	ErrTaskExists     = errors.New("task already exists")
	ErrAlreadyPresent = errors.New("course already present locally")
	ErrInvalidState   = errors.New("invalid task state")
)

// Classify maps low-level OS and network errors onto the taxonomy above.
// Errors that already carry a taxonomy sentinel are returned unchanged, and
// unknown errors are returned as-is.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	for _, known := range []error{
		ErrNotFound, ErrTransientNetwork, ErrLocatorExpired, ErrUnauthorized,
		ErrOffline, ErrIntegrity, ErrFatalResource, ErrCapacity,
	} {
		if errors.Is(err, known) {
			return err
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return fmt.Errorf("%w: %w", ErrDiskFull, err)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTransientNetwork, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %w", ErrTransientNetwork, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrTransientNetwork, err)
	}

	return err
}

// IsFatal reports whether err must abort the owning task.
func IsFatal(err error) bool {
	return errors.Is(Classify(err), ErrFatalResource)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(Classify(err), ErrTransientNetwork)
}
