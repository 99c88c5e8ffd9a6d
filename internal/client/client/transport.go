package client

import (
	"context"
	"io"
)

// Body is a fetched byte stream. Offset is where the origin actually
// started: it equals the requested start when a range was honoured and is
// zero when the origin ignored the range and sent everything.
type Body struct {
	io.ReadCloser
	Offset int64
	// Total is the full size of the remote object, or -1 when unknown.
	Total int64
}

// LocatorRefresher exchanges expired locators for fresh ones.
type LocatorRefresher interface {
	// RefreshLocators returns new locators keyed by artifact id. Ids the
	// origin no longer knows are absent from the result.
	RefreshLocators(ctx context.Context, courseID string, ids []string) (map[string]string, error)
}

// Transport is everything the fetch scheduler needs from the network.
type Transport interface {
	LocatorRefresher
	FetchRange(ctx context.Context, locator string, start int64) (*Body, error)
}
