package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/common"
)

const userAgent = "coursekeeper/1.0"

// HTTPTransport fetches locators with plain HTTP range requests.
type HTTPTransport struct {
	client    *http.Client
	refresher LocatorRefresher
}

// NewHTTPClient builds a client tuned for long transfers: no overall
// timeout, bounded dial and header waits, keep-alive reuse.
func NewHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
	return &http.Client{Transport: transport}
}

// NewHTTPTransport returns a transport over client. refresher may be nil,
// in which case expired locators cannot be renewed.
func NewHTTPTransport(client *http.Client, refresher LocatorRefresher) *HTTPTransport {
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}
	return &HTTPTransport{client: client, refresher: refresher}
}

func (t *HTTPTransport) FetchRange(ctx context.Context, locator string, start int64) (*Body, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if start > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, common.Classify(err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &Body{ReadCloser: resp.Body, Offset: 0, Total: resp.ContentLength}, nil

	case http.StatusPartialContent:
		offset, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok {
			offset, total = start, -1
		}
		return &Body{ReadCloser: resp.Body, Offset: offset, Total: total}, nil

	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file already holds everything the origin has.
		resp.Body.Close()
		_, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if start > 0 && ok && total == start {
			return &Body{ReadCloser: io.NopCloser(strings.NewReader("")), Offset: start, Total: total}, nil
		}
		return nil, fmt.Errorf("%w: range %d- not satisfiable", common.ErrIntegrity, start)
	}

	resp.Body.Close()
	return nil, mapStatus(resp.StatusCode)
}

func (t *HTTPTransport) RefreshLocators(ctx context.Context, courseID string, ids []string) (map[string]string, error) {
	if t.refresher == nil {
		return nil, fmt.Errorf("%w: no locator refresher configured", common.ErrUnauthorized)
	}
	return t.refresher.RefreshLocators(ctx, courseID, ids)
}

func mapStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: status %d", common.ErrLocatorExpired, code)
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", common.ErrUnauthorized, code)
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: status %d", common.ErrNotFound, code)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d", common.ErrTransientNetwork, code)
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}

// parseContentRange reads "bytes a-b/total" and "bytes */total".
func parseContentRange(v string) (offset, total int64, ok bool) {
	v, found := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !found {
		return 0, 0, false
	}
	rng, size, found := strings.Cut(v, "/")
	if !found {
		return 0, 0, false
	}

	total = -1
	if size != "*" {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		total = n
	}

	if rng == "*" {
		return 0, total, true
	}
	first, _, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, false
	}
	offset, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return offset, total, true
}
