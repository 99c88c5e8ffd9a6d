package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = "0123456789abcdefghij"

// rangeServer honours "bytes=N-" like a real origin.
func rangeServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if rng == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			_, _ = io.WriteString(w, payload)
			return
		}
		start, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
		require.NoError(t, err)
		if start >= len(payload) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(payload)))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(payload)-1, len(payload)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.WriteString(w, payload[start:])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readAll(t *testing.T, b *Body) string {
	t.Helper()
	defer b.Close()
	data, err := io.ReadAll(b)
	require.NoError(t, err)
	return string(data)
}

func TestFetchRange_Full(t *testing.T) {
	srv := rangeServer(t)
	tr := NewHTTPTransport(srv.Client(), nil)

	b, err := tr.FetchRange(context.Background(), srv.URL, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Offset)
	assert.Equal(t, int64(len(payload)), b.Total)
	assert.Equal(t, payload, readAll(t, b))
}

func TestFetchRange_Resume(t *testing.T) {
	srv := rangeServer(t)
	tr := NewHTTPTransport(srv.Client(), nil)

	b, err := tr.FetchRange(context.Background(), srv.URL, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.Offset)
	assert.Equal(t, int64(len(payload)), b.Total)
	assert.Equal(t, payload[7:], readAll(t, b))
}

func TestFetchRange_AlreadyComplete(t *testing.T) {
	srv := rangeServer(t)
	tr := NewHTTPTransport(srv.Client(), nil)

	b, err := tr.FetchRange(context.Background(), srv.URL, int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), b.Offset)
	assert.Empty(t, readAll(t, b))
}

func TestFetchRange_RangeIgnoredRestartsAtZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, payload)
	}))
	defer srv.Close()
	tr := NewHTTPTransport(srv.Client(), nil)

	b, err := tr.FetchRange(context.Background(), srv.URL, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Offset)
	assert.Equal(t, payload, readAll(t, b))
}

func TestFetchRange_StatusMapping(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, common.ErrLocatorExpired},
		{http.StatusForbidden, common.ErrUnauthorized},
		{http.StatusNotFound, common.ErrNotFound},
		{http.StatusRequestTimeout, common.ErrTransientNetwork},
		{http.StatusTooManyRequests, common.ErrTransientNetwork},
		{http.StatusBadGateway, common.ErrTransientNetwork},
		{http.StatusServiceUnavailable, common.ErrTransientNetwork},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			_, err := NewHTTPTransport(srv.Client(), nil).FetchRange(context.Background(), srv.URL, 0)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchRange_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	_, err := NewHTTPTransport(srv.Client(), nil).FetchRange(context.Background(), srv.URL, 0)
	require.Error(t, err)
	assert.False(t, common.IsTransient(err))
	assert.Contains(t, err.Error(), "418")
}

func TestFetchRange_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPTransport(nil, nil).FetchRange(context.Background(), url, 0)
	require.ErrorIs(t, err, common.ErrTransientNetwork)
}

func TestFetchRange_Cancelled(t *testing.T) {
	srv := rangeServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPTransport(srv.Client(), nil).FetchRange(ctx, srv.URL, 0)
	require.ErrorIs(t, err, context.Canceled)
}

type stubRefresher struct {
	course string
	ids    []string
	err    error
}

func (s *stubRefresher) RefreshLocators(_ context.Context, courseID string, ids []string) (map[string]string, error) {
	s.course, s.ids = courseID, ids
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]string{}
	for _, id := range ids {
		out[id] = "https://cdn/" + id
	}
	return out, nil
}

func TestRefreshLocators_Delegates(t *testing.T) {
	ref := &stubRefresher{}
	tr := NewHTTPTransport(nil, ref)

	got, err := tr.RefreshLocators(context.Background(), "c1", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "https://cdn/a", "b": "https://cdn/b"}, got)
	assert.Equal(t, "c1", ref.course)

	ref.err = errors.New("boom")
	_, err = tr.RefreshLocators(context.Background(), "c1", []string{"a"})
	require.EqualError(t, err, "boom")
}

func TestRefreshLocators_NoRefresher(t *testing.T) {
	_, err := NewHTTPTransport(nil, nil).RefreshLocators(context.Background(), "c1", []string{"a"})
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		in            string
		offset, total int64
		ok            bool
	}{
		{"bytes 5-9/10", 5, 10, true},
		{"bytes 0-0/*", 0, -1, true},
		{"bytes */42", 0, 42, true},
		{"bytes x-9/10", 0, 0, false},
		{"items 0-1/2", 0, 0, false},
		{"bytes 0-1", 0, 0, false},
		{"bytes 0-1/abc", 0, 0, false},
	}
	for _, tt := range tests {
		off, total, ok := parseContentRange(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.offset, off, tt.in)
			assert.Equal(t, tt.total, total, tt.in)
		}
	}
}
