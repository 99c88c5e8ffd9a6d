// Package stream serves decrypted vault blobs to a local media player over
// loopback HTTP.
//
// A session binds an opaque id to one sealed blob. Streaming-layout blobs
// are decrypted window by window with a counter seek, so a range request
// touches only the ciphertext it asks for. Atomic-layout blobs are
// authenticated in full before any byte goes out.
package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/coursekeeper/internal/client/models"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/dmitrijs2005/coursekeeper/internal/cryptox"
	"github.com/dmitrijs2005/coursekeeper/internal/filex"
	"github.com/dmitrijs2005/coursekeeper/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	// ListenAddr must resolve to a loopback address.
	ListenAddr string
	SessionTTL time.Duration
	// MaxSessions bounds the session table; 0 means unbounded.
	MaxSessions int

	AtomicKey []byte
	StreamKey []byte
}

// Session is the record behind one stream URL.
type Session struct {
	ID            string
	BlobPath      string
	ContentType   string
	Layout        string
	PlaintextSize int64
	// IV is the blob header; Tag is the GCM trailer of atomic blobs.
	IV        []byte
	Tag       []byte
	CreatedAt time.Time
}

type Server struct {
	cfg      Config
	logger   logging.Logger
	sessions *expirable.LRU[string, *Session]
	router   chi.Router

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
}

func New(cfg Config, logger logging.Logger) (*Server, error) {
	if len(cfg.StreamKey) != cryptox.KeySize || len(cfg.AtomicKey) != cryptox.KeySize {
		return nil, fmt.Errorf("stream server needs %d-byte keys", cryptox.KeySize)
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "stream"),
	}
	s.sessions = expirable.NewLRU[string, *Session](cfg.MaxSessions, func(string, *Session) {
		openSessions.Dec()
	}, cfg.SessionTTL)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(s.observe, cors)
		r.Get("/stream/{sessionID}", s.handleStream)
		r.Head("/stream/{sessionID}", s.handleStream)
		r.Options("/stream/{sessionID}", handlePreflight)
	})
	// Process-wide collectors of the vault, the scheduler and this server.
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	s.router = r

	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

// Listen binds the loopback listener. It refuses any other address.
func (s *Server) Listen() error {
	host, _, err := net.SplitHostPort(s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen addr: %w", err)
	}
	if !isLoopback(host) {
		return fmt.Errorf("listen addr %q is not loopback", s.cfg.ListenAddr)
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Unlock()

	s.logger.Info(context.Background(), "stream server listening", "addr", ln.Addr().String())
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Serve answers requests until ctx is done, then shuts the listener down
// gracefully. Listen is called first when it has not been.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listening := s.listener != nil
	s.mu.Unlock()
	if !listening {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	srv, ln := s.httpSrv, s.listener
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stream server shutdown: %w", err)
	}
	s.Cleanup()
	s.logger.Info(context.Background(), "stream server stopped")
	return nil
}

// BaseURL is the origin session URLs are built on, e.g.
// "http://127.0.0.1:41234". It is empty until Listen succeeds.
func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// OpenSession registers blobPath for playback and returns its URL. Only the
// header, and for atomic blobs the trailer, is read here.
func (s *Server) OpenSession(blobPath, contentType, layout string) (string, error) {
	sess, err := readSession(blobPath, contentType, layout)
	if err != nil {
		return "", err
	}

	sess.ID = uuid.NewString()
	sess.CreatedAt = time.Now()
	s.sessions.Add(sess.ID, sess)
	openSessions.Inc()

	s.logger.Debug(context.Background(), "session opened", "session", sess.ID, "size", sess.PlaintextSize, "layout", layout)
	return s.BaseURL() + "/stream/" + sess.ID, nil
}

func readSession(blobPath, contentType, layout string) (*Session, error) {
	var l cryptox.Layout
	switch layout {
	case models.LayoutStream:
		l = cryptox.LayoutStream
	case models.LayoutAtomic:
		l = cryptox.LayoutAtomic
	default:
		return nil, fmt.Errorf("unknown blob layout %q", layout)
	}

	f, err := os.Open(blobPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", blobPath, common.ErrNotFound)
		}
		return nil, common.Classify(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, common.Classify(err)
	}
	size := l.PlaintextSize(info.Size())
	if size < 0 {
		return nil, fmt.Errorf("%w: blob %s is %d bytes", common.ErrIntegrity, blobPath, info.Size())
	}

	iv, err := cryptox.ReadStreamHeader(f)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		BlobPath:      blobPath,
		ContentType:   contentType,
		Layout:        layout,
		PlaintextSize: size,
		IV:            iv,
	}
	if l == cryptox.LayoutAtomic {
		tag := make([]byte, cryptox.TagSize)
		if _, err := f.ReadAt(tag, info.Size()-cryptox.TagSize); err != nil {
			return nil, fmt.Errorf("read blob trailer: %w", err)
		}
		sess.Tag = tag
	}
	if sess.ContentType == "" {
		sess.ContentType = "application/octet-stream"
	}
	return sess, nil
}

// Session returns the live session with id.
func (s *Server) Session(id string) (*Session, bool) {
	return s.sessions.Get(id)
}

func (s *Server) CloseSession(id string) {
	s.sessions.Remove(id)
}

// Cleanup drops every session.
func (s *Server) Cleanup() {
	s.sessions.Purge()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.sessions.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	size := sess.PlaintextSize
	w.Header().Set("Accept-Ranges", "bytes")

	window := byteRange{start: 0, end: size - 1}
	status := http.StatusOK
	if h := r.Header.Get("Range"); h != "" {
		br, err := parseRange(h, size)
		if err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		window = br
		status = http.StatusPartialContent
	}

	body, closeFn, err := s.open(r.Context(), sess, window)
	if err != nil {
		s.logger.Error(r.Context(), "open blob failed", "session", id, "err", err)
		w.Header().Set("Connection", "close")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer closeFn()

	w.Header().Set("Content-Type", sess.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(window.length(), 10))
	if status == http.StatusPartialContent {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", window.start, window.end, size))
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead || window.length() == 0 {
		return
	}

	n, err := io.Copy(w, body)
	bytesTotal.Add(float64(n))
	if err != nil && r.Context().Err() == nil {
		// Headers are gone already; the short body makes net/http drop
		// the connection.
		s.logger.Error(r.Context(), "stream copy failed", "session", id, "written", n, "err", err)
	}
}

// open returns a reader over the plaintext window of sess.
func (s *Server) open(ctx context.Context, sess *Session, window byteRange) (io.Reader, func(), error) {
	noop := func() {}
	if window.length() == 0 {
		return eofReader{}, noop, nil
	}

	if sess.Layout == models.LayoutAtomic {
		plain, err := cryptox.OpenFile(sess.BlobPath, s.cfg.AtomicKey)
		if err != nil {
			return nil, nil, err
		}
		if int64(len(plain)) != sess.PlaintextSize {
			return nil, nil, fmt.Errorf("%w: blob changed under session", common.ErrIntegrity)
		}
		return filex.ContextReader(ctx, bytes.NewReader(plain[window.start : window.end+1])), noop, nil
	}

	f, err := os.Open(sess.BlobPath)
	if err != nil {
		return nil, nil, err
	}
	rd, err := cryptox.NewRangeReader(f, s.cfg.StreamKey, sess.IV, window.start, window.end)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return filex.ContextReader(ctx, rd), func() { f.Close() }, nil
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Range")
		h.Set("Access-Control-Expose-Headers", "Range, Content-Range, Content-Length, Accept-Ranges")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		requestsTotal.WithLabelValues(sw.code()).Inc()
		s.logger.Debug(r.Context(), "stream request",
			"method", r.Method,
			"path", r.URL.Path,
			"range", r.Header.Get("Range"),
			"status", sw.code(),
			"bytes", sw.bytes,
			"duration", time.Since(start),
		)
	})
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
