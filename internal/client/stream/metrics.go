package stream

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ck_stream_requests_total",
		Help: "Stream requests by response status",
	}, []string{"code"})

	bytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ck_stream_bytes_total",
		Help: "Plaintext bytes served to players",
	})

	openSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ck_stream_sessions",
		Help: "Live stream sessions",
	})
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) code() string {
	if w.status == 0 {
		return strconv.Itoa(http.StatusOK)
	}
	return strconv.Itoa(w.status)
}
