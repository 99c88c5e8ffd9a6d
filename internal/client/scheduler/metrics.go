package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ck_scheduler_active_tasks",
		Help: "Tasks currently holding a download slot",
	})

	filesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ck_scheduler_files_total",
		Help: "Files processed by the scheduler",
	}, []string{"result"})

	bytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ck_scheduler_bytes_total",
		Help: "Bytes received from the transport",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ck_scheduler_retries_total",
		Help: "File transfer retries after transient failures",
	})

	refreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ck_scheduler_locator_refreshes_total",
		Help: "Locator refresh requests sent to the transport",
	})
)
