package vault

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	vaultBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ck_vault_bytes",
		Help: "Bytes currently held by the vault",
	})

	vaultPutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ck_vault_puts_total",
		Help: "Artifacts stored in the vault",
	})

	vaultEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ck_vault_evictions_total",
		Help: "Artifacts evicted to make room for new ones",
	})

	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ck_vault_sweep_runs_total",
		Help: "Maintenance sweeps run",
	})

	sweepRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ck_vault_sweep_removed_total",
		Help: "Items removed by maintenance sweeps",
	}, []string{"reason"})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ck_vault_sweep_duration_seconds",
		Help:    "Duration of maintenance sweeps",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)
