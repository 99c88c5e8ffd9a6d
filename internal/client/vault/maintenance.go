package vault

import (
	"context"
	"time"
)

// Maintenance runs Sweep in the background: when the client is idle, and in
// any case at least once per Interval.
type Maintenance struct {
	vault    *Vault
	interval time.Duration
	idle     func() bool

	lastRun time.Time
}

// NewMaintenance returns a runner for v. idle may be nil, meaning the sweep
// only runs when the interval elapses.
func NewMaintenance(v *Vault, interval time.Duration, idle func() bool) *Maintenance {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Maintenance{vault: v, interval: interval, idle: idle}
}

// checkEvery is how often the loop looks at the idle signal.
func (m *Maintenance) checkEvery() time.Duration {
	d := m.interval / 6
	if d < time.Second {
		d = time.Second
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// due reports whether a sweep should run now. An idle client gets swept
// once a quarter of the interval has passed; a busy one only when the full
// interval is up.
func (m *Maintenance) due(now time.Time) bool {
	since := now.Sub(m.lastRun)
	if since >= m.interval {
		return true
	}
	return m.idle != nil && m.idle() && since >= m.interval/4
}

func (m *Maintenance) runOnce(ctx context.Context) {
	m.lastRun = m.vault.now()
	if _, err := m.vault.Sweep(ctx); err != nil && ctx.Err() == nil {
		m.vault.logger.Error(ctx, "maintenance sweep failed", "err", err)
	}
}

// Run blocks until ctx is done. The first sweep runs right away.
func (m *Maintenance) Run(ctx context.Context) error {
	m.vault.logger.Info(ctx, "maintenance started", "interval", m.interval)
	m.runOnce(ctx)

	ticker := time.NewTicker(m.checkEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.vault.logger.Info(context.Background(), "maintenance stopped")
			return nil
		case <-ticker.C:
			if m.due(m.vault.now()) {
				m.runOnce(ctx)
			}
		}
	}
}
