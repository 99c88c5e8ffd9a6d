// Package netx holds network helpers: the reachability probe used to flip the
// client between online and offline mode.
package netx

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Prober checks that the content origin answers HTTP at all. Any status
// code counts as reachable; only transport failures mean offline.
type Prober struct {
	url    string
	client *http.Client
}

func NewProber(url string, timeout time.Duration) *Prober {
	return &Prober{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Probe returns nil when the origin is reachable. An empty URL is always
// reachable, which keeps local-only setups online.
func (p *Prober) Probe(ctx context.Context) error {
	if p.url == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}
	resp.Body.Close()
	return nil
}
