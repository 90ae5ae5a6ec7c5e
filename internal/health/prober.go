// Package health implements Bay's Health Prober: polling a Ship's /health
// endpoint until it answers 200 OK or a deadline passes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/shipyard/bay/internal/driver"
)

// Prober polls GET {address}/health on an interval until ready or timeout.
type Prober struct {
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
}

// New constructs a Prober with the given poll interval and overall timeout.
func New(interval, timeout time.Duration) *Prober {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Prober{
		client:   &http.Client{Timeout: interval},
		interval: interval,
		timeout:  timeout,
	}
}

// Wait polls address until it answers 200 OK, the context is cancelled, or
// the configured timeout elapses (whichever first). On non-2xx or
// connection error it sleeps the interval and retries.
func (p *Prober) Wait(ctx context.Context, address string) error {
	deadline := time.Now().Add(p.timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	url := "http://" + address + "/health"
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if p.probeOnce(ctx, url) {
			return nil
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return driver.ErrTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
