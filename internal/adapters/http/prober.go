package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bft-labs/fieldsync/internal/ports"
)

const (
	pingEndpoint     = "/v1/ping"
	downloadEndpoint = "/v1/probe/download"

	// DefaultProbeBytes is the size of the throughput probe transfer.
	DefaultProbeBytes = 256 * 1024
)

// Prober implements ports.Prober against the backend's probe endpoints.
type Prober struct {
	client     ports.HTTPClient
	serviceURL string
	probeBytes int
	now        func() time.Time
}

// NewProber creates a Prober. probeBytes <= 0 uses DefaultProbeBytes.
func NewProber(client ports.HTTPClient, serviceURL string, probeBytes int) *Prober {
	if probeBytes <= 0 {
		probeBytes = DefaultProbeBytes
	}
	return &Prober{
		client:     client,
		serviceURL: serviceURL,
		probeBytes: probeBytes,
		now:        time.Now,
	}
}

// Ping issues a HEAD request and returns the round trip time.
func (p *Prober) Ping(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.serviceURL+pingEndpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	start := p.now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ping: %w", err)
	}
	elapsed := p.now().Sub(start)
	resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("ping: server returned %d", resp.StatusCode)
	}
	return elapsed, nil
}

// Download fetches the probe payload and returns its size and transfer time.
func (p *Prober) Download(ctx context.Context) (int64, time.Duration, error) {
	target := fmt.Sprintf("%s%s?bytes=%d", p.serviceURL, downloadEndpoint, p.probeBytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("create request: %w", err)
	}

	start := p.now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("download probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return 0, 0, fmt.Errorf("download probe: server returned %d", resp.StatusCode)
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return n, 0, fmt.Errorf("download probe: %w", err)
	}
	return n, p.now().Sub(start), nil
}
