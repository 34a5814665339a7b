// Package httpprober implements the liveness probe over HTTP.
package httpprober

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

var _ out.Prober = (*Prober)(nil)

// DefaultTimeout is the per-probe deadline. A probe that exceeds it counts
// as a failure, never as a hang.
const DefaultTimeout = 5 * time.Second

// Body reads are capped so a misbehaving backend cannot balloon the probe.
const maxBodyBytes = 64 << 10

// Prober implements the out.Prober interface against an HTTP health endpoint.
type Prober struct {
	client  *http.Client
	timeout time.Duration
}

// Option configures the Prober.
type Option func(*Prober)

// WithTimeout sets the probe timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Prober) {
		p.timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Prober) {
		p.client = client
	}
}

// New creates a new HTTP prober.
func New(opts ...Option) *Prober {
	p := &Prober{
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		p.client = &http.Client{
			Timeout: p.timeout,
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
			// Don't follow redirects - we want to see the actual response
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return p
}

// Probe sends one GET to the target health URL and classifies the result.
// The returned record is always usable: transport and timeout failures come
// back as a broken record plus the wrapped error.
func (p *Prober) Probe(ctx context.Context, target string) (domain.HealthRecord, error) {
	rec := domain.HealthRecord{
		Timestamp: time.Now(),
		Readiness: domain.ReadinessBroken,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		rec.Detail = err.Error()
		return rec, fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("User-Agent", "aiastra-probe/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		rec.Detail = err.Error()
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return rec, fmt.Errorf("%w: %s", domain.ErrProbeTimeout, target)
		}
		return rec, fmt.Errorf("%w: %v", domain.ErrProbeFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		rec.Detail = err.Error()
		return rec, fmt.Errorf("%w: reading body: %v", domain.ErrProbeFailure, err)
	}

	var payload *domain.HealthPayload
	var parsed domain.HealthPayload
	if err := json.Unmarshal(body, &parsed); err == nil {
		payload = &parsed
		rec.Detail = parsed.Status
	} else {
		rec.Detail = fmt.Sprintf("unparseable body (status %d)", resp.StatusCode)
	}

	rec.Success = true
	rec.Readiness = domain.ClassifyHealth(resp.StatusCode, payload)
	return rec, nil
}
