package edge

import (
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/appayureze-cloud/aiastra/internal/adapters/out/telemetry"
)

// proxyTransport is a shared HTTP transport with proper timeouts.
// This prevents resource exhaustion from slow backends or network issues.
var proxyTransport = &http.Transport{
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 30 * time.Second,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
}

// newReverseProxy creates a reverse proxy using Rewrite instead of Director
// so hop-by-hop header tricks cannot strip forwarded headers. The error
// handler returns a generic gateway error; backend diagnostics stay in the
// logs and never reach the client.
func newReverseProxy(targetURL *url.URL, log zerowrap.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(targetURL)
			pr.SetXForwarded()
			pr.Out.Host = targetURL.Host
		},
		Transport: proxyTransport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error().
				Err(err).
				Str("target", targetURL.String()).
				Str(zerowrap.FieldPath, r.URL.Path).
				Msg("proxy error: backend request failed")
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		},
	}
}

// backendGate fronts the proxy with a bounded dial check: a dead backend
// gets retried a fixed number of times and then the client sees a generic
// gateway error, never an unbounded hang.
type backendGate struct {
	proxy    http.Handler
	addr     string
	attempts int
	retryGap time.Duration
	metrics  *telemetry.Metrics
	log      zerowrap.Logger
}

func newBackendGate(proxy http.Handler, addr string, attempts int, metrics *telemetry.Metrics, log zerowrap.Logger) *backendGate {
	if attempts <= 0 {
		attempts = 2
	}
	return &backendGate{
		proxy:    proxy,
		addr:     addr,
		attempts: attempts,
		retryGap: 250 * time.Millisecond,
		metrics:  metrics,
		log:      log,
	}
}

func (g *backendGate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for attempt := 1; ; attempt++ {
		conn, err := net.DialTimeout("tcp", g.addr, 2*time.Second)
		if err == nil {
			_ = conn.Close()
			break
		}

		if attempt >= g.attempts {
			g.log.Error().
				Err(err).
				Str("backend", g.addr).
				Int("attempts", attempt).
				Msg("backend unreachable")
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
			return
		}

		if g.metrics != nil {
			g.metrics.ProxyRetries.Add(r.Context(), 1)
		}
		select {
		case <-r.Context().Done():
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
			return
		case <-time.After(g.retryGap):
		}
	}

	g.proxy.ServeHTTP(w, r)
}
