package edge

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyPassesBackendResponseThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/predict", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Forwarded-For"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer backend.Close()

	targetURL, err := url.Parse(backend.URL)
	require.NoError(t, err)

	gate := newBackendGate(newReverseProxy(targetURL, zerowrap.Default()), targetURL.Host, 2, nil, zerowrap.Default())

	req := httptest.NewRequest(http.MethodPost, "https://api.example.com/v1/predict", strings.NewReader(`{"input":1}`))
	rr := httptest.NewRecorder()
	gate.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.Equal(t, `{"result":"ok"}`, string(body))
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestDeadBackendReturnsGenericGatewayError(t *testing.T) {
	// Reserve a port and close it so nothing listens there.
	ln := httptest.NewServer(http.NotFoundHandler())
	deadAddr := ln.Listener.Addr().String()
	ln.Close()

	targetURL := &url.URL{Scheme: "http", Host: deadAddr}
	gate := newBackendGate(newReverseProxy(targetURL, zerowrap.Default()), deadAddr, 2, nil, zerowrap.Default())
	gate.retryGap = 5 * time.Millisecond

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/health", nil)
	rr := httptest.NewRecorder()

	start := time.Now()
	gate.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.Equal(t, "Bad Gateway", strings.TrimSpace(string(body)), "client gets no backend diagnostics")
	assert.Less(t, time.Since(start), 10*time.Second, "retries are bounded")
}

func TestProxyErrorHandlerHidesBackendDetails(t *testing.T) {
	// A live listener that drops the connection mid-request forces the
	// proxy's ErrorHandler rather than the dial gate.
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
	defer backend.Close()

	targetURL, err := url.Parse(backend.URL)
	require.NoError(t, err)

	gate := newBackendGate(newReverseProxy(targetURL, zerowrap.Default()), targetURL.Host, 2, nil, zerowrap.Default())

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/v1/predict", nil)
	rr := httptest.NewRecorder()
	gate.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.Equal(t, "Bad Gateway", strings.TrimSpace(string(body)))
}

func TestRedirectHandlerBouncesToTLS(t *testing.T) {
	handler := redirectHandler("api.example.com", nil)

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/v1/predict?x=1", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusMovedPermanently, rr.Code)
	assert.Equal(t, "https://api.example.com/v1/predict?x=1", rr.Header().Get("Location"))
}

func TestRedirectHandlerForwardsChallengeToSolver(t *testing.T) {
	solver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/acme-challenge/tok123", r.URL.Path)
		_, _ = w.Write([]byte("tok123.auth"))
	}))
	defer solver.Close()

	solverURL, err := url.Parse(solver.URL)
	require.NoError(t, err)
	handler := redirectHandler("api.example.com", newReverseProxy(solverURL, zerowrap.Default()))

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/.well-known/acme-challenge/tok123", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.Equal(t, "tok123.auth", string(body), "challenges reach the solver, not the TLS redirect")
}
