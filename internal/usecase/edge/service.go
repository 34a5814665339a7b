// Package edge implements the TLS-terminating front door: one public
// domain, one backend port, certificates renewed in place.
package edge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/appayureze-cloud/aiastra/internal/adapters/out/telemetry"
	"github.com/appayureze-cloud/aiastra/internal/boundaries/in"
	"github.com/appayureze-cloud/aiastra/internal/boundaries/out"
	"github.com/appayureze-cloud/aiastra/internal/domain"
)

var _ in.EdgeService = (*Service)(nil)

// Config holds edge terminator configuration.
type Config struct {
	Domain        string        `mapstructure:"domain"`
	ListenAddr    string        `mapstructure:"listen_addr"`
	RedirectAddr  string        `mapstructure:"redirect_addr"` // plaintext listener, empty disables it
	BackendPort   int           `mapstructure:"backend_port"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RenewalWindow time.Duration `mapstructure:"renewal_window"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = ":443"
	}
	if c.BackendPort == 0 {
		c.BackendPort = 8000
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 2
	}
	if c.RenewalWindow <= 0 {
		c.RenewalWindow = 30 * 24 * time.Hour
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 24 * time.Hour
	}
	return c
}

// Service implements the EdgeService interface.
type Service struct {
	cfg     Config
	store   out.CertificateStore
	issuer  out.CertificateIssuer
	bus     out.EventPublisher
	metrics *telemetry.Metrics
	log     zerowrap.Logger

	mu      sync.RWMutex
	current domain.Certificate
	keypair *tls.Certificate

	server      *http.Server
	stopCh      chan struct{}
	stopped     chan struct{}
	stopOnce    sync.Once
	loopStarted bool
}

// NewService creates the edge terminator.
func NewService(cfg Config, store out.CertificateStore, issuer out.CertificateIssuer, bus out.EventPublisher, metrics *telemetry.Metrics, log zerowrap.Logger) (*Service, error) {
	cfg = cfg.WithDefaults()
	if cfg.Domain == "" {
		return nil, fmt.Errorf("%w: edge domain is required", domain.ErrInvalidConfig)
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		issuer:  issuer,
		bus:     bus,
		metrics: metrics,
		log:     log,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Start loads (or obtains) the certificate, binds the HTTPS listener and
// serves until Stop or context cancellation. It never serves plaintext.
func (s *Service) Start(ctx context.Context) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "edge",
		"domain":              s.cfg.Domain,
	})
	log := zerowrap.FromCtx(ctx)

	if err := s.ensureCertificate(ctx); err != nil {
		return err
	}

	backendAddr := fmt.Sprintf("127.0.0.1:%d", s.cfg.BackendPort)
	targetURL := &url.URL{Scheme: "http", Host: backendAddr}
	handler := newBackendGate(newReverseProxy(targetURL, log), backendAddr, s.cfg.RetryAttempts, s.metrics, log)

	s.server = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: handler,
		TLSConfig: &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: s.getCertificate,
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.loopStarted = true
	s.mu.Unlock()
	go s.renewalLoop(ctx)

	log.Info().
		Str("listen", s.cfg.ListenAddr).
		Str("backend", backendAddr).
		Msg("edge terminator started")

	// Certificate material comes from GetCertificate; the file arguments
	// stay empty.
	err := s.server.ListenAndServeTLS("", "")
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("edge listener failed: %w", err)
	}
	return nil
}

// Stop drains and closes the listener and stops the renewal loop.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.RLock()
	started := s.loopStarted
	s.mu.RUnlock()
	if started {
		<-s.stopped
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("edge shutdown: %w", err)
	}
	return nil
}

// Certificate reports the currently served certificate.
func (s *Service) Certificate(_ context.Context) (domain.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keypair == nil {
		return domain.Certificate{}, fmt.Errorf("%w: %s", domain.ErrCertNotFound, s.cfg.Domain)
	}
	return s.current, nil
}

func (s *Service) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keypair == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCertNotFound, s.cfg.Domain)
	}
	return s.keypair, nil
}

// ensureCertificate loads the stored pair or obtains a fresh one on first
// start.
func (s *Service) ensureCertificate(ctx context.Context) error {
	log := zerowrap.FromCtx(ctx)

	cert, err := s.store.Load(ctx, s.cfg.Domain)
	if err != nil {
		if !errors.Is(err, domain.ErrCertNotFound) {
			return fmt.Errorf("failed to load certificate: %w", err)
		}
		log.Info().Msg("no stored certificate, obtaining one")
		cert, err = s.issuer.Obtain(ctx, s.cfg.Domain)
		if err != nil {
			return fmt.Errorf("failed to obtain certificate: %w", err)
		}
		if err := s.store.Save(ctx, cert); err != nil {
			return fmt.Errorf("failed to persist certificate: %w", err)
		}
		_ = s.bus.Publish(domain.EventCertObtained, domain.CertPayload{Domain: cert.Domain, NotAfter: cert.NotAfter})
	}

	return s.install(cert)
}

func (s *Service) install(cert domain.Certificate) error {
	keypair, err := tls.X509KeyPair(cert.CertPEM, cert.KeyPEM)
	if err != nil {
		return fmt.Errorf("failed to load keypair for %s: %w", cert.Domain, err)
	}

	s.mu.Lock()
	s.current = cert
	s.keypair = &keypair
	s.mu.Unlock()
	return nil
}

func (s *Service) renewalLoop(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkRenewal(ctx, time.Now())
		}
	}
}

// checkRenewal renews the certificate once inside the renewal window.
// Failures are loud but non-fatal: the unexpired certificate keeps
// serving, and the edge never falls back to plaintext.
func (s *Service) checkRenewal(ctx context.Context, now time.Time) {
	log := zerowrap.FromCtx(ctx)

	s.mu.RLock()
	cert := s.current
	s.mu.RUnlock()

	if !cert.NeedsRenewal(now, s.cfg.RenewalWindow) {
		return
	}

	renewed, err := s.issuer.Renew(ctx, cert)
	if err != nil {
		if s.metrics != nil {
			s.metrics.CertRenewalErrors.Add(ctx, 1)
		}
		_ = s.bus.Publish(domain.EventCertRenewalFailed, domain.CertPayload{
			Domain:   cert.Domain,
			NotAfter: cert.NotAfter,
			Error:    err.Error(),
		})
		days := int(time.Until(cert.NotAfter).Hours() / 24)
		log.Error().
			Err(err).
			Int("days_until_expiry", days).
			Msg("certificate renewal failed, continuing on current certificate")
		if cert.Expired(now) {
			log.Error().Msg("served certificate is past expiry and renewal keeps failing")
		}
		return
	}

	if err := s.store.Save(ctx, renewed); err != nil {
		log.Error().Err(err).Msg("failed to persist renewed certificate")
		return
	}
	if err := s.install(renewed); err != nil {
		log.Error().Err(err).Msg("failed to install renewed certificate")
		return
	}

	if s.metrics != nil {
		s.metrics.CertRenewals.Add(ctx, 1)
	}
	_ = s.bus.Publish(domain.EventCertRenewed, domain.CertPayload{Domain: renewed.Domain, NotAfter: renewed.NotAfter})
	log.Info().Time("not_after", renewed.NotAfter).Msg("certificate renewed")
}

// acmeChallengePrefix is the well-known path the CA probes during an
// HTTP-01 validation.
const acmeChallengePrefix = "/.well-known/acme-challenge/"

// redirectHandler serves plain HTTP only to bounce clients to HTTPS. ACME
// HTTP-01 challenges are forwarded to the issuer's solver instead of being
// redirected, the CA follows no redirects off port 80.
func redirectHandler(domainName string, challenge http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if challenge != nil && strings.HasPrefix(r.URL.Path, acmeChallengePrefix) {
			challenge.ServeHTTP(w, r)
			return
		}
		target := "https://" + domainName + r.URL.RequestURI()
		if !strings.HasPrefix(r.URL.Path, "/") {
			target = "https://" + domainName + "/"
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}

// RedirectServer returns an http.Server for the plaintext port that
// redirects everything to the TLS listener. When challengePort is set,
// HTTP-01 challenge requests are proxied to the solver on that port so the
// redirect listener and the issuer can share port 80.
func (s *Service) RedirectServer(addr string, challengePort int) *http.Server {
	var challenge http.Handler
	if challengePort > 0 {
		solverURL := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", challengePort)}
		challenge = newReverseProxy(solverURL, s.log)
	}
	return &http.Server{
		Addr:              addr,
		Handler:           redirectHandler(s.cfg.Domain, challenge),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
