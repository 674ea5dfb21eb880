package api

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/deviceca/internal/api/handler"
	mw "github.com/edvin/deviceca/internal/api/middleware"
	"github.com/edvin/deviceca/internal/config"
	"github.com/edvin/deviceca/internal/core"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	cfg      *config.Config
}

// NewServer wires the HTTP routes. signer may be nil when no CA is configured,
// in which case certificate requests fail with 500.
func NewServer(logger zerolog.Logger, cfg *config.Config, devices *core.DeviceRegistry, signer core.Signer, opts ...mw.HMACOption) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: core.NewServices(devices, signer, cfg.CertificateStore),
		cfg:      cfg,
	}

	s.setupMiddleware()
	s.setupRoutes(opts)

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes(hmacOpts []mw.HMACOption) {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	// CRL is served without device authentication.
	if s.cfg.OpenSSL.ConfigFile != "" {
		crl := handler.NewCRL(s.cfg.OpenSSL.CA().CRLPath())
		s.router.Get("/certificates/crl.pem", crl.Get)
	}

	s.router.Group(func(r chi.Router) {
		r.Use(mw.HMAC(s.services.Devices, hmacOpts...))

		if s.cfg.CertificateStore != "" {
			certificate := handler.NewCertificate(s.services.Devices, s.services.Certificate)
			r.Post("/certificates/request", certificate.Request)
			r.Get("/certificate", certificate.Current)
		}
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]string{}
	healthy := true

	check := func(name, path string, wantDir bool) {
		if path == "" {
			return
		}
		info, err := os.Stat(path)
		switch {
		case err != nil:
			checks[name] = err.Error()
			healthy = false
		case info.IsDir() != wantDir:
			checks[name] = "unexpected file type"
			healthy = false
		default:
			checks[name] = "ok"
		}
	}

	check("ca_config", s.cfg.OpenSSL.ConfigFile, false)
	check("ca_password", s.cfg.OpenSSL.PasswordFile, false)
	check("certificate_store", s.cfg.CertificateStore, true)

	status, state := http.StatusOK, "ok"
	if !healthy {
		status, state = http.StatusServiceUnavailable, "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"status": state, "checks": checks})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
