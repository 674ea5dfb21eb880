package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/deviceca/internal/api"
	"github.com/edvin/deviceca/internal/ca"
	"github.com/edvin/deviceca/internal/catool"
	"github.com/edvin/deviceca/internal/config"
	"github.com/edvin/deviceca/internal/core"
	"github.com/edvin/deviceca/internal/logging"
	"github.com/edvin/deviceca/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the device certificate server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, true)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServeFlags(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("bind", "b", "", "IP address to bind to")
	cmd.Flags().IntP("port", "p", 0, "TCP port to listen on")
	cmd.Flags().Bool("ssl", false, "Serve HTTPS")
	cmd.Flags().String("cert", "", "Path to the TLS certificate, required with --ssl")
	cmd.Flags().String("cert-key", "", "Path to the TLS key, required with --ssl")
	cmd.Flags().String("cert-ca", "", "Path to a TLS CA cert chain")
	cmd.Flags().String("config-store", "", "Directory that stores device definitions")
	cmd.Flags().String("certificate-store", "", "Directory that stores device certificates")
}

func newEngine(cfg *config.Config, logger zerolog.Logger) *ca.Engine {
	opts := []catool.Option{catool.WithTimeout(cfg.OpenSSL.Timeout)}
	if cfg.OpenSSL.TempDir != "" {
		opts = append(opts, catool.WithTempDir(cfg.OpenSSL.TempDir))
	}
	runner := catool.NewExecRunner(cfg.OpenSSL.Bin, logger, opts...)
	logger.Debug().Str("bin", runner.Binary()).Dur("timeout", cfg.OpenSSL.Timeout).Msg("configured CA tool")
	return ca.NewEngine(runner, cfg.OpenSSL.CA(), logger)
}

// listener is an HTTP server run by runServers.
type listener struct {
	name string
	srv  *http.Server
	tls  bool
}

func serve(cfg *config.Config) error {
	logger := logging.NewLogger(cfg)

	devices, err := core.LoadDeviceRegistry(cfg.ConfigStore)
	if err != nil {
		return err
	}
	logger.Info().Int("devices", devices.Len()).Str("config_store", cfg.ConfigStore).Msg("loaded device registry")
	logger.Debug().Strs("device_ids", devices.IDs()).Msg("registered devices")

	if cfg.OpenSSL.ConfigFile == "" {
		logger.Warn().Msg("no OpenSSL config file set, CRL and signing are unavailable")
	}
	if cfg.CertificateStore == "" {
		logger.Warn().Msg("no certificate store set, certificate routes are disabled")
	}

	engine := newEngine(cfg, logger)

	var crlPath string
	if cfg.OpenSSL.ConfigFile != "" {
		crlPath = engine.Config().CRLPath()
	}
	metrics.RegisterCAMetrics(prometheus.DefaultRegisterer, devices.Len, crlPath)

	tlsConfig, err := cfg.ServerTLS()
	if err != nil {
		return fmt.Errorf("configure TLS: %w", err)
	}

	srv := api.NewServer(logger, cfg, devices, engine)

	listeners := []listener{{
		name: "device CA",
		srv: &http.Server{
			Addr:              cfg.ListenAddr(),
			Handler:           srv,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Signing spawns several CA processes.
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		tls: tlsConfig != nil,
	}}
	if cfg.MetricsListenAddr != "" {
		listeners = append(listeners, listener{name: "metrics", srv: metrics.NewServer(cfg.MetricsListenAddr)})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runServers(ctx, logger, listeners...)
}

// runServers serves every listener until ctx ends or one of them fails, then
// shuts all of them down.
func runServers(ctx context.Context, logger zerolog.Logger, listeners ...listener) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, l := range listeners {
		g.Go(func() error {
			logger.Info().Str("server", l.name).Str("addr", l.srv.Addr).Bool("tls", l.tls).Msg("starting server")

			var err error
			if l.tls {
				err = l.srv.ListenAndServeTLS("", "")
			} else {
				err = l.srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server failed: %w", l.name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		for _, l := range listeners {
			if err := l.srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("%s server shutdown failed: %w", l.name, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
