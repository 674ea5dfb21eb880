package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edvin/deviceca/internal/logging"
)

var crlCmd = &cobra.Command{
	Use:   "crl",
	Short: "Regenerate the CRL and exit",
	Long: `Regenerates the certificate revocation list from the CA database. Run it
periodically so the CRL never passes its next update time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, false)
		if err != nil {
			return err
		}
		logger := logging.NewLogger(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine := newEngine(cfg, logger)
		if err := engine.GenerateCRL(ctx); err != nil {
			return err
		}
		logger.Info().Str("path", engine.Config().CRLPath()).Msg("CRL regenerated")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(crlCmd)
}
