package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edvin/deviceca/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "deviceca",
	Short: "deviceca issues certificates to HMAC-authenticated devices",
	Long: `A certificate authority front-end for provisioned devices. Devices sign their
requests with a shared secret and receive certificates issued by an OpenSSL CA.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
}

// loadConfig reads the config file and applies flag overrides on top of it.
// Paths given as flags are resolved like paths in the file.
func loadConfig(cmd *cobra.Command, validate bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	cfg.ResolvePaths()

	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	set := func(name string, dst *string) error {
		if !flags.Changed(name) {
			return nil
		}
		v, err := flags.GetString(name)
		if err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
		*dst = v
		return nil
	}

	for name, dst := range map[string]*string{
		"bind":              &cfg.Webserver.Bind,
		"cert":              &cfg.Webserver.SSLCertPath,
		"cert-key":          &cfg.Webserver.SSLKeyPath,
		"cert-ca":           &cfg.Webserver.CACertPath,
		"config-store":      &cfg.ConfigStore,
		"certificate-store": &cfg.CertificateStore,
	} {
		if flags.Lookup(name) == nil {
			continue
		}
		if err := set(name, dst); err != nil {
			return err
		}
	}

	if flags.Lookup("port") != nil && flags.Changed("port") {
		port, err := flags.GetInt("port")
		if err != nil {
			return fmt.Errorf("flag --port: %w", err)
		}
		cfg.Webserver.Port = port
	}
	if flags.Lookup("ssl") != nil && flags.Changed("ssl") {
		ssl, err := flags.GetBool("ssl")
		if err != nil {
			return fmt.Errorf("flag --ssl: %w", err)
		}
		cfg.Webserver.Protocol = "http"
		if ssl {
			cfg.Webserver.Protocol = "https"
		}
	}
	return nil
}
