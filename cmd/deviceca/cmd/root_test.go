package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServeCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "serve"}
	addServeFlags(c)
	require.NoError(t, c.ParseFlags(args))
	return c
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	configPath = writeConfig(t, `
config_store: devices
webserver:
  port: 4000
`)
	t.Cleanup(func() { configPath = "" })

	c := newTestServeCmd(t,
		"--port", "8443",
		"-b", "127.0.0.1",
		"--ssl",
		"--cert", "tls/server.pem",
		"--cert-key", "tls/server.key",
		"--certificate-store", "/var/lib/deviceca/certs",
	)

	cfg, err := loadConfig(c, true)
	require.NoError(t, err)

	dir := filepath.Dir(configPath)
	assert.Equal(t, 8443, cfg.Webserver.Port)
	assert.Equal(t, "127.0.0.1", cfg.Webserver.Bind)
	assert.Equal(t, "https", cfg.Webserver.Protocol)
	assert.Equal(t, filepath.Join(dir, "tls/server.pem"), cfg.Webserver.SSLCertPath)
	assert.Equal(t, filepath.Join(dir, "tls/server.key"), cfg.Webserver.SSLKeyPath)
	assert.Equal(t, filepath.Join(dir, "devices"), cfg.ConfigStore)
	assert.Equal(t, "/var/lib/deviceca/certs", cfg.CertificateStore)
}

func TestLoadConfig_UnchangedFlagsKeepFileValues(t *testing.T) {
	configPath = writeConfig(t, `
config_store: /etc/deviceca
webserver:
  protocol: https
  port: 4000
  ssl_cert_path: /tls/cert.pem
  ssl_key_path: /tls/key.pem
`)
	t.Cleanup(func() { configPath = "" })

	cfg, err := loadConfig(newTestServeCmd(t), true)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Webserver.Port)
	assert.Equal(t, "https", cfg.Webserver.Protocol)
	assert.Equal(t, "0.0.0.0", cfg.Webserver.Bind)
}

func TestLoadConfig_SSLFalse(t *testing.T) {
	configPath = writeConfig(t, `
config_store: /etc/deviceca
webserver:
  protocol: https
`)
	t.Cleanup(func() { configPath = "" })

	cfg, err := loadConfig(newTestServeCmd(t, "--ssl=false"), true)
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Webserver.Protocol)
}

func TestLoadConfig_Invalid(t *testing.T) {
	configPath = writeConfig(t, "webserver:\n  port: 4000\n")
	t.Cleanup(func() { configPath = "" })

	_, err := loadConfig(newTestServeCmd(t), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config_store")

	// The crl command does not need a device registry.
	_, err = loadConfig(&cobra.Command{Use: "crl"}, false)
	assert.NoError(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "nope.yaml")
	t.Cleanup(func() { configPath = "" })

	_, err := loadConfig(newTestServeCmd(t), false)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, Version+"\n", out.String())
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["crl"])
	assert.True(t, names["version"])
}
