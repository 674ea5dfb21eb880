package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/edvin/deviceca/internal/ca"
)

var validate = validator.New()

type Config struct {
	// Path is the file the config was loaded from. Relative paths in the
	// config are resolved against its directory.
	Path string `yaml:"-"`

	ServiceName       string    `yaml:"service_name"`
	LogLevel          string    `yaml:"log_level"`
	MetricsListenAddr string    `yaml:"metrics_listen_addr"`
	Webserver         Webserver `yaml:"webserver"`
	// ConfigStore holds the device registry (devices.json or devices.yaml).
	ConfigStore string `yaml:"config_store"`
	// CertificateStore receives issued device certificates. Certificate
	// routes are only served when it is set.
	CertificateStore string  `yaml:"certificate_store"`
	OpenSSL          OpenSSL `yaml:"openssl"`
}

type Webserver struct {
	Protocol    string `yaml:"protocol" validate:"oneof=http https"`
	Bind        string `yaml:"bind"`
	Port        int    `yaml:"port" validate:"gte=0,lte=65535"`
	SSLCertPath string `yaml:"ssl_cert_path"`
	SSLKeyPath  string `yaml:"ssl_key_path"`
	// CACertPath is an optional chain served after the server certificate.
	CACertPath string `yaml:"ca_cert_path"`
}

type OpenSSL struct {
	Bin          string        `yaml:"bin"`
	ConfigFile   string        `yaml:"config_file"`
	PasswordFile string        `yaml:"password_file"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	// TempDir holds the CSR and extension files handed to the CA tool.
	// Empty means the system temp directory.
	TempDir string `yaml:"temp_dir"`
}

// CA returns the settings the CA engine needs.
func (o OpenSSL) CA() ca.Config {
	return ca.Config{ConfigFile: o.ConfigFile, PasswordFile: o.PasswordFile}
}

func defaults() *Config {
	return &Config{
		ServiceName: "deviceca",
		LogLevel:    "info",
		Webserver: Webserver{
			Protocol: "http",
			Bind:     "0.0.0.0",
			Port:     3000,
		},
	}
}

// Load reads the YAML (or JSON) config at path, then applies environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		cfg.Path = abs
	}

	cfg.Webserver.Protocol = getEnv("DEVICECA_PROTOCOL", cfg.Webserver.Protocol)
	cfg.Webserver.Bind = getEnv("DEVICECA_BIND", cfg.Webserver.Bind)
	port, err := getEnvInt("DEVICECA_PORT", cfg.Webserver.Port)
	if err != nil {
		return nil, err
	}
	cfg.Webserver.Port = port
	cfg.ConfigStore = getEnv("DEVICECA_CONFIG_STORE", cfg.ConfigStore)
	cfg.CertificateStore = getEnv("DEVICECA_CERTIFICATE_STORE", cfg.CertificateStore)
	cfg.OpenSSL.Bin = getEnv("OPENSSL_BIN", cfg.OpenSSL.Bin)
	cfg.OpenSSL.ConfigFile = getEnv("OPENSSL_CONFIG_FILE", cfg.OpenSSL.ConfigFile)
	cfg.OpenSSL.PasswordFile = getEnv("OPENSSL_PASSWORD_FILE", cfg.OpenSSL.PasswordFile)
	cfg.OpenSSL.TempDir = getEnv("OPENSSL_TEMP_DIR", cfg.OpenSSL.TempDir)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsListenAddr = getEnv("METRICS_LISTEN_ADDR", cfg.MetricsListenAddr)

	cfg.ResolvePaths()
	return cfg, nil
}

// ResolvePaths makes file and directory settings absolute relative to the
// directory of the config file. It is safe to call more than once.
func (c *Config) ResolvePaths() {
	base := "."
	if c.Path != "" {
		base = filepath.Dir(c.Path)
	}
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}

	resolve(&c.Webserver.SSLCertPath)
	resolve(&c.Webserver.SSLKeyPath)
	resolve(&c.Webserver.CACertPath)
	resolve(&c.ConfigStore)
	resolve(&c.CertificateStore)
	resolve(&c.OpenSSL.ConfigFile)
	resolve(&c.OpenSSL.PasswordFile)
	resolve(&c.OpenSSL.TempDir)
	// A bare binary name is looked up on PATH.
	if strings.ContainsRune(c.OpenSSL.Bin, filepath.Separator) {
		resolve(&c.OpenSSL.Bin)
	}
}

// Validate checks that the config is complete enough to serve requests.
func (c *Config) Validate() error {
	var problems []string

	if c.ConfigStore == "" {
		problems = append(problems, "config_store (DEVICECA_CONFIG_STORE) is required")
	}
	if c.Webserver.Protocol == "https" && (c.Webserver.SSLCertPath == "" || c.Webserver.SSLKeyPath == "") {
		problems = append(problems, "webserver.ssl_cert_path and webserver.ssl_key_path must both be set for https")
	}
	if err := validate.Struct(c); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ListenAddr is the host:port the web server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Webserver.Bind, strconv.Itoa(c.Webserver.Port))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
