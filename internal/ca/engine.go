// Package ca drives an OpenSSL-style CA through the command line: signing
// device CSRs, revoking superseded certificates and regenerating the CRL.
package ca

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/deviceca/internal/catool"
	"github.com/edvin/deviceca/internal/model"
)

// Engine runs CA workflows against a single CA configuration.
//
// The CA tool does no locking of its own, so the engine allows one
// ledger-touching workflow in flight at a time.
type Engine struct {
	runner catool.Runner
	cfg    Config
	logger zerolog.Logger
	sem    chan struct{}
}

// NewEngine creates an Engine. cfg is not checked here; every workflow checks
// it before running anything.
func NewEngine(runner catool.Runner, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		runner: runner,
		cfg:    cfg,
		logger: logger.With().Str("component", "ca").Logger(),
		sem:    make(chan struct{}, 1),
	}
}

// Config returns the CA configuration the engine operates on.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) lock(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) unlock() {
	<-e.sem
}

// SignRequest is a device's request for a new certificate.
type SignRequest struct {
	CSR []byte
	// Device is the authenticated device. The CSR's CN must equal its ID.
	Device model.Device
	// CertificateStore is the directory the issued certificate is written to.
	CertificateStore string
}

// CertificatePath is where the certificate for deviceID is stored.
func CertificatePath(certificateStore, deviceID string) string {
	return filepath.Join(certificateStore, deviceID+".cert.pem")
}

// Sign issues a certificate for req.Device and returns it as PEM. Every
// certificate currently valid for the device's CN is revoked first, so at
// most one valid certificate per CN remains.
func (e *Engine) Sign(ctx context.Context, req SignRequest) (cert string, err error) {
	defer func(start time.Time) { observe("sign", start, err) }(time.Now())

	if err := e.cfg.Check(); err != nil {
		return "", err
	}
	if err := e.lock(ctx); err != nil {
		return "", err
	}
	defer e.unlock()

	subject, err := e.CSRSubject(ctx, req.CSR)
	if err != nil {
		return "", err
	}
	e.logger.Debug().Str("subject", subject).Msg("parsed CSR subject")

	cn, ok := ExtractCN(subject)
	if !ok {
		return "", ErrCNNotFound
	}
	if cn != req.Device.ID {
		return "", fmt.Errorf("%w: CN %s, device %s", ErrIdentityMismatch, cn, req.Device.ID)
	}

	e.logger.Debug().Str("cn", cn).Msg("checking certificate database")
	records, err := e.certificatesForCN(ctx, cn)
	if err != nil {
		return "", err
	}
	for _, rec := range records {
		if rec.Status != model.CertificateValid {
			continue
		}
		if err := e.revoke(ctx, rec.Serial); err != nil {
			return "", fmt.Errorf("revoke superseded certificate %s: %w", rec.Serial, err)
		}
	}

	outFile := CertificatePath(req.CertificateStore, req.Device.ID)
	args := []catool.Arg{
		catool.Text("ca"),
		catool.Text("-config"), catool.Text(e.cfg.ConfigFile),
		catool.Text("-batch"),
		catool.Text("-passin"), catool.Text(e.cfg.passin()),
		catool.Text("-extensions"), catool.Text(req.Device.ExtensionSection()),
		catool.Text("-notext"),
		catool.Text("-md"), catool.Text("sha256"),
		catool.Text("-in"), catool.Binary(req.CSR),
		catool.Text("-out"), catool.Text(outFile),
	}
	if days := req.Device.ValidityDays(); days > 0 {
		args = append(args, catool.Text("-days"), catool.Text(strconv.Itoa(days)))
	}

	out, err := e.runner.Run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("sign certificate for %s: %w", req.Device.ID, err)
	}
	e.logOutput(out)

	pem, err := os.ReadFile(outFile)
	if err != nil {
		return "", fmt.Errorf("read issued certificate: %w", err)
	}
	e.logger.Info().Str("device", req.Device.ID).Msg("issued certificate")
	return string(pem), nil
}

// CSRSubject returns the CSR's subject in the slash-delimited ledger form.
func (e *Engine) CSRSubject(ctx context.Context, csr []byte) (string, error) {
	out, err := e.runner.Run(ctx,
		catool.Text("req"), catool.Text("-noout"), catool.Text("-subject"),
		catool.Text("-in"), catool.Binary(csr),
	)
	if err != nil {
		return "", fmt.Errorf("read CSR subject: %w", err)
	}
	flavor, err := DetectFlavor(ctx, e.runner)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(NormalizeSubject(out, flavor)), nil
}

// CertificatesForCN refreshes the ledger and returns every record for cn.
func (e *Engine) CertificatesForCN(ctx context.Context, cn string) ([]model.CertificateRecord, error) {
	if err := e.cfg.Check(); err != nil {
		return nil, err
	}
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.unlock()

	return e.certificatesForCN(ctx, cn)
}

func (e *Engine) certificatesForCN(ctx context.Context, cn string) ([]model.CertificateRecord, error) {
	if err := e.updateDB(ctx); err != nil {
		return nil, err
	}

	f, err := os.Open(e.cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open CA database: %w", err)
	}
	defer f.Close()

	records, err := ParseLedger(f)
	if err != nil {
		return nil, err
	}
	return FilterByCN(records, cn), nil
}

// UpdateDB reconciles expired entries in the ledger.
func (e *Engine) UpdateDB(ctx context.Context) error {
	if err := e.cfg.Check(); err != nil {
		return err
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()

	return e.updateDB(ctx)
}

func (e *Engine) updateDB(ctx context.Context) (err error) {
	defer func(start time.Time) { observe("updatedb", start, err) }(time.Now())

	e.logger.Info().Msg("updating the certificate database")
	out, err := e.runner.Run(ctx, catool.Args(
		"ca",
		"-config", e.cfg.ConfigFile,
		"-passin", e.cfg.passin(),
		"-updatedb",
	)...)
	if err != nil {
		return fmt.Errorf("update CA database: %w", err)
	}
	e.logOutput(out)
	return nil
}

// Revoke revokes the certificate with the given serial and regenerates the
// CRL. The CRL is only regenerated when the revocation succeeded.
func (e *Engine) Revoke(ctx context.Context, serial string) error {
	if err := e.cfg.Check(); err != nil {
		return err
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()

	return e.revoke(ctx, serial)
}

func (e *Engine) revoke(ctx context.Context, serial string) (err error) {
	defer func(start time.Time) { observe("revoke", start, err) }(time.Now())

	path := e.cfg.ArchivedCertPath(serial)
	e.logger.Info().Str("serial", serial).Str("path", path).Msg("revoking certificate")

	out, err := e.runner.Run(ctx, catool.Args(
		"ca",
		"-config", e.cfg.ConfigFile,
		"-passin", e.cfg.passin(),
		"-revoke", path,
	)...)
	if err != nil {
		return fmt.Errorf("revoke %s: %w", serial, err)
	}
	e.logOutput(out)

	return e.generateCRL(ctx)
}

// GenerateCRL writes a fresh CRL to Config.CRLPath.
func (e *Engine) GenerateCRL(ctx context.Context) error {
	if err := e.cfg.Check(); err != nil {
		return err
	}
	if err := e.lock(ctx); err != nil {
		return err
	}
	defer e.unlock()

	return e.generateCRL(ctx)
}

func (e *Engine) generateCRL(ctx context.Context) (err error) {
	defer func(start time.Time) { observe("gencrl", start, err) }(time.Now())

	e.logger.Info().Msg("generating a new CRL")
	out, err := e.runner.Run(ctx, catool.Args(
		"ca",
		"-config", e.cfg.ConfigFile,
		"-passin", e.cfg.passin(),
		"-gencrl",
		"-out", e.cfg.CRLPath(),
	)...)
	if err != nil {
		return fmt.Errorf("generate CRL: %w", err)
	}
	e.logOutput(out)
	return nil
}

func (e *Engine) logOutput(out string) {
	if out = strings.TrimSpace(out); out != "" {
		e.logger.Info().Msg(out)
	}
}
