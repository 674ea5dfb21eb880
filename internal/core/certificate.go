package core

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/edvin/deviceca/internal/ca"
	"github.com/edvin/deviceca/internal/model"
)

// ErrNotFound is returned when a device has no stored certificate.
var ErrNotFound = errors.New("not found")

// Signer issues device certificates. *ca.Engine implements it.
type Signer interface {
	Sign(ctx context.Context, req ca.SignRequest) (string, error)
}

type CertificateService struct {
	signer Signer
	store  string
}

func NewCertificateService(signer Signer, certificateStore string) *CertificateService {
	return &CertificateService{signer: signer, store: certificateStore}
}

// Request signs csr for device, superseding any certificate it already holds.
func (s *CertificateService) Request(ctx context.Context, device model.Device, csr []byte) (string, error) {
	if s.signer == nil {
		return "", fmt.Errorf("no certificate authority configured")
	}
	cert, err := s.signer.Sign(ctx, ca.SignRequest{
		CSR:              csr,
		Device:           device,
		CertificateStore: s.store,
	})
	if err != nil {
		return "", fmt.Errorf("sign CSR for %s: %w", device.ID, err)
	}
	return cert, nil
}

// Current returns the most recently issued certificate for device.
func (s *CertificateService) Current(device model.Device) (string, error) {
	data, err := os.ReadFile(ca.CertificatePath(s.store, device.ID))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("certificate for %s: %w", device.ID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read certificate for %s: %w", device.ID, err)
	}
	return string(data), nil
}
