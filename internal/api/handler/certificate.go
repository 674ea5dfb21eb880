package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	mw "github.com/edvin/deviceca/internal/api/middleware"
	"github.com/edvin/deviceca/internal/api/response"
	"github.com/edvin/deviceca/internal/core"
	"github.com/edvin/deviceca/internal/crypto"
	"github.com/edvin/deviceca/internal/model"
)

// maxCSRBytes bounds the size of a CSR upload. It matches what the HMAC
// middleware reads for signature verification.
const maxCSRBytes = mw.MaxBodyBytes

type Certificate struct {
	devices *core.DeviceRegistry
	svc     *core.CertificateService
}

func NewCertificate(devices *core.DeviceRegistry, svc *core.CertificateService) *Certificate {
	return &Certificate{devices: devices, svc: svc}
}

// device resolves the authenticated device. It writes a 404 and returns false
// when there is none.
func (h *Certificate) device(w http.ResponseWriter, r *http.Request) (model.Device, bool) {
	id, ok := mw.DeviceID(r.Context())
	if !ok {
		response.WriteError(w, http.StatusNotFound, "device not found")
		return model.Device{}, false
	}
	device, ok := h.devices.Lookup(id)
	if !ok {
		zerolog.Ctx(r.Context()).Warn().Str("device", id).Msg("authenticated device missing from registry")
		response.WriteError(w, http.StatusNotFound, "device not found")
		return model.Device{}, false
	}
	return device, true
}

// Request signs the CSR in the request body and returns the certificate,
// signed with the device's secret.
func (h *Certificate) Request(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	device, ok := h.device(w, r)
	if !ok {
		return
	}

	csr, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCSRBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.WriteError(w, http.StatusRequestEntityTooLarge, "CSR too large")
			return
		}
		response.WriteError(w, http.StatusBadRequest, "unable to read CSR")
		return
	}
	if strings.TrimSpace(string(csr)) == "" {
		logger.Warn().Str("device", device.ID).Msg("CSR not set")
		response.WriteError(w, http.StatusNotFound, "CSR not set")
		return
	}

	cert, err := h.svc.Request(r.Context(), device, csr)
	if err != nil {
		logger.Error().Err(err).Str("device", device.ID).Msg("failed to sign CSR")
		response.WriteError(w, http.StatusInternalServerError, "unable to sign certificate")
		return
	}

	response.WritePEM(w, http.StatusOK, cert, crypto.Sign(cert, device.SecretKey))
}

// Current returns the certificate most recently issued to the device.
func (h *Certificate) Current(w http.ResponseWriter, r *http.Request) {
	device, ok := h.device(w, r)
	if !ok {
		return
	}

	cert, err := h.svc.Current(device)
	if errors.Is(err, core.ErrNotFound) {
		response.WriteError(w, http.StatusNotFound, "no certificate issued")
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("device", device.ID).Msg("failed to read certificate")
		response.WriteError(w, http.StatusInternalServerError, "unable to read certificate")
		return
	}

	response.WritePEM(w, http.StatusOK, cert, crypto.Sign(cert, device.SecretKey))
}
