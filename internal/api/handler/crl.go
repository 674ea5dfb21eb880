package handler

import (
	"errors"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/deviceca/internal/api/response"
)

// CRL serves the CRL file the CA last generated.
type CRL struct {
	path string
}

func NewCRL(path string) *CRL {
	return &CRL{path: path}
}

func (h *CRL) Get(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(h.path)
	if errors.Is(err, os.ErrNotExist) {
		response.WriteError(w, http.StatusNotFound, "no CRL has been generated")
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", h.path).Msg("failed to open CRL")
		response.WriteError(w, http.StatusInternalServerError, "unable to read CRL")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, "unable to read CRL")
		return
	}

	w.Header().Set("Content-Type", response.ContentTypePEM)
	http.ServeContent(w, r, "crl.pem", info.ModTime(), f)
}
