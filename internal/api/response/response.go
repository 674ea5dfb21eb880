package response

import (
	"encoding/json"
	"net/http"
)

const (
	ContentTypePEM = "application/x-pem-file"

	// SignatureHeader carries the HMAC of a response body keyed by the
	// requesting device's secret.
	SignatureHeader = "signature"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WritePEM writes a PEM document. A non-empty signature is sent in the
// signature header.
func WritePEM(w http.ResponseWriter, status int, pem, signature string) {
	w.Header().Set("Content-Type", ContentTypePEM)
	if signature != "" {
		w.Header().Set(SignatureHeader, signature)
	}
	w.WriteHeader(status)
	w.Write([]byte(pem))
}
