package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	mw "github.com/edvin/deviceca/internal/api/middleware"
)

// newRequestRaw creates a new HTTP request with a raw string body.
func newRequestRaw(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "text/plain")
	return r
}

// withDevice marks the request as authenticated by the given device.
func withDevice(r *http.Request, deviceID string) *http.Request {
	return r.WithContext(mw.WithDeviceID(r.Context(), deviceID))
}

// decodeErrorResponse parses the JSON error response body into a map.
func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}
