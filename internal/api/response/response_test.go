package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	payload := map[string]string{"hello": "world"}

	WriteJSON(w, http.StatusOK, payload)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "world", body["hello"])
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadRequest, "something went wrong")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "something went wrong", body["error"])
}

func TestWriteJSON_NilValue(t *testing.T) {
	w := httptest.NewRecorder()

	WriteJSON(w, http.StatusOK, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	// json.Encode(nil) produces "null\n"
	assert.Equal(t, "null\n", w.Body.String())
}

func TestWritePEM(t *testing.T) {
	w := httptest.NewRecorder()
	pem := "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n"

	WritePEM(w, http.StatusOK, pem, "c2lnbmF0dXJl")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ContentTypePEM, w.Header().Get("Content-Type"))
	assert.Equal(t, "c2lnbmF0dXJl", w.Header().Get(SignatureHeader))
	assert.Equal(t, pem, w.Body.String())
}

func TestWritePEM_Unsigned(t *testing.T) {
	w := httptest.NewRecorder()

	WritePEM(w, http.StatusOK, "crl", "")

	assert.Equal(t, "crl", w.Body.String())
	_, ok := w.Header()[http.CanonicalHeaderKey(SignatureHeader)]
	assert.False(t, ok)
}
