package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/edvin/deviceca/internal/api/response"
	"github.com/edvin/deviceca/internal/crypto"
	"github.com/edvin/deviceca/internal/model"
)

const (
	HeaderFirmwareVersion = "x-firmware-version"
	HeaderCreatedAt       = "created-at"
	HeaderExpiry          = "expiry"

	// MaxBodyBytes bounds the request body read for signature verification.
	MaxBodyBytes = 64 << 10

	hmacScheme = "Hmac"
)

type contextKey string

const DeviceIDKey contextKey = "device_id"

var (
	ErrNoAuthorization   = errors.New("no authorization header")
	ErrUnsupportedMethod = errors.New("unsupported authorization method")
	ErrInvalidCreatedAt  = errors.New("invalid created-at date")
	ErrInvalidExpiry     = errors.New("invalid expiry")
	ErrExpired           = errors.New("authorization header has expired")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidBody       = errors.New("unable to read request body")
	ErrBodyTooLarge      = errors.New("request body too large")
)

var hmacParams = regexp.MustCompile(`^key-id="([^"]+)",\s*signature="([^"]+)"$`)

// Accepted layouts for created-at and expiry. A date-time without a zone is
// local time; a bare date is UTC midnight.
var timestampLayouts = []struct {
	layout string
	loc    *time.Location
}{
	{time.RFC3339Nano, time.UTC},
	{"2006-01-02T15:04:05.999999999", time.Local},
	{"2006-01-02", time.UTC},
}

var hmacAuthTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deviceca_hmac_auth_total",
		Help: "HMAC authentication attempts by outcome",
	},
	[]string{"outcome"},
)

// DeviceLookup resolves a key-id to a registered device.
type DeviceLookup interface {
	Lookup(id string) (model.Device, bool)
}

// AuthError is a failed authentication. Unauthenticated errors do not name
// their cause and may be handed to a fallback handler instead of rejected.
type AuthError struct {
	Status          int
	Err             error
	Unauthenticated bool
	outcome         string
}

func (e *AuthError) Error() string { return e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

func reject(status int, err error, outcome string) *AuthError {
	return &AuthError{Status: status, Err: err, outcome: outcome}
}

func unauthenticated(outcome string) *AuthError {
	return &AuthError{Status: http.StatusUnauthorized, Err: ErrUnauthenticated, Unauthenticated: true, outcome: outcome}
}

// HMACAuthenticator checks the HMAC authorization of device requests.
type HMACAuthenticator struct {
	devices  DeviceLookup
	now      func() time.Time
	fallback http.Handler
}

type HMACOption func(*HMACAuthenticator)

// WithClock sets the clock used to check expiry.
func WithClock(now func() time.Time) HMACOption {
	return func(a *HMACAuthenticator) { a.now = now }
}

// WithFallback serves unauthenticated requests with h instead of a 401.
func WithFallback(h http.Handler) HMACOption {
	return func(a *HMACAuthenticator) { a.fallback = h }
}

func NewHMACAuthenticator(devices DeviceLookup, opts ...HMACOption) *HMACAuthenticator {
	a := &HMACAuthenticator{devices: devices, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HMAC returns a middleware that authenticates devices by HMAC signature.
func HMAC(devices DeviceLookup, opts ...HMACOption) func(http.Handler) http.Handler {
	return NewHMACAuthenticator(devices, opts...).Middleware
}

// DeviceID returns the authenticated device ID from the context.
func DeviceID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(DeviceIDKey).(string)
	return id, ok && id != ""
}

// WithDeviceID returns a copy of ctx carrying an authenticated device ID.
func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, DeviceIDKey, id)
}

// CanonicalMessage builds the string a device signs for a request.
func CanonicalMessage(method, path, firmwareVersion, createdAt, expiry string, body []byte) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(firmwareVersion)
	b.WriteByte('\n')
	b.WriteString(createdAt)
	b.WriteByte('\n')
	b.WriteString(expiry)
	if len(body) > 0 {
		b.WriteByte('\n')
		b.Write(body)
	}
	return b.String()
}

// ParseTimestamp parses an ISO-8601 header value.
func ParseTimestamp(v string) (time.Time, error) {
	var err error
	for _, l := range timestampLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(l.layout, v, l.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// Authenticate checks r and returns the ID of the device that signed it.
// The checks run in a fixed order and the first failure decides the result.
// The request body is read to verify the signature and restored afterwards.
func (a *HMACAuthenticator) Authenticate(r *http.Request) (string, *AuthError) {
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		return "", reject(http.StatusBadRequest, ErrNoAuthorization, "no_authorization")
	}

	firmware := r.Header.Get(HeaderFirmwareVersion)
	if firmware == "" {
		return "", unauthenticated("no_firmware_version")
	}

	scheme, params, _ := strings.Cut(authorization, " ")
	if scheme != hmacScheme {
		return "", reject(http.StatusBadRequest, ErrUnsupportedMethod, "unsupported_method")
	}

	m := hmacParams.FindStringSubmatch(strings.TrimSpace(params))
	if m == nil {
		return "", unauthenticated("malformed_authorization")
	}
	keyID, claimed := m[1], m[2]

	createdAt := r.Header.Get(HeaderCreatedAt)
	if _, err := ParseTimestamp(createdAt); createdAt == "" || err != nil {
		return "", reject(http.StatusBadRequest, ErrInvalidCreatedAt, "invalid_created_at")
	}

	expiryValue := r.Header.Get(HeaderExpiry)
	expiry, err := ParseTimestamp(expiryValue)
	if expiryValue == "" || err != nil {
		return "", reject(http.StatusBadRequest, ErrInvalidExpiry, "invalid_expiry")
	}
	if !expiry.After(a.now()) {
		return "", reject(http.StatusUnauthorized, ErrExpired, "expired")
	}

	device, ok := a.devices.Lookup(keyID)
	if !ok {
		return "", unauthenticated("unknown_device")
	}

	body, authErr := readBody(r)
	if authErr != nil {
		return "", authErr
	}

	message := CanonicalMessage(r.Method, r.URL.Path, firmware, createdAt, expiryValue, body)
	if !crypto.Verify(message, device.SecretKey, claimed) {
		return "", unauthenticated("bad_signature")
	}
	return device.ID, nil
}

// Middleware authenticates the request before passing it to next.
func (a *HMACAuthenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		deviceID, authErr := a.Authenticate(r)
		if authErr != nil {
			hmacAuthTotal.WithLabelValues(authErr.outcome).Inc()
			logger.Debug().Str("outcome", authErr.outcome).Msg("HMAC authentication failed")

			if !authErr.Unauthenticated {
				response.WriteError(w, authErr.Status, authErr.Error())
				return
			}
			if a.fallback != nil {
				a.fallback.ServeHTTP(w, r)
				return
			}
			response.WriteError(w, authErr.Status, authErr.Error())
			return
		}

		hmacAuthTotal.WithLabelValues("authenticated").Inc()
		logger.Debug().Str("device", deviceID).Msg("device authenticated")
		next.ServeHTTP(w, r.WithContext(WithDeviceID(r.Context(), deviceID)))
	})
}

// readBody reads at most MaxBodyBytes of the body and puts it back on r.
func readBody(r *http.Request) ([]byte, *AuthError) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	r.Body.Close()
	if err != nil {
		return nil, reject(http.StatusBadRequest, ErrInvalidBody, "invalid_body")
	}
	if len(body) > MaxBodyBytes {
		return nil, reject(http.StatusRequestEntityTooLarge, ErrBodyTooLarge, "body_too_large")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
