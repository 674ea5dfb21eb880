package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Message is anything a device can sign: request text or raw body bytes.
// Strings are hashed as their UTF-8 bytes, so a string and its []byte form
// produce the same signature.
type Message interface {
	~string | ~[]byte
}

// Sign computes HMAC-SHA256 over message keyed with secret and returns the
// standard base64 encoding of the raw digest.
func Sign[M Message](message M, secret string) string {
	return base64.StdEncoding.EncodeToString(digest([]byte(message), secret))
}

// Verify reports whether claimed is the signature of message under secret.
// The comparison is constant-time in the length of the expected signature.
func Verify[M Message](message M, secret, claimed string) bool {
	expected := Sign(message, secret)
	return hmac.Equal([]byte(expected), []byte(claimed))
}

func digest(message []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return mac.Sum(nil)
}
