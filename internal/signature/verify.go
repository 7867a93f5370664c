// Package signature authenticates webhook deliveries.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Algorithm is the only accepted header algorithm tag.
const Algorithm = "sha256"

// Verify checks a "sha256=<hex>" header against the HMAC of the raw body.
// It must be given the bytes exactly as received, before any JSON decoding.
func Verify(secret, header string, body []byte) bool {
	if secret == "" || header == "" {
		return false
	}

	algo, theirHex, ok := strings.Cut(header, "=")
	if !ok || algo != Algorithm || theirHex == "" {
		return false
	}
	theirs, err := hex.DecodeString(theirHex)
	if err != nil {
		return false
	}

	ours := Sign(secret, body)
	if len(ours) != len(theirs) {
		return false
	}
	return hmac.Equal(ours, theirs)
}

// Sign returns the raw HMAC-SHA256 digest of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Header formats a signature header value for body.
func Header(secret string, body []byte) string {
	return Algorithm + "=" + hex.EncodeToString(Sign(secret, body))
}
