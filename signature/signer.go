// Package signature provides HMAC-SHA256 webhook signing and verification.
//
// Signatures are sent in the X-Webhook-Signature header as "sha256=<hex>",
// computed over the exact request body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Scheme is the prefix carried by every signature value.
const Scheme = "sha256="

// Sign returns "sha256=" followed by the hex HMAC-SHA256 of payload keyed by secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return Scheme + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the signature of payload under secret.
// The comparison runs in constant time.
func Verify(payload []byte, secret, sig string) bool {
	if !strings.HasPrefix(sig, Scheme) {
		return false
	}
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}
