package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/xraph/courier/signature"
)

func TestSignKnownVector(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"user.created"}`)
	secret := "whsec_testsecret123"

	got := signature.Sign(payload, secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if got != expected {
		t.Errorf("Sign() = %q, want %q", got, expected)
	}
}

func TestSignIsDeterministic(t *testing.T) {
	payload := []byte(`{"amount":9900}`)
	a := signature.Sign(payload, "whsec_same")
	b := signature.Sign(payload, "whsec_same")
	if a != b {
		t.Errorf("same input produced %q and %q", a, b)
	}
}

func TestSignDiffers(t *testing.T) {
	base := signature.Sign([]byte(`{"a":1}`), "whsec_one")

	tests := []struct {
		name    string
		payload []byte
		secret  string
	}{
		{"different secret", []byte(`{"a":1}`), "whsec_two"},
		{"different payload", []byte(`{"a":2}`), "whsec_one"},
		{"whitespace change", []byte(`{"a": 1}`), "whsec_one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := signature.Sign(tt.payload, tt.secret); got == base {
				t.Errorf("expected a different signature, got %q", got)
			}
		})
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"invoice_id":"inv_01h2x","amount":9900}`)
	secret := "whsec_roundtripsecret"

	sig := signature.Sign(payload, secret)
	if !signature.Verify(payload, secret, sig) {
		t.Error("Verify() returned false for valid signature")
	}
}

func TestVerifyRejects(t *testing.T) {
	payload := []byte(`{"original":true}`)
	secret := "whsec_tampersecret"
	sig := signature.Sign(payload, secret)

	if signature.Verify([]byte(`{"original":false}`), secret, sig) {
		t.Error("Verify() returned true for tampered payload")
	}
	if signature.Verify(payload, "whsec_wrong", sig) {
		t.Error("Verify() returned true for wrong secret")
	}
	if signature.Verify(payload, secret, strings.TrimPrefix(sig, "sha256=")) {
		t.Error("Verify() accepted a signature without scheme")
	}
}

func TestSignatureFormat(t *testing.T) {
	sig := signature.Sign([]byte("test"), "secret")

	if !strings.HasPrefix(sig, "sha256=") {
		t.Errorf("signature should start with 'sha256=', got %q", sig)
	}

	// sha256= prefix (7) + 64 hex chars
	if len(sig) != 71 {
		t.Errorf("expected signature length 71, got %d", len(sig))
	}
}
