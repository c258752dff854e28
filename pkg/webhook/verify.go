package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"bookstore-payments/pkg/paymenterr"
)

// Verifier checks the HMAC-SHA256 signature the aggregator puts on each
// delivery. AllowUnsigned only has an effect when no secret is configured,
// and is never set for production.
type Verifier struct {
	Secret        string
	AllowUnsigned bool
}

func (v Verifier) Verify(rawBody []byte, signature string) error {
	if v.Secret == "" {
		if v.AllowUnsigned {
			return nil
		}
		return &paymenterr.SignatureError{Reason: "no webhook secret configured"}
	}

	signature = strings.TrimSpace(signature)
	if signature == "" {
		return &paymenterr.SignatureError{Reason: "missing signature header"}
	}

	expected := Sign(v.Secret, rawBody)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return &paymenterr.SignatureError{Reason: "signature mismatch"}
	}
	return nil
}

// Sign returns the lowercase hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
