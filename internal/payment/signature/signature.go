// Package signature computes and checks the HMAC signatures shared
// with the payment gateway. Both the client-confirmation path and the
// webhook path verify through here so trust decisions live in one
// place.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// OrderPayload is the canonical payload the gateway signs on the
// client-confirmation path.
func OrderPayload(orderID, gatewayPaymentID string) []byte {
	return []byte(orderID + "|" + gatewayPaymentID)
}

// Sign returns the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares a provided signature against the expected HMAC in
// constant time.
func Verify(secret string, payload []byte, provided string) bool {
	if provided == "" {
		return false
	}
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(provided))
}
