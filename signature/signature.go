// Package signature implements the HMAC-SHA256 proofs exchanged with the
// payment gateway: the order+payment signature returned through the client
// after checkout, and the webhook signature computed over raw payload bytes.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignOrderPayment returns the hex HMAC-SHA256 of "gatewayOrderID|paymentID"
// keyed by secret.
func SignOrderPayment(gatewayOrderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyOrderPayment recomputes the order+payment signature and compares in
// constant time. Empty secret or signature fails closed.
func VerifyOrderPayment(gatewayOrderID, paymentID, sig, secret string) bool {
	if secret == "" || sig == "" {
		return false
	}
	expected := SignOrderPayment(gatewayOrderID, paymentID, secret)
	return equalHex(sig, expected)
}

// SignWebhook returns the hex HMAC-SHA256 of the raw payload bytes. This is
// what the gateway puts in its signature header; exposed for tests and
// replay tooling.
func SignWebhook(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the signature header against the exact raw payload
// bytes. The payload must not be re-serialized before verification: field
// order and whitespace changes would silently break the comparison.
func VerifyWebhook(payload []byte, sig, secret string) bool {
	if secret == "" || sig == "" {
		return false
	}
	return equalHex(sig, SignWebhook(payload, secret))
}

func equalHex(got, want string) bool {
	gotBytes, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	wantBytes, err := hex.DecodeString(want)
	if err != nil {
		return false
	}
	return hmac.Equal(gotBytes, wantBytes)
}
