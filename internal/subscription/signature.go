package subscription

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-paystack-signature"

// Signature errors. All of them reject the webhook with 401.
var (
	ErrMissingSecret    = errors.New("subscription: webhook secret not configured")
	ErrMissingSignature = errors.New("subscription: missing webhook signature")
	ErrInvalidSignature = errors.New("subscription: invalid webhook signature")
)

// Sign returns the hex-encoded HMAC-SHA512 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body in constant time.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}
