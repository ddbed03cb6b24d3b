package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HMACSHA256Hex signs data with key, hex encoded. MoMo, ZaloPay and Stripe
// all sign this way over their own canonical strings.
func HMACSHA256Hex(key, data string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualSignature compares in constant time.
func EqualSignature(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(got))
}
