package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated requests against the
// identity provider API.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret
}

// Headers returns the HTTP headers for an identity provider request. The
// signature is HMAC-SHA256(secret, timestamp+method+path) encoded as base64.
//
// Returned header keys:
//   - X-IDP-API-KEY
//   - X-IDP-TIMESTAMP
//   - X-IDP-SIGNATURE
func (h *HMACAuth) Headers(method, path string) map[string]string {
	ts := currentTimestamp()

	message := ts + method + path
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"X-IDP-API-KEY":   h.Key,
		"X-IDP-TIMESTAMP": ts,
		"X-IDP-SIGNATURE": sig,
	}
}

// hmacSHA256Base64 computes HMAC-SHA256 over message and returns base64.
func hmacSHA256Base64(secret []byte, message string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// currentTimestamp returns the current Unix time in seconds as a string.
func currentTimestamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}
