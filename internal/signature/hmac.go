// Package signature verifies HMAC-SHA256 signatures for inbound platform traffic.
//
// Two message shapes are signed by the platform:
//
//   - webhook deliveries: the raw, unparsed request body
//   - OAuth callbacks: the query string minus "hmac" and "signature", keys sorted,
//     rendered as key=value pairs joined by "&"
//
// Verification never panics on malformed input; callers only see a bool.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Verify reports whether providedHex is the HMAC-SHA256 of message under secret.
//
// Supported signature formats:
//   - "sha256=<hex>"
//   - "<hex>"
func Verify(secret string, message []byte, providedHex string) bool {
	if secret == "" || providedHex == "" {
		return false
	}

	actual, err := parseSignature(providedHex)
	if err != nil || len(actual) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	expected := mac.Sum(nil)

	return subtle.ConstantTimeCompare(expected, actual) == 1
}

// Sign returns the hex-encoded HMAC-SHA256 of message under secret.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// CanonicalQuery renders query parameters the way the platform signs them:
// "hmac" and "signature" removed, keys sorted, values in their original order.
func CanonicalQuery(params url.Values) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range params[k] {
			parts = append(parts, k+"="+v)
		}
	}
	return []byte(strings.Join(parts, "&"))
}

// VerifyQuery checks the "hmac" parameter of an OAuth callback query.
func VerifyQuery(secret string, params url.Values) bool {
	return Verify(secret, CanonicalQuery(params), params.Get("hmac"))
}

func parseSignature(signature string) ([]byte, error) {
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	return hex.DecodeString(strings.ToLower(signature))
}
