package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Gateway API key header names.
const (
	HeaderAPIKey       = "X-Api-Key"
	HeaderAPITimestamp = "X-Api-Timestamp"
	HeaderAPISignature = "X-Api-Signature"
)

// HMACAuth holds the API key the gateway may require in addition to the
// identity signature.
type HMACAuth struct {
	Key    string
	Secret string
}

// Enabled reports whether credentials were configured.
func (h *HMACAuth) Enabled() bool {
	return h != nil && h.Key != "" && h.Secret != ""
}

// Headers returns the API key headers for a request. The signature is
// base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (h *HMACAuth) Headers(method, path string, body []byte) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(ts + method + path))
	mac.Write(body)
	return map[string]string{
		HeaderAPIKey:       h.Key,
		HeaderAPITimestamp: ts,
		HeaderAPISignature: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
