package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// fingerprintHeaders are the request headers that identify a capture device.
var fingerprintHeaders = []string{
	"User-Agent",
	"Sec-Ch-Ua-Platform",
	"Accept-Language",
	"X-Timezone",
	"X-Device-Id",
	"X-Device-Info",
	"X-Device-Hash",
}

const fingerprintLength = 32

// Fingerprint derives a stable device identifier from request headers.
// Returns "" when none of the identifying headers are present.
func Fingerprint(key string, h http.Header) string {
	parts := make([]string, len(fingerprintHeaders))
	present := false
	for i, name := range fingerprintHeaders {
		parts[i] = strings.TrimSpace(h.Get(name))
		if parts[i] != "" {
			present = true
		}
	}
	if !present {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))[:fingerprintLength]
}
