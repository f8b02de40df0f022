package crypto

import "encoding/base64"

// DecodeSSID best-effort base64-decodes s (the WiFi SSID as reported
// by a device). If decoding fails or yields an empty result, the
// original string is returned unchanged.
func DecodeSSID(s string) string {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(decoded) == 0 {
		return s
	}
	return string(decoded)
}
