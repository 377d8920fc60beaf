package util

import (
	"net"
	"strings"
)

// UnknownClientIP is recorded when no usable address is present.
const UnknownClientIP = "unknown"

// NormalizeClientIP reduces a forwarded-address chain to the originating
// client address: the first entry of a comma-separated X-Forwarded-For value,
// trimmed. A trailing port is stripped when present.
func NormalizeClientIP(forwarded string) string {
	first := forwarded
	if idx := strings.Index(forwarded, ","); idx >= 0 {
		first = forwarded[:idx]
	}
	first = strings.TrimSpace(first)
	if first == "" {
		return UnknownClientIP
	}
	if host, _, err := net.SplitHostPort(first); err == nil && host != "" {
		return host
	}
	return first
}

var botMarkers = []string{"bot", "crawler", "spider"}

// IsLikelyBot reports whether the user agent matches the crawler denylist.
// Substring match, case-insensitive, so "Googlebot/2.1" and "AhrefsBot" both hit.
func IsLikelyBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range botMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
