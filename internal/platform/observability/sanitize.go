package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteLen  = 180
	maxMethodLen = 10
	maxUserIDLen = 64
)

// stripControl removes control characters (newlines and tabs included) and
// caps the result at limit runes so request attributes cannot smuggle
// terminal escapes or unbounded payloads into log lines.
func stripControl(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	runes := []rune(cleaned)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}

// SanitizeRoute bounds a chi route pattern for log and span attributes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return stripControl(route, maxRouteLen)
}

// SanitizeMethod bounds an HTTP method for log and span attributes.
func SanitizeMethod(method string) string {
	return stripControl(method, maxMethodLen)
}

// SanitizeUserID bounds a user identifier before it reaches the logs.
func SanitizeUserID(uid string) string {
	return stripControl(uid, maxUserIDLen)
}
