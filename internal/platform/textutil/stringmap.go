package textutil

import "strings"

// NormalizeStringMap returns a copy of values with keys and values trimmed.
// Entries whose trimmed key is empty are dropped; an input that normalises
// down to nothing yields nil so callers can treat absent and empty alike.
// Payment metadata passes through here before it is sent to the gateway.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	normalized := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		normalized[key] = strings.TrimSpace(value)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}
