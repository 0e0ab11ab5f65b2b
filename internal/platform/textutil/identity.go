package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail canonicalises an email address for identity matching:
// Unicode NFKC normalisation followed by full case folding. The result is
// what gets persisted and queried, never the raw input.
func NormalizeEmail(email string) string {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return ""
	}
	return cases.Fold().String(norm.NFKC.String(trimmed))
}

// NormalizeName applies NFC normalisation and collapses internal whitespace.
func NormalizeName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	return strings.Join(strings.Fields(norm.NFC.String(trimmed)), " ")
}

// NormalizePhone strips spaces, dashes and parentheses, keeping digits and a
// leading plus sign.
func NormalizePhone(phone string) string {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
