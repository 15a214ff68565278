package analyzer

import (
	"strings"
	"unicode"
)

// NormalizeHeader removes all whitespace and lowercases s. OCR output reads
// "거래 일자", "거래일자" and "거 래 일 자" interchangeably, so comparisons are
// always done on this form. The result is never shown to callers.
func NormalizeHeader(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) || r == '\u200b' || r == '\ufeff' {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// headersMatch reports whether two headers are equal after normalization.
func headersMatch(a, b string) bool {
	na := NormalizeHeader(a)
	return na != "" && na == NormalizeHeader(b)
}

// headersOverlap reports whether either normalized header contains the other.
func headersOverlap(a, b string) bool {
	na, nb := NormalizeHeader(a), NormalizeHeader(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// findHeader returns the literal header in headers matching want: an exact
// normalized match first, then a containment match.
func findHeader(headers []string, want string) (string, int, bool) {
	for i, h := range headers {
		if headersMatch(h, want) {
			return h, i, true
		}
	}
	for i, h := range headers {
		if headersOverlap(h, want) {
			return h, i, true
		}
	}
	return "", -1, false
}
