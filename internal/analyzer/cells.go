package analyzer

import (
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

var (
	amountNoise  = strings.NewReplacer(",", "", "₩", "", "원", "", "\\", "", "KRW", "", " ", "", "\u00a0", "")
	signMarkerRe = regexp.MustCompile(`^\s*[\[(]?\s*([+\-])\s*[\])]?\s*(.*)$`)
	dateSepRe    = regexp.MustCompile(`^(\d{4})[-./년]\s*(\d{1,2})[-./월]\s*(\d{1,2})`)
	compactDate  = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	letterRe     = regexp.MustCompile(`[\p{L}]`)
)

// parseAmount reads a money cell. It accepts thousands separators, currency
// marks, a leading sign and accounting parentheses.
func parseAmount(cell string) (decimal.Decimal, bool) {
	s := amountNoise.Replace(strings.TrimSpace(cell))
	if s == "" {
		return decimal.Zero, false
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") && !strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimSuffix(s, "-")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// isNumeric reports a non-empty cell that parses as an amount.
func isNumeric(cell string) bool {
	_, ok := parseAmount(cell)
	return ok
}

// hasExplicitSign reports whether a numeric cell carries its own sign.
func hasExplicitSign(cell string) bool {
	s := strings.TrimSpace(cell)
	return strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") ||
		(strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")) ||
		(strings.HasSuffix(s, "-") && isNumeric(s))
}

// parseDate recognises the date layouts Korean statements use:
// 2024-01-15, 2024.01.15, 2024/1/5, 2024년 1월 5일 and 20240115, with an
// optional time suffix.
func parseDate(cell string) (civil.Date, bool) {
	s := strings.TrimSpace(cell)
	if m := dateSepRe.FindStringSubmatch(s); m != nil {
		return civilDate(m[1], m[2], m[3])
	}
	if m := compactDate.FindStringSubmatch(s); m != nil {
		return civilDate(m[1], m[2], m[3])
	}
	return civil.Date{}, false
}

func civilDate(y, m, d string) (civil.Date, bool) {
	if len(m) == 1 {
		m = "0" + m
	}
	if len(d) == 1 {
		d = "0" + d
	}
	date, err := civil.ParseDate(y + "-" + m + "-" + d)
	if err != nil || !date.IsValid() {
		return civil.Date{}, false
	}
	return date, true
}

func isDateLike(cell string) bool {
	_, ok := parseDate(cell)
	return ok
}

// signMarker extracts a leading [+]/[-] style marker followed by a text label.
// It returns +1, -1 or 0 when there is no marker.
func signMarker(cell string) int {
	m := signMarkerRe.FindStringSubmatch(cell)
	if m == nil || !letterRe.MatchString(m[2]) {
		return 0
	}
	if m[1] == "+" {
		return 1
	}
	return -1
}

var (
	depositLabels    = []string{"입금", "맡기신", "받기", "받은", "충전", "환불", "deposit", "credit", "in"}
	withdrawalLabels = []string{"출금", "지급", "찾으신", "보내기", "송금", "결제", "인출", "withdrawal", "debit", "out"}
)

// directionLabel classifies a plain type label as deposit (+1) or
// withdrawal (-1). Short English labels must match exactly.
func directionLabel(cell string) int {
	n := NormalizeHeader(cell)
	if n == "" {
		return 0
	}
	match := func(labels []string) bool {
		for _, l := range labels {
			if len(l) <= 3 && l[0] < 0x80 {
				if n == l {
					return true
				}
				continue
			}
			if strings.Contains(n, l) {
				return true
			}
		}
		return false
	}
	switch {
	case match(depositLabels):
		return 1
	case match(withdrawalLabels):
		return -1
	}
	return 0
}

// isBlank treats dash placeholders as empty cells.
func isBlank(cell string) bool {
	switch strings.TrimSpace(cell) {
	case "", "-", "--", "–", "—", ".":
		return true
	}
	return false
}

// hasLetters reports a cell with at least one letter in any script.
func hasLetters(cell string) bool {
	return letterRe.MatchString(cell)
}
