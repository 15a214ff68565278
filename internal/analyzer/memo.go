package analyzer

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	koreanNameRe  = regexp.MustCompile(`^[가-힣]{2,4}$`)
	accountRe     = regexp.MustCompile(`^\d{10,14}$`)
	bankNameRe    = regexp.MustCompile(`(은행|뱅크|제일|기업|국민|신한|우리|하나|외환|수협|농협|새마을|우체국|카카오|토스|페이|카드)`)
	mixedTextRe   = regexp.MustCompile(`[가-힣]+.*\d+|\d+.*[가-힣]+`)
	memoKeywordRe = regexp.MustCompile(`(이체|송금|입금|출금|자동|이자|수수료|월세|상환|대출|적립|급여|결제|충전)`)
)

const memoHeaderBonus = 3

// memoStats accumulates per-cell evidence for one candidate column.
type memoStats struct {
	header   string
	index    int
	score    int
	rows     int
	names    int
	accounts int
	banks    int
	keywords int
}

func (s *memoStats) add(cell string) {
	text := strings.TrimSpace(cell)
	if isBlank(text) || utf8.RuneCountInString(text) < 2 {
		return
	}
	s.rows++

	isBank := bankNameRe.MatchString(text)
	if koreanNameRe.MatchString(text) && !isBank {
		s.score += 3
		s.names++
	}
	digits := strings.NewReplacer("-", "", " ", "").Replace(text)
	if accountRe.MatchString(digits) {
		s.score += 2
		s.accounts++
	}
	if isBank {
		s.score += 2
		s.banks++
	}
	if mixedTextRe.MatchString(text) {
		s.score++
	}
	if !isNumeric(text) && !isDateLike(text) {
		s.score++
	}
	if memoKeywordRe.MatchString(text) {
		s.score += 2
		s.keywords++
	}
}

// contentType names the dominant kind of memo evidence.
func (s *memoStats) contentType() string {
	best, label := 0, "free_text"
	for _, c := range []struct {
		n     int
		label string
	}{
		{s.names, "counterparty_name"},
		{s.accounts, "account_number"},
		{s.banks, "bank_or_payment_info"},
		{s.keywords, "transaction_description"},
	} {
		if c.n > best {
			best, label = c.n, c.label
		}
	}
	return label
}

// confidence maps the average per-row score onto [0,1].
func (s *memoStats) confidence() float64 {
	if s.rows == 0 {
		if isMemoHeader(s.header) {
			return 0.5
		}
		return 0
	}
	c := float64(s.score) / float64(s.rows*8)
	if c > 1 {
		c = 1
	}
	if c < 0.1 {
		c = 0.1
	}
	return c
}

// scoreMemoColumn scores one column over the sampled data rows.
func scoreMemoColumn(header string, index int, data [][]string) *memoStats {
	s := &memoStats{header: header, index: index}
	for _, row := range data {
		if index >= 0 && index < len(row) {
			s.add(row[index])
		}
	}
	if isMemoHeader(header) {
		s.score += memoHeaderBonus * max(s.rows, 1)
	}
	return s
}

// bestMemoColumn picks the highest scoring column among headers not in
// exclude. Ties go to the leftmost column.
func bestMemoColumn(headers []string, data [][]string, exclude map[string]bool) *memoStats {
	var best *memoStats
	for i, h := range headers {
		if strings.TrimSpace(h) == "" || exclude[h] {
			continue
		}
		s := scoreMemoColumn(h, i, data)
		if s.score <= 0 {
			continue
		}
		if best == nil || s.score > best.score {
			best = s
		}
	}
	return best
}
