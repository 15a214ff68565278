package analyzer

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PreviewRow is one data row read through a column mapping.
type PreviewRow struct {
	Row        int              `json:"row"`
	Date       string           `json:"date"`
	Deposit    decimal.Decimal  `json:"deposit"`
	Withdrawal decimal.Decimal  `json:"withdrawal"`
	Balance    *decimal.Decimal `json:"balance,omitempty"`
	Memo       string           `json:"memo"`
}

// Preview applies a successful result to the first n non-empty data rows of
// doc. Dates are rendered as YYYY-MM-DD when they parse and kept verbatim
// otherwise. Failed results yield no rows.
func Preview(doc *Document, res *AnalysisResult, n int) []PreviewRow {
	if doc == nil || res == nil || !res.Success || n <= 0 {
		return nil
	}
	grid := doc.grid()
	if res.HeaderRowIndex < 0 || res.HeaderRowIndex >= len(grid) {
		return nil
	}
	headers := grid[res.HeaderRowIndex]
	col := func(key string) int {
		h := res.ColumnMapping.Get(key)
		if h == "" {
			return -1
		}
		return indexOf(headers, h)
	}
	var (
		dateIdx = col(KeyDate)
		typeIdx = col(KeyType)
		depIdx  = col(KeyDeposit)
		wdIdx   = col(KeyWithdrawal)
		amtIdx  = col(KeyAmount)
		balIdx  = col(KeyBalance)
		memoIdx = col(KeyMemo)
	)
	interleaved := make(map[int]bool)
	for _, h := range res.MemoAnalysis.InterleavedColumns {
		if i := indexOf(headers, h); i >= 0 {
			interleaved[i] = true
		}
	}

	var out []PreviewRow
	for i := res.DataStartRowIndex; i < len(grid) && len(out) < n; i++ {
		row := grid[i]
		if len(nonBlank(row)) == 0 {
			continue
		}
		p := PreviewRow{Row: i}
		if interleaved[memoIdx] {
			// the memo header names an amount column; text is picked up below
			p.Memo = ""
		} else {
			p.Memo = strings.TrimSpace(cellAt(row, memoIdx))
		}

		raw := cellAt(row, dateIdx)
		if d, ok := parseDate(raw); ok {
			p.Date = d.String()
		} else {
			p.Date = strings.TrimSpace(raw)
		}
		if b, ok := parseAmount(cellAt(row, balIdx)); ok {
			p.Balance = &b
		}

		switch res.TransactionTypeDetection.Method {
		case MethodSeparateColumns:
			for _, side := range []struct {
				idx int
				dst *decimal.Decimal
			}{{depIdx, &p.Deposit}, {wdIdx, &p.Withdrawal}} {
				cell := cellAt(row, side.idx)
				if v, ok := parseAmount(cell); ok {
					*side.dst = v.Abs()
				} else if interleaved[side.idx] && isTextCell(cell) {
					p.Memo = joinMemo(p.Memo, cell)
				}
			}
		case MethodSignInType, MethodTypeColumn:
			v, ok := parseAmount(cellAt(row, amtIdx))
			if !ok {
				break
			}
			t := cellAt(row, typeIdx)
			dir := directionLabel(t)
			if res.TransactionTypeDetection.Method == MethodSignInType {
				if m := signMarker(t); m != 0 {
					dir = m
				}
			}
			if dir == 0 {
				dir = v.Sign()
			}
			assignDirection(&p, v, dir)
		case MethodAmountSign:
			if v, ok := parseAmount(cellAt(row, amtIdx)); ok {
				assignDirection(&p, v, v.Sign())
			}
		}
		out = append(out, p)
	}
	return out
}

func assignDirection(p *PreviewRow, v decimal.Decimal, dir int) {
	switch {
	case dir > 0:
		p.Deposit = v.Abs()
	case dir < 0:
		p.Withdrawal = v.Abs()
	}
}

func joinMemo(memo, extra string) string {
	extra = strings.TrimSpace(extra)
	if memo == "" {
		return extra
	}
	return memo + " " + extra
}
