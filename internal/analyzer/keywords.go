package analyzer

import (
	"strings"

	"github.com/dvloznov/column-analyzer/internal/templates"
)

// headerKeywords is checked in order; the first field with a matching keyword
// wins. Balance comes before amount ("거래후잔액"), type before deposit and
// withdrawal ("입출금구분"). Counterparty headers such as "입금자명" are memo
// columns even though they contain a deposit keyword.
var headerKeywords = []struct {
	field    templates.Field
	keywords []string
}{
	{templates.FieldMemo, []string{"입금자", "송금인", "예금주", "받는분", "보낸분", "거래처"}},
	{templates.FieldBalance, []string{"거래후잔액", "잔액", "잔고", "balance"}},
	{templates.FieldType, []string{"입출금구분", "거래구분", "구분", "거래유형", "유형", "transactiontype", "type"}},
	{templates.FieldDate, []string{"거래일자", "거래일시", "거래일", "날짜", "일자", "일시", "date"}},
	{templates.FieldDeposit, []string{"입금금액", "입금액", "맡기신금액", "받은금액", "입금", "맡기신", "deposit", "credit", "paidin", "moneyin"}},
	{templates.FieldWithdrawal, []string{"출금금액", "출금액", "지급금액", "찾으신금액", "보낸금액", "출금", "지급", "찾으신", "withdrawal", "debit", "paidout", "moneyout"}},
	{templates.FieldAmount, []string{"거래금액", "이체금액", "금액", "amount"}},
	{templates.FieldMemo, []string{"적요", "비고", "메모", "거래내용", "내용", "계좌정보", "결제정보", "거래처", "상대방", "받는분", "보낸분", "memo", "description", "remark", "details"}},
}

// fieldKey maps template fields to canonical output keys.
var fieldKey = map[templates.Field]string{
	templates.FieldDate:       KeyDate,
	templates.FieldType:       KeyType,
	templates.FieldDeposit:    KeyDeposit,
	templates.FieldWithdrawal: KeyWithdrawal,
	templates.FieldAmount:     KeyAmount,
	templates.FieldBalance:    KeyBalance,
	templates.FieldMemo:       KeyMemo,
}

// ClassifyHeader guesses which canonical field a raw header names.
func ClassifyHeader(header string) (templates.Field, bool) {
	n := NormalizeHeader(header)
	if n == "" {
		return "", false
	}
	for _, group := range headerKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(n, kw) {
				return group.field, true
			}
		}
	}
	return "", false
}

// recognizedHeaders counts cells of row that look like column headers.
func recognizedHeaders(row []string) int {
	n := 0
	for _, cell := range row {
		if _, ok := ClassifyHeader(cell); ok {
			n++
		}
	}
	return n
}

// isMemoHeader reports a header carrying a memo keyword.
func isMemoHeader(header string) bool {
	f, ok := ClassifyHeader(header)
	return ok && f == templates.FieldMemo
}
