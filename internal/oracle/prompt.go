package oracle

import (
	"fmt"
	"strings"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
)

// DefaultPrompt is the instruction sent with every table. It can be replaced
// through configuration.
const DefaultPrompt = `당신은 한국 은행 및 간편결제 거래내역서의 컬럼 구조를 분석하는 전문가입니다.
제공된 테이블(또는 첨부 문서)을 보고 거래내역 테이블의 각 컬럼이 어떤 의미인지 판단하세요.

## 표준 필드
- 거래일자: 거래가 발생한 날짜 또는 일시 (필수)
- 구분: 입금/출금을 나타내는 컬럼
- 입금금액, 출금금액: 입금과 출금이 별도 컬럼일 때
- 금액: 입출금이 하나의 금액 컬럼일 때
- 잔액: 거래 후 잔액
- 비고: 입금자명, 거래처, 계좌정보, 거래 설명 등 기록성 정보 (필수 키, 해당 컬럼이 없으면 빈 문자열)

## 입출금 구분 방식 (하나만 선택)
- separate_columns: 입금/출금 금액이 별도 컬럼 (예: 입금금액/출금금액, 맡기신금액/찾으신금액)
- sign_in_type: 구분 컬럼 값 앞에 [+]/[-] 기호 (예: "[+] 충전", "[-] 송금")
- type_column: 구분 컬럼 값이 "입금", "출금" 같은 텍스트
- amount_sign: 하나의 금액 컬럼에 +/- 부호
여러 방식이 가능해 보이면 위 순서대로 앞의 것을 선택하세요.

## 비고 컬럼
- 컬럼 이름보다 실제 값을 보고 판단하세요: 사람 이름, 계좌번호, 은행/카드/페이 이름, 거래 설명
- 일부 내역서는 입금 행의 출금금액 칸(또는 그 반대)에 비고 내용이 들어갑니다. 이 경우 memoAnalysis.contentType에 그 사실을 적으세요.

## 행 번호
- "헤더"는 0번 행, "Row i"는 i번 행입니다.
- 헤더 위에 계좌정보 같은 메타데이터 행이 있으면 실제 헤더 행 번호를 headerRowIndex로, 첫 거래 행 번호를 dataStartRowIndex로 답하세요.

## 규칙
- columnMapping 값은 반드시 헤더 행에 있는 컬럼명을 그대로 사용하고, 없는 필드는 null로 두세요.
- 아래 알려진 템플릿 중 하나와 같은 양식이라고 확신하면 templateId에 그 id를 적으세요. 아니면 빈 문자열.
- confidence는 0과 1 사이 숫자입니다.
- JSON 객체 하나만 반환하세요. 코드 펜스나 다른 설명을 붙이지 마세요.

## 응답 형식
{
  "success": true,
  "tableType": "은행 거래내역서",
  "templateId": "",
  "columnMapping": {
    "거래일자": "컬럼명",
    "구분": null,
    "입금금액": "컬럼명 또는 null",
    "출금금액": "컬럼명 또는 null",
    "금액": null,
    "잔액": "컬럼명 또는 null",
    "비고": "컬럼명"
  },
  "headerRowIndex": 0,
  "dataStartRowIndex": 1,
  "transactionTypeDetection": {"method": "separate_columns", "details": "설명"},
  "memoAnalysis": {"columnName": "컬럼명", "contentType": "입금자명/거래처/계좌정보/거래설명", "confidence": 0.9},
  "confidence": 0.9,
  "reasoning": "판단 근거"
}`

// BuildTablePreview renders headers and sample rows the way the prompt
// describes them.
func BuildTablePreview(headers []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("헤더: ")
	b.WriteString(strings.Join(headers, " | "))
	b.WriteString("\n\n샘플 데이터:\n")
	for i, row := range rows {
		fmt.Fprintf(&b, "Row %d: %s\n", i+1, strings.Join(row, " | "))
	}
	return b.String()
}

// buildTemplateCatalog lists the templates the oracle may tag.
func buildTemplateCatalog(tpls []analyzer.TemplateSummary) string {
	if len(tpls) == 0 {
		return "알려진 템플릿: 없음"
	}
	var b strings.Builder
	b.WriteString("알려진 템플릿:\n")
	for _, t := range tpls {
		fmt.Fprintf(&b, "- id=%s", t.ID)
		if t.BankName != "" {
			fmt.Fprintf(&b, " 은행=%s", t.BankName)
		}
		if t.Name != "" {
			fmt.Fprintf(&b, " 이름=%s", t.Name)
		}
		if t.Description != "" {
			fmt.Fprintf(&b, " 설명=%s", t.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// userText is the per-request text that follows the instruction prompt.
func userText(req analyzer.OracleRequest) string {
	var parts []string
	if len(req.Headers) > 0 || len(req.SampleRows) > 0 {
		parts = append(parts, BuildTablePreview(req.Headers, req.SampleRows))
	} else {
		parts = append(parts, "첨부된 문서에서 거래내역 테이블을 찾아 분석하세요.")
	}
	parts = append(parts, buildTemplateCatalog(req.Templates))
	return strings.Join(parts, "\n")
}
