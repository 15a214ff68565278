package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/column-analyzer/internal/templates"
)

// fakeOracle records every call and answers with inferFn.
type fakeOracle struct {
	mu      sync.Mutex
	calls   int
	last    OracleRequest
	inferFn func(ctx context.Context, req OracleRequest) (*OracleGuess, error)
}

func (f *fakeOracle) Name() string { return "fake" }

func (f *fakeOracle) Infer(ctx context.Context, req OracleRequest) (*OracleGuess, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.mu.Unlock()
	if f.inferFn == nil {
		return nil, errors.New("no answer configured")
	}
	return f.inferFn(ctx, req)
}

func (f *fakeOracle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func answer(g *OracleGuess) func(context.Context, OracleRequest) (*OracleGuess, error) {
	return func(context.Context, OracleRequest) (*OracleGuess, error) {
		return g, nil
	}
}

type fakeRecorder struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *fakeRecorder) IncrementMatchCount(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return r.err
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func loadedRegistry(t *testing.T, tpls ...templates.Template) *templates.Registry {
	t.Helper()
	reg := templates.NewRegistry()
	require.NoError(t, reg.Replace(tpls))
	return reg
}

func kbTemplate(id string, priority int, identifiers ...string) templates.Template {
	return templates.Template{
		ID:          id,
		Name:        "국민은행 거래내역",
		BankName:    "국민은행",
		Identifiers: identifiers,
		IsActive:    true,
		Priority:    priority,
		Schema: templates.ColumnSchema{Columns: map[templates.Field]templates.ColumnDef{
			templates.FieldDate:       {Header: "거래일자"},
			templates.FieldDeposit:    {Header: "입금금액"},
			templates.FieldWithdrawal: {Header: "출금금액"},
			templates.FieldBalance:    {Header: "잔액"},
			templates.FieldMemo:       {Header: "적요"},
		}},
	}
}

func scenarioADocument() *Document {
	return &Document{
		Headers: []string{"거래일자", "일련번호", "적요", "상태", "지급금액", "입금금액", "잔액", "취급점"},
		Rows: [][]string{
			{"2024-01-15", "1", "타행이체", "정상", "", "50,000", "150,000", "강남지점"},
			{"2024-01-16", "2", "카드결제", "정상", "12,000", "", "138,000", "본점"},
		},
	}
}

func scenarioAGuess() *OracleGuess {
	return &OracleGuess{
		ColumnMapping: ColumnMapping{
			Date:       "거래일자",
			Deposit:    strp("입금금액"),
			Withdrawal: strp("지급금액"),
			Balance:    strp("잔액"),
			Memo:       strp("적요"),
		},
		TransactionTypeDetection: TransactionTypeDetection{Method: MethodSeparateColumns},
		Confidence:               0.92,
		Reasoning:                "입금/지급 금액이 별도 컬럼",
	}
}

func scenarioBDocument() *Document {
	return &Document{
		Headers: []string{"No", "거래일시", "거래구분", "거래금액", "거래후잔액", "은행", "계좌정보/결제정보"},
		Rows: [][]string{
			{"1", "2024-03-01 10:00", "[+] 충전", "50000", "50000", "카카오뱅크", "홍길동 3333-01-1234567"},
			{"2", "2024-03-02 12:30", "[-] 송금", "-20000", "30000", "국민은행", "김철수 123456789012"},
		},
	}
}

func TestAnalyze_ScenarioA_SeparateColumns(t *testing.T) {
	oracle := &fakeOracle{inferFn: answer(scenarioAGuess())}
	a := New(loadedRegistry(t), oracle, DefaultConfig())

	res, err := a.Analyze(context.Background(), scenarioADocument())
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)

	assert.Equal(t, MethodSeparateColumns, res.TransactionTypeDetection.Method)
	assert.Equal(t, "거래일자", res.ColumnMapping.Date)
	assert.Equal(t, "입금금액", deref(res.ColumnMapping.Deposit))
	assert.Equal(t, "지급금액", deref(res.ColumnMapping.Withdrawal))
	assert.Equal(t, "적요", res.MemoAnalysis.ColumnName)
	assert.Equal(t, 0, res.HeaderRowIndex)
	assert.Equal(t, 1, res.DataStartRowIndex)
	assert.Equal(t, LayerSemantic, res.MatchLayer)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)
	assert.Nil(t, res.Error)
	assert.Equal(t, 1, oracle.callCount())
}

func TestAnalyze_ScenarioB_SignInTypeAndMemoInference(t *testing.T) {
	oracle := &fakeOracle{inferFn: answer(&OracleGuess{
		ColumnMapping: ColumnMapping{
			Date:    "거래일시",
			Type:    strp("거래구분"),
			Amount:  strp("거래금액"),
			Balance: strp("거래후잔액"),
			Memo:    strp(""),
		},
		Confidence: 0.85,
	})}
	a := New(loadedRegistry(t), oracle, DefaultConfig())

	res, err := a.Analyze(context.Background(), scenarioBDocument())
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)

	assert.Equal(t, MethodSignInType, res.TransactionTypeDetection.Method)
	assert.Equal(t, "계좌정보/결제정보", res.MemoAnalysis.ColumnName)
	assert.Equal(t, "계좌정보/결제정보", deref(res.ColumnMapping.Memo))
	assert.Equal(t, "거래구분", deref(res.ColumnMapping.Type))
	assert.Greater(t, res.MemoAnalysis.Confidence, 0.0)
}

func TestAnalyze_ScenarioC_ExactMatchPrefersHigherPriority(t *testing.T) {
	oracle := &fakeOracle{}
	generic := kbTemplate("generic", 5, "거래내역")
	generic.BankName = ""
	reg := loadedRegistry(t, generic, kbTemplate("kb", 1, "국민은행", "거래내역"))
	a := New(reg, oracle, DefaultConfig())

	doc := &Document{
		RawText: "KB국민은행  거래내역 조회",
		Headers: []string{"적요", "출금금액", "거래일자", "입금금액", "잔액"},
		Rows: [][]string{
			{"급여", "", "2024-01-25", "3,000,000", "3,500,000"},
			{"카드대금", "500,000", "2024-01-26", "", "3,000,000"},
		},
	}

	res, err := a.Analyze(context.Background(), doc)
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)

	assert.Equal(t, "kb", res.TemplateID)
	assert.Equal(t, "국민은행", res.BankName)
	assert.Equal(t, LayerExact, res.MatchLayer)
	assert.GreaterOrEqual(t, res.Confidence, 0.9)
	assert.Equal(t, "출금금액", deref(res.ColumnMapping.Withdrawal))
	assert.Equal(t, "적요", deref(res.ColumnMapping.Memo))
	assert.Equal(t, MethodSeparateColumns, res.TransactionTypeDetection.Method)
	assert.Zero(t, oracle.callCount())

	kb, err := reg.Lookup("kb")
	require.NoError(t, err)
	assert.Equal(t, int64(1), kb.MatchCount)
}

func TestAnalyze_ScenarioC_IdentifiersInCellsAndTitleRows(t *testing.T) {
	a := New(loadedRegistry(t, kbTemplate("kb", 1, "국민은행", "거래내역")), nil, DefaultConfig())

	doc := &Document{
		Rows: [][]string{
			{"국민은행 거래내역"},
			{"조회기간: 2024.01.01 ~ 2024.01.31"},
			{"거래일자", "적요", "입금금액", "출금금액", "잔액"},
			{"2024.01.25", "급여", "3,000,000", "", "3,500,000"},
		},
	}

	res, err := a.Analyze(context.Background(), doc)
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, 2, res.HeaderRowIndex)
	assert.Equal(t, 3, res.DataStartRowIndex)
	assert.Equal(t, "kb", res.TemplateID)
}

func TestAnalyze_ScenarioD_MissingDateRejected(t *testing.T) {
	tests := []struct {
		name  string
		guess *OracleGuess
	}{
		{
			name: "missing date",
			guess: &OracleGuess{
				ColumnMapping: ColumnMapping{Deposit: strp("입금금액"), Memo: strp("적요")},
				Confidence:    0.95,
			},
		},
		{
			name: "missing memo key",
			guess: &OracleGuess{
				ColumnMapping: ColumnMapping{Date: "거래일자"},
				Confidence:    0.95,
			},
		},
		{
			name: "header not in document",
			guess: &OracleGuess{
				ColumnMapping: ColumnMapping{Date: "Transaction Date", Memo: strp("적요")},
				Confidence:    0.95,
			},
		},
		{
			name: "unknown method",
			guess: &OracleGuess{
				ColumnMapping:            ColumnMapping{Date: "거래일자", Memo: strp("적요")},
				TransactionTypeDetection: TransactionTypeDetection{Method: "guesswork"},
				Confidence:               0.95,
			},
		},
		{
			name: "confidence below threshold",
			guess: &OracleGuess{
				ColumnMapping: ColumnMapping{Date: "거래일자", Memo: strp("적요")},
				Confidence:    0.4,
			},
		},
		{
			name: "confidence out of range",
			guess: &OracleGuess{
				ColumnMapping: ColumnMapping{Date: "거래일자", Memo: strp("적요")},
				Confidence:    1.5,
			},
		},
		{
			name: "oracle declined",
			guess: &OracleGuess{
				Success:       func() *bool { b := false; return &b }(),
				ColumnMapping: ColumnMapping{Date: "거래일자", Memo: strp("적요")},
				Confidence:    0.9,
			},
		},
		{
			name:  "nil guess",
			guess: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &fakeOracle{inferFn: answer(tt.guess)}
			a := New(loadedRegistry(t), oracle, DefaultConfig())

			res, err := a.Analyze(context.Background(), scenarioADocument())
			require.NoError(t, err)

			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.Contains(t, *res.Error, "no template matched")
			assert.Equal(t, KindNoMatch, res.ErrorKind())
			assert.Equal(t, "", res.ColumnMapping.Date)
			require.NotNil(t, res.ColumnMapping.Memo)
			assert.Equal(t, "", *res.ColumnMapping.Memo)
			assert.Equal(t, 0, res.HeaderRowIndex)
			assert.Equal(t, 1, res.DataStartRowIndex)
			assert.Equal(t, 1, oracle.callCount())
		})
	}
}

func TestAnalyze_EmptyDocumentNeverCallsOracle(t *testing.T) {
	docs := map[string]*Document{
		"nil":         nil,
		"zero":        {},
		"blank cells": {Headers: []string{" "}, Rows: [][]string{{"", " "}}},
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			oracle := &fakeOracle{inferFn: answer(scenarioAGuess())}
			a := New(loadedRegistry(t), oracle, DefaultConfig())

			res, err := a.Analyze(context.Background(), doc)
			require.NoError(t, err)
			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.NotEmpty(t, *res.Error)
			assert.Equal(t, KindInput, res.ErrorKind())
			assert.Zero(t, oracle.callCount())
		})
	}
}

func TestAnalyze_RegistryNotLoadedPropagates(t *testing.T) {
	a := New(templates.NewRegistry(), &fakeOracle{}, DefaultConfig())

	res, err := a.Analyze(context.Background(), scenarioADocument())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, templates.ErrNotLoaded)
}

func TestAnalyze_OracleFailuresBecomeResults(t *testing.T) {
	t.Run("transport error", func(t *testing.T) {
		oracle := &fakeOracle{inferFn: func(context.Context, OracleRequest) (*OracleGuess, error) {
			return nil, errors.New("connection refused")
		}}
		a := New(loadedRegistry(t), oracle, DefaultConfig())

		res, err := a.Analyze(context.Background(), scenarioADocument())
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, *res.Error, "connection refused")
		assert.Equal(t, 1, oracle.callCount())
	})

	t.Run("timeout", func(t *testing.T) {
		oracle := &fakeOracle{inferFn: func(ctx context.Context, _ OracleRequest) (*OracleGuess, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		cfg := DefaultConfig()
		cfg.OracleTimeout = 20 * time.Millisecond
		a := New(loadedRegistry(t), oracle, cfg)

		start := time.Now()
		res, err := a.Analyze(context.Background(), scenarioADocument())
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.False(t, res.Success)
		assert.Contains(t, *res.Error, "timed out")
		assert.Equal(t, 1, oracle.callCount())
	})

	t.Run("panic", func(t *testing.T) {
		oracle := &fakeOracle{inferFn: func(context.Context, OracleRequest) (*OracleGuess, error) {
			panic("boom")
		}}
		a := New(loadedRegistry(t), oracle, DefaultConfig())

		res, err := a.Analyze(context.Background(), scenarioADocument())
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, *res.Error, "boom")
		assert.Equal(t, KindInternal, res.ErrorKind())
	})

	t.Run("no oracle configured", func(t *testing.T) {
		a := New(loadedRegistry(t), nil, DefaultConfig())

		res, err := a.Analyze(context.Background(), scenarioADocument())
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, KindNoMatch, res.ErrorKind())
	})
}

func TestAnalyze_Idempotent(t *testing.T) {
	oracle := &fakeOracle{inferFn: answer(scenarioAGuess())}
	a := New(loadedRegistry(t), oracle, DefaultConfig())
	doc := scenarioADocument()

	first, err := a.Analyze(context.Background(), doc)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, first.ColumnMapping, second.ColumnMapping)
	assert.Equal(t, first.TransactionTypeDetection.Method, second.TransactionTypeDetection.Method)
	assert.Equal(t, first.HeaderRowIndex, second.HeaderRowIndex)
	assert.Equal(t, first.DataStartRowIndex, second.DataStartRowIndex)
	assert.Equal(t, 2, oracle.callCount())
}

func TestAnalyze_EqualPriorityTieBreakIsRegistrationOrder(t *testing.T) {
	first := kbTemplate("first", 1, "국민은행")
	second := kbTemplate("second", 1, "국민은행")
	reg := loadedRegistry(t, first, second)
	a := New(reg, nil, DefaultConfig())
	doc := &Document{
		RawText: "국민은행",
		Headers: []string{"거래일자", "적요", "입금금액", "출금금액", "잔액"},
		Rows:    [][]string{{"2024-01-01", "이자", "10", "", "10"}},
	}

	res, err := a.Analyze(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "first", res.TemplateID)

	// a reload in a different order keeps the original registration order
	require.NoError(t, reg.Replace([]templates.Template{second, first}))
	res, err = a.Analyze(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "first", res.TemplateID)
}

func TestAnalyze_UnfitTemplateFallsBackToOracle(t *testing.T) {
	broken := templates.Template{
		ID:          "toss",
		Identifiers: []string{"토스뱅크"},
		IsActive:    true,
		Schema: templates.ColumnSchema{Columns: map[templates.Field]templates.ColumnDef{
			templates.FieldDate: {Header: "Transaction Date"},
		}},
	}
	oracle := &fakeOracle{inferFn: answer(scenarioAGuess())}
	a := New(loadedRegistry(t, broken), oracle, DefaultConfig())

	doc := scenarioADocument()
	doc.RawText = "토스뱅크 거래내역"

	res, err := a.Analyze(context.Background(), doc)
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, LayerSemantic, res.MatchLayer)
	assert.Empty(t, res.TemplateID)
	assert.Equal(t, 1, oracle.callCount())
	assert.True(t, strings.HasPrefix(res.Reasoning, `exact match "toss" bypassed: `), res.Reasoning)
	assert.Contains(t, res.Reasoning, "입금/지급 금액이 별도 컬럼")
}

func TestAnalyze_OracleTaggedTemplate(t *testing.T) {
	kb := kbTemplate("kb", 1, "identifier-not-in-document")
	reg := loadedRegistry(t, kb)
	rec := &fakeRecorder{err: errors.New("store down")}
	oracle := &fakeOracle{inferFn: answer(&OracleGuess{
		TemplateID:    "kb",
		ColumnMapping: ColumnMapping{Date: "거래일자", Memo: strp("적요")},
		Confidence:    0.8,
	})}
	a := New(reg, oracle, DefaultConfig(), WithMatchRecorder(rec))

	doc := &Document{
		Headers: []string{"거래일자", "적요", "입금금액", "출금금액", "잔액"},
		Rows:    [][]string{{"2024-01-01", "이자", "10", "", "10"}},
	}
	res, err := a.Analyze(context.Background(), doc)
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)

	assert.Equal(t, "kb", res.TemplateID)
	assert.Equal(t, LayerSemantic, res.MatchLayer)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	assert.Equal(t, "입금금액", deref(res.ColumnMapping.Deposit))
	assert.Equal(t, []string{"kb"}, rec.ids)

	stored, err := reg.Lookup("kb")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.MatchCount)

	require.Len(t, oracle.last.Templates, 1)
	assert.Equal(t, "kb", oracle.last.Templates[0].ID)
}

func TestAnalyze_OracleRequestIsBounded(t *testing.T) {
	doc := &Document{
		Headers:    []string{"거래일자", "적요", "금액"},
		Attachment: []byte("%PDF-1.7"),
		MIMEType:   "application/pdf",
	}
	for i := 0; i < 15; i++ {
		doc.Rows = append(doc.Rows, []string{fmt.Sprintf("2024-01-%02d", i+1), "이자", "-10"})
	}
	oracle := &fakeOracle{inferFn: answer(&OracleGuess{
		ColumnMapping: ColumnMapping{Date: "거래일자", Amount: strp("금액"), Memo: strp("적요")},
		Confidence:    0.9,
	})}
	a := New(loadedRegistry(t), oracle, DefaultConfig())

	res, err := a.Analyze(context.Background(), doc)
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, MethodAmountSign, res.TransactionTypeDetection.Method)

	assert.Equal(t, doc.Headers, oracle.last.Headers)
	assert.Len(t, oracle.last.SampleRows, 10)
	assert.Equal(t, "application/pdf", oracle.last.MIMEType)
}

func TestAnalyze_OracleRowIndicesCorrected(t *testing.T) {
	guess := scenarioAGuess()
	guess.HeaderRowIndex = intp(7)
	guess.DataStartRowIndex = intp(2)
	a := New(loadedRegistry(t), &fakeOracle{inferFn: answer(guess)}, DefaultConfig())

	res, err := a.Analyze(context.Background(), scenarioADocument())
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, 0, res.HeaderRowIndex)
	assert.Equal(t, 1, res.DataStartRowIndex)
	assert.Contains(t, res.Reasoning, "reset to 0/1")
}

func TestAnalyze_InterleavedMemo(t *testing.T) {
	oracle := &fakeOracle{inferFn: answer(&OracleGuess{
		ColumnMapping: ColumnMapping{
			Date:       "거래일자",
			Deposit:    strp("입금금액"),
			Withdrawal: strp("출금금액"),
			Balance:    strp("잔액"),
			Memo:       strp(""),
		},
		Confidence: 0.9,
	})}
	a := New(loadedRegistry(t), oracle, DefaultConfig())
	doc := &Document{
		Headers: []string{"거래일자", "입금금액", "출금금액", "잔액"},
		Rows: [][]string{
			{"2024-01-01", "50000", "홍길동", "150000"},
			{"2024-01-02", "카드결제", "12000", "138000"},
		},
	}

	res, err := a.Analyze(context.Background(), doc)
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)

	assert.Equal(t, MethodSeparateColumns, res.TransactionTypeDetection.Method)
	assert.Equal(t, []string{"입금금액", "출금금액"}, res.MemoAnalysis.InterleavedColumns)
	assert.Equal(t, "interleaved_in_amount_column:free_text", res.MemoAnalysis.ContentType)
	assert.Equal(t, "입금금액", deref(res.ColumnMapping.Deposit))

	rows := Preview(doc, res, 10)
	require.Len(t, rows, 2)
	assert.Equal(t, "50000", rows[0].Deposit.String())
	assert.Equal(t, "홍길동", rows[0].Memo)
	assert.Equal(t, "12000", rows[1].Withdrawal.String())
	assert.Equal(t, "카드결제", rows[1].Memo)
}

func TestAnalyze_TemplateDeclaredInterleave(t *testing.T) {
	tpl := templates.Template{
		ID:          "ibk",
		BankName:    "기업은행",
		Identifiers: []string{"IBK"},
		IsActive:    true,
		Schema: templates.ColumnSchema{
			Columns: map[templates.Field]templates.ColumnDef{
				templates.FieldDate:       {Index: intp(0), Header: "거래일시"},
				templates.FieldDeposit:    {Index: intp(1), Header: "입금", WhenDeposit: templates.RoleAmount, WhenWithdrawal: templates.RoleMemo},
				templates.FieldWithdrawal: {Index: intp(2), Header: "출금"},
				templates.FieldBalance:    {Index: intp(3), Header: "잔액"},
			},
			HeaderRowIndex:    intp(1),
			DataStartRowIndex: intp(2),
			ParseRules:        &templates.ParseRules{RowMergePattern: "pair"},
		},
	}
	a := New(loadedRegistry(t, tpl), nil, Config{ExactConfidence: 0.5})
	doc := &Document{
		RawText: "IBK 기업은행",
		Rows: [][]string{
			{"IBK 입출금 거래내역"},
			{"거래일시", "입금", "출금", "잔액"},
			{"2024-02-01 09:00", "10000", "", "20000"},
		},
	}

	res, err := a.Analyze(context.Background(), doc)
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)

	assert.Equal(t, 1, res.HeaderRowIndex)
	assert.Equal(t, 2, res.DataStartRowIndex)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
	assert.Equal(t, []string{"입금"}, res.MemoAnalysis.InterleavedColumns)
	require.NotNil(t, res.ParseRules)
	assert.Equal(t, "pair", res.ParseRules.RowMergePattern)
}

func TestHealth(t *testing.T) {
	a := New(templates.NewRegistry(), nil, DefaultConfig())
	assert.Equal(t, Health{Status: "healthy", Service: "column-analyzer"}, a.Health())
}

func TestPreview_SignInType(t *testing.T) {
	doc := scenarioBDocument()
	res := &AnalysisResult{
		Success:           true,
		HeaderRowIndex:    0,
		DataStartRowIndex: 1,
		ColumnMapping: ColumnMapping{
			Date:    "거래일시",
			Type:    strp("거래구분"),
			Amount:  strp("거래금액"),
			Balance: strp("거래후잔액"),
			Memo:    strp("계좌정보/결제정보"),
		},
		TransactionTypeDetection: TransactionTypeDetection{Method: MethodSignInType},
	}

	rows := Preview(doc, res, 5)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-03-01", rows[0].Date)
	assert.Equal(t, "50000", rows[0].Deposit.String())
	assert.True(t, rows[0].Withdrawal.IsZero())
	assert.Equal(t, "20000", rows[1].Withdrawal.String())
	require.NotNil(t, rows[1].Balance)
	assert.Equal(t, "30000", rows[1].Balance.String())
	assert.Equal(t, "김철수 123456789012", rows[1].Memo)

	assert.Len(t, Preview(doc, res, 1), 1)
	assert.Nil(t, Preview(doc, Failure(errors.New("x")), 5))
}

func TestAnalyze_AttachmentOnlyDocument(t *testing.T) {
	oracle := &fakeOracle{inferFn: answer(&OracleGuess{
		ColumnMapping: ColumnMapping{
			Date:       "거래일자",
			Deposit:    strp("맡기신금액"),
			Withdrawal: strp("찾으신금액"),
			Memo:       strp("내용"),
		},
		HeaderRowIndex:    intp(3),
		DataStartRowIndex: intp(4),
		Confidence:        0.88,
	})}
	a := New(loadedRegistry(t), oracle, DefaultConfig())

	res, err := a.Analyze(context.Background(), &Document{
		Attachment: []byte("%PDF-1.4"),
		MIMEType:   "application/pdf",
	})
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)

	assert.Equal(t, 3, res.HeaderRowIndex)
	assert.Equal(t, 4, res.DataStartRowIndex)
	assert.Equal(t, MethodSeparateColumns, res.TransactionTypeDetection.Method)
	assert.Equal(t, "내용", res.MemoAnalysis.ColumnName)
	assert.Empty(t, oracle.last.Headers)
	assert.Equal(t, []byte("%PDF-1.4"), oracle.last.Attachment)
}

func TestAnalyze_UnfitTemplateWithoutOracleExplainsBypass(t *testing.T) {
	broken := templates.Template{
		ID:          "toss",
		Identifiers: []string{"토스뱅크"},
		IsActive:    true,
		Schema: templates.ColumnSchema{Columns: map[templates.Field]templates.ColumnDef{
			templates.FieldDate: {Header: "Transaction Date"},
		}},
	}
	a := New(loadedRegistry(t, broken), nil, DefaultConfig())

	doc := scenarioADocument()
	doc.RawText = "토스뱅크 거래내역"

	res, err := a.Analyze(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, KindNoMatch, res.ErrorKind())
	assert.Contains(t, res.Reasoning, `exact match "toss" bypassed`)
}

func TestAnalyze_IdentifierInDataRowDoesNotMatch(t *testing.T) {
	tossPay := templates.Template{
		ID:          "toss-pay",
		BankName:    "토스",
		Identifiers: []string{"토스", "거래구분"},
		IsActive:    true,
		Schema: templates.ColumnSchema{Columns: map[templates.Field]templates.ColumnDef{
			templates.FieldDate:   {Header: "거래일시"},
			templates.FieldType:   {Header: "거래구분"},
			templates.FieldAmount: {Header: "거래금액"},
			templates.FieldMemo:   {Header: "적요"},
		}},
	}
	oracle := &fakeOracle{inferFn: answer(&OracleGuess{
		ColumnMapping: ColumnMapping{
			Date:    "거래일시",
			Type:    strp("거래구분"),
			Amount:  strp("거래금액"),
			Balance: strp("잔액"),
			Memo:    strp("적요"),
		},
		TransactionTypeDetection: TransactionTypeDetection{Method: MethodTypeColumn},
		Confidence:               0.85,
	})}
	a := New(loadedRegistry(t, tossPay), oracle, DefaultConfig())

	doc := &Document{
		RawText: "하나은행 입출금 거래내역",
		Headers: []string{"거래일시", "거래구분", "거래금액", "잔액", "적요"},
		Rows: [][]string{
			{"2024-04-01 09:12", "입금", "30,000", "130,000", "토스 홍길동"},
			{"2024-04-02 18:40", "출금", "8,000", "122,000", "국민은행 이체"},
		},
	}

	res, err := a.Analyze(context.Background(), doc)
	require.NoError(t, err)
	require.True(t, res.Success, "error: %v", res.Error)

	assert.NotEqual(t, "toss-pay", res.TemplateID)
	assert.Equal(t, LayerSemantic, res.MatchLayer)
	assert.Equal(t, 1, oracle.callCount())
	assert.Less(t, res.Confidence, 0.9)
}

func TestSearchText_StopsAtHeaderRow(t *testing.T) {
	tests := []struct {
		name string
		doc  *Document
		want bool
	}{
		{
			name: "identifier in raw text",
			doc:  &Document{RawText: "카카오뱅크 거래내역", Headers: []string{"거래일자", "금액"}},
			want: true,
		},
		{
			name: "identifier in title row above headers",
			doc: &Document{Rows: [][]string{
				{"카카오뱅크"},
				{"거래일자", "적요", "금액"},
				{"2024-01-01", "이자", "10"},
			}},
			want: true,
		},
		{
			name: "identifier only in a data row",
			doc: &Document{
				Headers: []string{"거래일자", "적요", "금액"},
				Rows:    [][]string{{"2024-01-01", "카카오뱅크 이체", "10"}},
			},
			want: false,
		},
		{
			name: "identifier only in a data row below a title block",
			doc: &Document{Rows: [][]string{
				{"입출금 내역"},
				{"거래일자", "적요", "금액"},
				{"2024-01-01", "카카오뱅크", "10"},
			}},
			want: false,
		},
	}
	kakao := templates.Template{ID: "kakao", Identifiers: []string{"카카오뱅크"}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := MatchExact(searchText(tt.doc), []templates.Template{kakao})
			assert.Equal(t, tt.want, ok)
		})
	}
}
