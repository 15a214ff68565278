package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
)

const sampleReply = `{
  "success": true,
  "tableType": "은행 거래내역서",
  "templateId": "",
  "columnMapping": {
    "거래일자": "거래일자",
    "구분": null,
    "입금금액": "입금금액",
    "출금금액": "지급금액",
    "금액": null,
    "잔액": "잔액",
    "비고": "적요"
  },
  "headerRowIndex": 0,
  "dataStartRowIndex": 1,
  "transactionTypeDetection": {"method": "separate_columns", "details": "별도 컬럼"},
  "memoAnalysis": {"columnName": "적요", "contentType": "거래설명", "confidence": 0.9},
  "confidence": 0.93,
  "reasoning": "입금/지급 컬럼 분리"
}`

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		err  error
	}{
		{name: "plain", in: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced json", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "fenced bare", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "chatter around", in: "Here you go:\n{\"a\":{\"b\":2}}\nThanks!", want: `{"a":{"b":2}}`},
		{name: "no object", in: "I cannot help with that", err: ErrNoJSON},
		{name: "reversed braces", in: "} nope {", err: ErrNoJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.in)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeGuess(t *testing.T) {
	g, err := decodeGuess("```json\n" + sampleReply + "\n```")
	require.NoError(t, err)

	assert.Equal(t, "거래일자", g.ColumnMapping.Date)
	assert.Nil(t, g.ColumnMapping.Type)
	require.NotNil(t, g.ColumnMapping.Withdrawal)
	assert.Equal(t, "지급금액", *g.ColumnMapping.Withdrawal)
	require.NotNil(t, g.ColumnMapping.Memo)
	assert.Equal(t, "적요", *g.ColumnMapping.Memo)
	assert.Equal(t, analyzer.MethodSeparateColumns, g.TransactionTypeDetection.Method)
	require.NotNil(t, g.HeaderRowIndex)
	assert.Equal(t, 0, *g.HeaderRowIndex)
	assert.InDelta(t, 0.93, g.Confidence, 1e-9)
	assert.Contains(t, g.Raw, "```json")

	_, err = decodeGuess(`{"confidence": "high"`)
	assert.Error(t, err)
}

func TestBuildTablePreview(t *testing.T) {
	got := BuildTablePreview(
		[]string{"거래일자", "적요"},
		[][]string{{"2024-01-01", "급여"}, {"2024-01-02", "이자"}},
	)
	assert.Equal(t, "헤더: 거래일자 | 적요\n\n샘플 데이터:\nRow 1: 2024-01-01 | 급여\nRow 2: 2024-01-02 | 이자\n", got)
}

type fakeModels struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	reply    string
	err      error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: f.reply}}},
		}},
	}, nil
}

func TestGemini_Infer(t *testing.T) {
	fm := &fakeModels{reply: sampleReply}
	g := newGemini(fm, GeminiConfig{})

	guess, err := g.Infer(context.Background(), analyzer.OracleRequest{
		Headers:    []string{"거래일자", "적요", "입금금액", "지급금액", "잔액"},
		SampleRows: [][]string{{"2024-01-01", "급여", "100", "", "100"}},
		Attachment: []byte("%PDF-1.7"),
		Templates:  []analyzer.TemplateSummary{{ID: "kb", BankName: "국민은행"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "거래일자", guess.ColumnMapping.Date)

	assert.Equal(t, DefaultGeminiModel, fm.model)
	require.Len(t, fm.contents, 1)
	parts := fm.contents[0].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, DefaultPrompt, parts[0].Text)
	assert.Contains(t, parts[1].Text, "헤더: 거래일자 | 적요")
	assert.Contains(t, parts[1].Text, "id=kb 은행=국민은행")
	require.NotNil(t, parts[2].InlineData)
	assert.Equal(t, "application/pdf", parts[2].InlineData.MIMEType)
	require.NotNil(t, fm.config.Temperature)
	assert.Equal(t, float32(0), *fm.config.Temperature)
}

func TestGemini_InferErrors(t *testing.T) {
	g := newGemini(&fakeModels{err: errors.New("quota exceeded")}, GeminiConfig{Model: "gemini-x"})
	_, err := g.Infer(context.Background(), analyzer.OracleRequest{Headers: []string{"a"}})
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Equal(t, "gemini:gemini-x", g.Name())

	g = newGemini(&fakeModels{reply: "no idea"}, GeminiConfig{})
	_, err = g.Infer(context.Background(), analyzer.OracleRequest{Headers: []string{"a"}})
	assert.ErrorIs(t, err, ErrNoJSON)
}

type fakeChat struct {
	input []*schema.Message
	reply *schema.Message
	err   error
}

func (f *fakeChat) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	return f.reply, f.err
}

func TestOllama_Infer(t *testing.T) {
	fc := &fakeChat{reply: schema.AssistantMessage("결과:\n"+sampleReply, nil)}
	o := newOllama(fc, OllamaConfig{Model: "qwen2.5:7b", Prompt: "custom prompt"})

	guess, err := o.Infer(context.Background(), analyzer.OracleRequest{
		Headers:    []string{"거래일자", "적요"},
		SampleRows: [][]string{{"2024-01-01", "급여"}},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.93, guess.Confidence, 1e-9)

	require.Len(t, fc.input, 2)
	assert.Equal(t, schema.System, fc.input[0].Role)
	assert.Equal(t, "custom prompt", fc.input[0].Content)
	assert.Equal(t, schema.User, fc.input[1].Role)
	assert.Contains(t, fc.input[1].Content, "Row 1: 2024-01-01 | 급여")
}

func TestOllama_InferErrors(t *testing.T) {
	o := newOllama(&fakeChat{}, OllamaConfig{})
	_, err := o.Infer(context.Background(), analyzer.OracleRequest{Attachment: []byte("x")})
	assert.Error(t, err)

	o = newOllama(&fakeChat{reply: schema.AssistantMessage("  ", nil)}, OllamaConfig{})
	_, err = o.Infer(context.Background(), analyzer.OracleRequest{Headers: []string{"a"}})
	assert.ErrorContains(t, err, "empty response")

	o = newOllama(&fakeChat{err: errors.New("connection refused")}, OllamaConfig{})
	_, err = o.Infer(context.Background(), analyzer.OracleRequest{Headers: []string{"a"}})
	assert.ErrorContains(t, err, "connection refused")
}

func TestNew_Providers(t *testing.T) {
	o, err := New(context.Background(), Config{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, o)

	_, err = New(context.Background(), Config{Provider: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unknown provider")
}
