package templates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlSeed = `
templates:
  - id: kb-basic
    name: 국민은행 거래내역
    bankName: 국민은행
    identifiers: ["국민은행", "거래내역"]
    priority: 10
    columnSchema:
      columns:
        date: {header: 거래일자}
        withdrawal: {index: 4, header: 지급금액, whenDeposit: memo, whenWithdrawal: amount}
        deposit: {index: 5, header: 입금금액}
        balance: {header: 잔액}
      parseRules:
        rowMergePattern: none
  - id: retired
    name: old layout
    identifiers: ["old"]
    isActive: false
    priority: 1
`

const jsonSeed = `{"templates":[{"id":"toss","name":"토스","identifiers":["토스뱅크"],"priority":5,
"columnSchema":{"columns":{"date":{"header":"거래일시"},"type":{"header":"거래구분"},"amount":{"header":"거래금액"}}}}]}`

func TestParseSeed_YAML(t *testing.T) {
	tpls, err := ParseSeed([]byte(yamlSeed), ".yaml")
	require.NoError(t, err)
	require.Len(t, tpls, 2)

	kb := tpls[0]
	assert.Equal(t, "kb-basic", kb.ID)
	assert.True(t, kb.IsActive, "isActive defaults to true")
	assert.Equal(t, []string{"국민은행", "거래내역"}, kb.Identifiers)
	withdrawal, ok := kb.Schema.Column(FieldWithdrawal)
	require.True(t, ok)
	require.NotNil(t, withdrawal.Index)
	assert.Equal(t, 4, *withdrawal.Index)
	assert.True(t, kb.Schema.MemoInAmountColumns())
	require.NotNil(t, kb.Schema.ParseRules)
	assert.Equal(t, "none", kb.Schema.ParseRules.RowMergePattern)

	assert.False(t, tpls[1].IsActive)
}

func TestParseSeed_JSON(t *testing.T) {
	tpls, err := ParseSeed([]byte(jsonSeed), ".json")
	require.NoError(t, err)
	require.Len(t, tpls, 1)
	assert.Equal(t, "거래구분", tpls[0].Schema.Columns[FieldType].Header)
}

func TestParseSeed_Invalid(t *testing.T) {
	_, err := ParseSeed([]byte("templates:\n  - name: no id\n"), ".yaml")
	assert.Error(t, err)

	_, err = ParseSeed([]byte("templates: [::"), ".yaml")
	assert.Error(t, err)
}

func TestWriteSeed_RoundTripsThroughParse(t *testing.T) {
	in, err := ParseSeed([]byte(yamlSeed), ".yaml")
	require.NoError(t, err)

	data, err := WriteSeed(in)
	require.NoError(t, err)

	out, err := ParseSeed(data, ".yaml")
	require.NoError(t, err)
	assert.Equal(t, ids(in), ids(out))
	assert.Equal(t, in[1].IsActive, out[1].IsActive)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlSeed), 0o600))

	reg := NewRegistry()
	n, err := Load(context.Background(), reg, NewFileSource(path))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := reg.ActiveTemplatesByPriority()
	require.NoError(t, err)
	assert.Equal(t, []string{"kb-basic"}, ids(active))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), NewRegistry(), NewFileSource(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

type fakeSource struct {
	tpls []Template
	err  error
}

func (f *fakeSource) ListTemplates(ctx context.Context) ([]Template, error) {
	return f.tpls, f.err
}

func TestRefresher_ReloadKeepsSnapshotOnFailure(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Replace([]Template{tpl("a", 1, true)}))

	src := &fakeSource{err: errors.New("bigquery unavailable")}
	r, err := NewRefresher(reg, src, "@every 1h", zerolog.Nop())
	require.NoError(t, err)

	r.reload()
	assert.Equal(t, []string{"a"}, ids(reg.All()))

	src.err = nil
	src.tpls = []Template{tpl("b", 1, true)}
	r.reload()
	assert.Equal(t, []string{"b"}, ids(reg.All()))
}

func TestNewRefresher_InvalidSchedule(t *testing.T) {
	_, err := NewRefresher(NewRegistry(), &fakeSource{}, "not a schedule", zerolog.Nop())
	assert.Error(t, err)
}
