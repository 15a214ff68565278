package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/column-analyzer/internal/templates"
)

const seed = `
templates:
  - id: kb
    name: 국민은행 거래내역
    bankName: 국민은행
    identifiers: ["거래일자", "입금금액"]
    priority: 10
    columnSchema:
      columns:
        date: { header: 거래일자 }
        deposit: { header: 입금금액 }
        withdrawal: { header: 출금금액 }
        balance: { header: 잔액 }
        memo: { header: 적요 }
  - id: retired
    name: old layout
    identifiers: ["old"]
    priority: 1
    isActive: false
`

const statement = "거래일자,적요,입금금액,출금금액,잔액\n2024-01-02,급여,3000000,,3000000\n2024-01-03,편의점,,4500,2995500\n"

// run executes the CLI in-process against a temp seed file with the oracle
// disabled.
func run(t *testing.T, seedPath string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--oracle", "none", "--templates-file", seedPath, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestAnalyze_LocalCSV(t *testing.T) {
	seedPath := writeFile(t, "templates.yaml", seed)
	csvPath := writeFile(t, "kb.csv", statement)

	out, err := run(t, seedPath, "analyze", csvPath, "--preview", "1")
	require.NoError(t, err)

	var res struct {
		Success    bool   `json:"success"`
		TemplateID string `json:"templateId"`
		MatchLayer string `json:"matchLayer"`
		Preview    []struct {
			Date    string          `json:"date"`
			Deposit decimal.Decimal `json:"deposit"`
			Memo    string          `json:"memo"`
		} `json:"preview"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "kb", res.TemplateID)
	require.Len(t, res.Preview, 1)
	assert.Equal(t, "2024-01-02", res.Preview[0].Date)
	assert.True(t, decimal.NewFromInt(3000000).Equal(res.Preview[0].Deposit))
	assert.Equal(t, "급여", res.Preview[0].Memo)
}

func TestAnalyze_NoMatchPrintsFailure(t *testing.T) {
	seedPath := writeFile(t, "templates.yaml", seed)
	csvPath := writeFile(t, "other.csv", "날짜,금액\n2024-01-02,-500\n")

	out, err := run(t, seedPath, "analyze", csvPath)
	require.ErrorIs(t, err, errAnalysisFailed)
	assert.Contains(t, out, `"success": false`)
	assert.Contains(t, out, "no_match")
}

func TestAnalyze_UnsupportedFile(t *testing.T) {
	seedPath := writeFile(t, "templates.yaml", seed)
	pngPath := writeFile(t, "scan.png", "\x89PNG")

	out, err := run(t, seedPath, "analyze", pngPath)
	require.ErrorIs(t, err, errAnalysisFailed)
	assert.Contains(t, out, "extraction_error")
}

func TestAnalyze_MissingFile(t *testing.T) {
	seedPath := writeFile(t, "templates.yaml", seed)
	_, err := run(t, seedPath, "analyze", filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}

func TestTemplates_List(t *testing.T) {
	seedPath := writeFile(t, "templates.yaml", seed)

	out, err := run(t, seedPath, "templates", "list")
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace([]byte(out)), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "PRIORITY")
	assert.Contains(t, string(lines[1]), "retired")
	assert.Contains(t, string(lines[2]), "kb")
	assert.Contains(t, string(lines[2]), "거래일자, 입금금액")
}

func TestTemplates_ImportMergesIntoFile(t *testing.T) {
	seedPath := writeFile(t, "templates.yaml", seed)
	importPath := writeFile(t, "new.json", `{"templates":[
		{"id":"kb","name":"국민은행 v2","identifiers":["국민은행"],"priority":10},
		{"id":"toss","name":"토스","identifiers":["토스"],"priority":30}
	]}`)

	out, err := run(t, seedPath, "templates", "import", importPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 template(s)")

	data, err := os.ReadFile(seedPath)
	require.NoError(t, err)
	got, err := templates.ParseSeed(data, ".yaml")
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, tpl := range got {
		ids = append(ids, tpl.ID)
	}
	assert.Equal(t, []string{"retired", "kb", "toss"}, ids)
	assert.Equal(t, "국민은행 v2", got[1].Name)
	assert.False(t, got[0].IsActive)
}

func TestTemplates_ImportCreatesMissingFile(t *testing.T) {
	seedPath := filepath.Join(t.TempDir(), "templates.yaml")
	importPath := writeFile(t, "new.yaml", seed)

	_, err := run(t, seedPath, "templates", "import", importPath)
	require.NoError(t, err)

	out, err := run(t, seedPath, "templates", "export")
	require.NoError(t, err)
	got, err := templates.ParseSeed([]byte(out), ".yaml")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestTemplates_ImportRejectsInvalid(t *testing.T) {
	seedPath := writeFile(t, "templates.yaml", seed)
	importPath := writeFile(t, "bad.yaml", "templates:\n  - name: no id\n")

	_, err := run(t, seedPath, "templates", "import", importPath)
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "column-analyzer dev")
}

func TestUnknownCommand(t *testing.T) {
	seedPath := writeFile(t, "templates.yaml", seed)
	_, err := run(t, seedPath, "frobnicate")
	require.Error(t, err)
}
