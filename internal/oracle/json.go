package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
)

// ErrNoJSON is returned when a reply holds no JSON object at all.
var ErrNoJSON = errors.New("no JSON object in model reply")

// ExtractJSONObject strips Markdown fences and keeps the text from the first
// '{' to the last '}'.
func ExtractJSONObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", ErrNoJSON
	}
	return strings.TrimSpace(s[start : end+1]), nil
}

// decodeGuess parses a model reply into a guess. Structural validation is
// left to the analyzer.
func decodeGuess(raw string) (*analyzer.OracleGuess, error) {
	clean, err := ExtractJSONObject(raw)
	if err != nil {
		return nil, fmt.Errorf("decodeGuess: %w: %s", err, truncate(raw, 200))
	}
	var g analyzer.OracleGuess
	if err := json.Unmarshal([]byte(clean), &g); err != nil {
		return nil, fmt.Errorf("decodeGuess: unmarshal JSON: %w", err)
	}
	g.Raw = raw
	return &g, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
