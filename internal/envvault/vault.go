package envvault

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/slipway-sh/slipway/internal/domain"
)

// ErrEmptyKey rejects pairs whose key trims to nothing.
var ErrEmptyKey = errors.New("environment variable key is required")

// Validate normalizes a sequence of pairs: keys and values are
// trimmed, empty keys are rejected, and duplicate keys collapse to the
// last occurrence while keeping the position of the first.
func Validate(pairs []domain.EnvVar) ([]domain.EnvVar, error) {
	out := make([]domain.EnvVar, 0, len(pairs))
	index := make(map[string]int, len(pairs))
	for _, pair := range pairs {
		key := strings.TrimSpace(pair.Key)
		if key == "" {
			return nil, ErrEmptyKey
		}
		value := strings.TrimSpace(pair.Value)
		if at, ok := index[key]; ok {
			out[at].Value = value
			continue
		}
		index[key] = len(out)
		out = append(out, domain.EnvVar{Key: key, Value: value})
	}
	return out, nil
}

// ParseText reads a line-oriented KEY=VALUE block. Blank lines and
// lines starting with # are skipped. A value wrapped in matching
// quote characters is unwrapped.
func ParseText(content string) ([]domain.EnvVar, error) {
	var pairs []domain.EnvVar
	for lineNo, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("line %d: expected KEY=VALUE, got %q", lineNo+1, line)
		}
		pairs = append(pairs, domain.EnvVar{Key: key, Value: unquote(strings.TrimSpace(value))})
	}
	return Validate(pairs)
}

// ParseJSON reads a flat object of string values. Object keys carry no
// order on the wire, so entries are normalized to lexicographic key
// order.
func ParseJSON(content []byte) ([]domain.EnvVar, error) {
	var raw map[string]string
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parse env json: %w", err)
	}
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]domain.EnvVar, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, domain.EnvVar{Key: key, Value: raw[key]})
	}
	return Validate(pairs)
}

// Serialize renders pairs back to the line-oriented form in stored
// order, one KEY=VALUE per line, no quoting.
func Serialize(pairs []domain.EnvVar) string {
	var b strings.Builder
	for i, pair := range pairs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(pair.Key)
		b.WriteByte('=')
		b.WriteString(pair.Value)
	}
	return b.String()
}

// Mask hides values for display while preserving keys and order.
func Mask(pairs []domain.EnvVar) []domain.EnvVar {
	masked := make([]domain.EnvVar, len(pairs))
	for i, pair := range pairs {
		masked[i] = domain.EnvVar{Key: pair.Key, Value: "••••••"}
	}
	return masked
}

func unquote(value string) string {
	if len(value) < 2 {
		return value
	}
	first, last := value[0], value[len(value)-1]
	if first == last && (first == '"' || first == '\'' || first == '`') {
		return value[1 : len(value)-1]
	}
	return value
}
