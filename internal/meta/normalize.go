package meta

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultPrefixTokens are the name prefixes stripped from artists and albums
var DefaultPrefixTokens = []string{"The", "An", "A", "Die", "Das", "Le", "La", "Les"}

// NormalizeName performs basic string cleaning (Unicode NFC, trim, collapse
// internal whitespace)
func NormalizeName(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)
	return collapseWhitespace(s)
}

// NameKey is the comparison key for entity names: normalized and lowercased
func NameKey(s string) string {
	return strings.ToLower(NormalizeName(s))
}

// collapseWhitespace replaces runs of whitespace with a single space and
// trims the ends
func collapseWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// CheckTitle returns the trimmed title, or the file path when the title is
// blank. Stored titles are never empty.
func CheckTitle(title, path string) string {
	if t := NormalizeName(title); t != "" {
		return t
	}
	return path
}

// PrefixMatcher strips leading articles such as "The" from names. Tokens
// are tried longest first and only match when followed by whitespace.
type PrefixMatcher struct {
	tokens [][]rune
}

// NewPrefixMatcher builds a matcher from an ordered token list. Empty and
// duplicate tokens are ignored.
func NewPrefixMatcher(tokens []string) *PrefixMatcher {
	seen := make(map[string]bool)
	m := &PrefixMatcher{}
	for _, t := range tokens {
		t = NormalizeName(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		m.tokens = append(m.tokens, []rune(t))
	}
	// Stable keeps configuration order among tokens of equal length
	sort.SliceStable(m.tokens, func(i, j int) bool {
		return len(m.tokens[i]) > len(m.tokens[j])
	})
	return m
}

// Split separates a configured prefix from name. The prefix is returned as
// it appears in name; rest is the normalized remainder. Names that would be
// empty after stripping are returned unchanged.
func (m *PrefixMatcher) Split(name string) (prefix, rest string) {
	name = NormalizeName(name)
	if m == nil {
		return "", name
	}
	runes := []rune(name)
	for _, tok := range m.tokens {
		n := len(tok)
		if len(runes) <= n+1 || !unicode.IsSpace(runes[n]) {
			continue
		}
		if !strings.EqualFold(string(runes[:n]), string(tok)) {
			continue
		}
		rest = strings.TrimSpace(string(runes[n:]))
		if rest == "" {
			continue
		}
		return string(runes[:n]), rest
	}
	return "", name
}

// Tokens returns the configured tokens in match order
func (m *PrefixMatcher) Tokens() []string {
	out := make([]string, len(m.tokens))
	for i, t := range m.tokens {
		out[i] = string(t)
	}
	return out
}
