package util

import (
	"path/filepath"
	"strings"
)

// NormalizePath cleans a path and, when the comparison should be
// case-insensitive, lowercases it. Catalog lookups always use
// caseSensitive=false so remounted trees with different casing still match.
func NormalizePath(path string, caseSensitive bool) string {
	cleaned := filepath.Clean(path)
	if caseSensitive {
		return cleaned
	}
	return strings.ToLower(cleaned)
}

// PathsEqual compares two paths under the given case policy
func PathsEqual(path1, path2 string, caseSensitive bool) bool {
	return NormalizePath(path1, caseSensitive) == NormalizePath(path2, caseSensitive)
}

// TrimRoot strips surrounding whitespace and trailing path separators from a
// catalog root, keeping a bare "/" intact.
func TrimRoot(root string) string {
	root = strings.TrimSpace(root)
	trimmed := strings.TrimRight(root, `/\`)
	if trimmed == "" && root != "" {
		return root[:1]
	}
	return trimmed
}
