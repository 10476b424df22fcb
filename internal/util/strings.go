// Package util provides small shared helpers that don't fit into
// domain-specific packages.
package util

import "strings"

// SafeTruncate truncates s to at most maxLen bytes without panicking. It is
// used when logging sensitive values like authorization codes, where only
// a prefix should ever appear in logs.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL normalizes a URL for comparison by removing trailing slashes.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
