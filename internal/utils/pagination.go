// Package utils provides small helpers that carry no domain knowledge,
// currently query-string pagination parsing for the list endpoints.
package utils

import "strconv"

// AtoiDefault converts s with strconv.Atoi and returns def when s is empty
// or not a valid integer. Surrounding whitespace is not trimmed.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("", 10)  // 10
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParsePage reads the page and page_size query values. Missing, malformed or
// non-positive values fall back to defPage and defSize; upper bounds are left
// to the service.
func ParsePage(page, size string, defPage, defSize int) (int, int) {
	p := AtoiDefault(page, defPage)
	if p < 1 {
		p = defPage
	}
	n := AtoiDefault(size, defSize)
	if n < 1 {
		n = defSize
	}
	return p, n
}
