package http

import (
	"strconv"
	"strings"

	"budgetbuddy/internal/core"
	"budgetbuddy/internal/guard"
)

// formatMoney formats cents as a dollar amount with thousands separators
// (e.g., "$1,234.56").
func formatMoney(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	whole := strconv.FormatInt(cents/100, 10)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	frac := strconv.FormatInt(cents%100, 10)
	if len(frac) == 1 {
		frac = "0" + frac
	}
	s := "$" + b.String() + "." + frac
	if neg {
		return "-" + s
	}
	return s
}

// categoryName resolves the category shown for a transaction.
func categoryName(categories []core.Category, t core.Transaction) string {
	if t.Category != "" {
		return t.Category
	}
	for _, c := range categories {
		if c.ID == t.CategoryID {
			return c.Name
		}
	}
	return "Uncategorized"
}

// safeNext returns next when it is a local path to a known page, fallback
// otherwise, so the login form cannot be used as an open redirect.
func safeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.ContainsAny(next, "\\\r\n") {
		return fallback
	}
	if route, ok := guard.Route(next); !ok || route == "/logout" {
		return fallback
	}
	return next
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}
