package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Canonical column names.
const (
	ColTransactionID   = "transaction_id"
	ColTransactionDate = "transaction_date"
	ColCustomer        = "customer"
	ColProduct         = "product"
	ColCategory        = "category"
	ColAmount          = "amount"
	ColPaymentStatus   = "payment_status"
	ColPaymentDate     = "payment_date"
)

// RequiredColumns must be present in every input file.
var RequiredColumns = []string{
	ColTransactionID,
	ColTransactionDate,
	ColCustomer,
	ColProduct,
	ColCategory,
	ColAmount,
	ColPaymentStatus,
}

// OptionalColumns are used when present and warned about when missing.
var OptionalColumns = []string{ColPaymentDate}

// columnAliases maps normalized header spellings to canonical names.
// The Portuguese names are what the legacy export files carry.
var columnAliases = map[string]string{
	"id_transacao":     ColTransactionID,
	"id":               ColTransactionID,
	"transaction":      ColTransactionID,
	"data_transacao":   ColTransactionDate,
	"data":             ColTransactionDate,
	"date":             ColTransactionDate,
	"cliente":          ColCustomer,
	"produto":          ColProduct,
	"categoria":        ColCategory,
	"valor":            ColAmount,
	"status_pagamento": ColPaymentStatus,
	"status":           ColPaymentStatus,
	"data_pagamento":   ColPaymentDate,
	"paid_at":          ColPaymentDate,
}

// NormalizeColumn lower-cases a header, trims it, folds accents, and
// replaces spaces and dashes with underscores.
func NormalizeColumn(name string) string {
	s := strings.ToLower(CleanCell(name))
	s = FoldAccents(s)
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '\t' {
			return '_'
		}
		return r
	}, s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

// CanonicalColumn resolves a header to its canonical column name.
// Headers with no alias are returned normalized but otherwise unchanged.
func CanonicalColumn(name string) string {
	n := NormalizeColumn(name)
	if c, ok := columnAliases[n]; ok {
		return c
	}
	return n
}

// IsKnownColumn reports whether a canonical name is one the pipeline uses.
func IsKnownColumn(canonical string) bool {
	for _, c := range RequiredColumns {
		if c == canonical {
			return true
		}
	}
	for _, c := range OptionalColumns {
		if c == canonical {
			return true
		}
	}
	return false
}

// FoldAccents strips combining marks, so "concluído" becomes "concluido".
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace (including non-breaking spaces)
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// IsBlank reports whether a cell carries no usable value.
func IsBlank(s string) bool {
	switch strings.ToLower(CleanCell(s)) {
	case "", "nan", "null", "none", "nil", "n/a", "-":
		return true
	}
	return false
}
