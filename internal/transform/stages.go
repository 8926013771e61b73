package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/txnetl/internal/core"
)

// normalizeColumns rewrites each record's field names to canonical columns
// and drops columns the pipeline does not use. When two headers map to the
// same canonical column, the one earlier in the file header wins, matching
// the extractor's repeated-column warning.
func normalizeColumns(_ *Transformer, b *batch, counters map[string]int) error {
	plan := make(map[string]string) // raw header -> canonical
	taken := make(map[string]bool)

	for _, h := range headerOrder(b.records) {
		c := core.CanonicalColumn(h)
		if !core.IsKnownColumn(c) {
			counters["columns_ignored"]++
			continue
		}
		if taken[c] {
			counters["columns_ignored"]++
			continue
		}
		taken[c] = true
		plan[h] = c
		if h != c {
			counters["columns_renamed"]++
		}
	}
	b.hasPaymentDate = taken[core.ColPaymentDate]

	for _, r := range b.records {
		fields := make(map[string]string, len(plan))
		var numeric map[string]bool
		for h, v := range r.fields {
			c, ok := plan[h]
			if !ok {
				continue
			}
			fields[c] = v
			if r.numeric[h] {
				if numeric == nil {
					numeric = make(map[string]bool)
				}
				numeric[c] = true
			}
		}
		r.fields = fields
		r.numeric = numeric
	}
	return nil
}

// headerOrder lists every field name in file header order. Names missing
// from the header follow, sorted.
func headerOrder(records []*record) []string {
	var order []string
	seen := make(map[string]bool)
	for _, r := range records {
		for _, h := range r.columns {
			if h != "" && !seen[h] {
				seen[h] = true
				order = append(order, h)
			}
		}
	}

	var rest []string
	for _, r := range records {
		for h := range r.fields {
			if !seen[h] {
				seen[h] = true
				rest = append(rest, h)
			}
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

// coerceTypes parses the typed fields. Unparseable amounts and dates become
// absent and are dropped by handleNulls.
func coerceTypes(_ *Transformer, b *batch, counters map[string]int) error {
	for _, r := range b.records {
		r.key = core.CleanCell(r.fields[core.ColTransactionID])
		if core.IsBlank(r.key) {
			r.key = ""
		}
		r.customer = core.CleanCell(r.fields[core.ColCustomer])
		r.product = core.CleanCell(r.fields[core.ColProduct])
		r.category = core.CleanCell(r.fields[core.ColCategory])
		r.rawStatus = core.CleanCell(r.fields[core.ColPaymentStatus])

		if raw := r.fields[core.ColAmount]; !core.IsBlank(core.CleanCell(raw)) {
			parse := core.ParseAmount
			if r.numeric[core.ColAmount] {
				parse = core.ParseMachineAmount
			}
			if d, ok := parse(raw); ok {
				r.amount, r.hasAmount = d, true
			} else {
				counters["amount_invalid"]++
			}
		}

		if raw := r.fields[core.ColTransactionDate]; !core.IsBlank(core.CleanCell(raw)) {
			if t, ok := core.ParseDateAt(raw, b.now); ok {
				r.date, r.hasDate = t, true
			} else {
				counters["date_invalid"]++
			}
		}

		if raw := r.fields[core.ColPaymentDate]; b.hasPaymentDate && !core.IsBlank(core.CleanCell(raw)) {
			if t, ok := core.ParseDateAt(raw, b.now); ok {
				r.paymentDate = &t
			} else {
				counters["payment_date_invalid"]++
			}
		}
	}
	return nil
}

// handleNulls fills optional text fields and drops records missing a
// business key, transaction date, or amount.
func handleNulls(_ *Transformer, b *batch, counters map[string]int) error {
	kept := b.records[:0]
	for _, r := range b.records {
		if core.IsBlank(r.customer) {
			r.customer = core.UnknownValue
			counters["customer_filled"]++
		}
		if core.IsBlank(r.category) {
			r.category = core.UnknownValue
			counters["category_filled"]++
		}
		if core.IsBlank(r.product) {
			r.product = ""
		}

		switch {
		case r.key == "":
			counters["dropped_missing_business_key"]++
			b.reject(r, StageHandleNulls, "missing business key")
		case !r.hasDate:
			counters["dropped_missing_transaction_date"]++
			b.reject(r, StageHandleNulls, "missing or invalid transaction date")
		case !r.hasAmount:
			counters["dropped_missing_amount"]++
			b.reject(r, StageHandleNulls, "missing or invalid amount")
		default:
			kept = append(kept, r)
		}
	}
	b.records = kept
	return nil
}

// normalizeStatus maps free-text statuses to canonical values. Unmapped
// values default to PENDING and are reported once per distinct spelling.
func normalizeStatus(t *Transformer, b *batch, counters map[string]int) error {
	unmapped := make(map[string]bool)
	for _, r := range b.records {
		if s, ok := t.statuses.Lookup(r.rawStatus); ok {
			r.status = s
			counters["status_mapped"]++
			continue
		}
		r.status = core.StatusPending
		counters["status_defaulted"]++
		unmapped[r.rawStatus] = true
	}

	if len(unmapped) > 0 {
		values := make([]string, 0, len(unmapped))
		for v := range unmapped {
			values = append(values, fmt.Sprintf("%q", v))
		}
		sort.Strings(values)
		b.warnings = append(b.warnings, fmt.Sprintf(
			"%d records with unmapped payment status defaulted to %s: %s",
			counters["status_defaulted"], core.StatusPending, strings.Join(values, ", ")))
	}
	return nil
}

// deriveFields computes the calendar fields from the transaction date.
func deriveFields(_ *Transformer, b *batch, counters map[string]int) error {
	for _, r := range b.records {
		r.year = r.date.Year()
		r.month = int(r.date.Month())
		r.weekday = core.MondayWeekday(r.date)
		r.quarter = core.Quarter(r.date.Month())
	}
	counters["derived"] = len(b.records)
	return nil
}

// deduplicate keeps the first record for each business key.
func deduplicate(_ *Transformer, b *batch, counters map[string]int) error {
	first := make(map[string]int, len(b.records))
	kept := b.records[:0]
	for _, r := range b.records {
		if line, dup := first[r.key]; dup {
			counters["duplicates_removed"]++
			b.reject(r, StageDeduplicate, fmt.Sprintf("duplicate business key (first seen on line %d)", line))
			continue
		}
		first[r.key] = r.line
		kept = append(kept, r)
	}
	b.records = kept
	return nil
}

// validateQuality drops negative amounts and future-dated records, and
// repairs a payment date that precedes its transaction date.
func validateQuality(_ *Transformer, b *batch, counters map[string]int) error {
	kept := b.records[:0]
	for _, r := range b.records {
		if r.amount.IsNegative() {
			counters["dropped_negative_amount"]++
			b.reject(r, StageValidateQuality, "negative amount "+r.amount.StringFixed(2))
			continue
		}
		if r.date.After(b.now) {
			counters["dropped_future_date"]++
			b.reject(r, StageValidateQuality, "transaction date "+r.date.Format("2006-01-02")+" is in the future")
			continue
		}
		if r.paymentDate != nil && r.paymentDate.Before(r.date) {
			repaired := r.date
			r.paymentDate = &repaired
			counters["payment_date_repaired"]++
		}
		kept = append(kept, r)
	}
	b.records = kept
	return nil
}

// project builds the output transactions.
func project(_ *Transformer, b *batch, counters map[string]int) error {
	b.output = make([]core.Transaction, 0, len(b.records))
	for _, r := range b.records {
		b.output = append(b.output, core.Transaction{
			BusinessKey:     r.key,
			TransactionDate: r.date,
			Customer:        r.customer,
			Product:         r.product,
			Category:        r.category,
			Amount:          r.amount,
			Status:          r.status,
			PaymentDate:     r.paymentDate,
			Year:            r.year,
			Month:           r.month,
			Weekday:         r.weekday,
			Quarter:         r.quarter,
			SourceFile:      b.sourceFile,
			IngestedAt:      b.now,
		})
	}
	counters["projected"] = len(b.output)
	return nil
}
