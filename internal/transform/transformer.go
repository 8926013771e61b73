// Package transform cleans extracted records into canonical transactions.
//
// The transformer is a pure function of its input and clock: it runs a fixed
// sequence of stages, each of which may drop or repair records and reports
// named counters. Business-rule drops are expected outcomes; only an
// unexpected error inside a stage fails the transformation.
package transform

import (
	"fmt"
	"time"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/shopspring/decimal"
)

// Config configures a Transformer.
type Config struct {
	// Statuses is the synonym table; nil uses DefaultStatusTable.
	Statuses *StatusTable
	// Now returns the processing time used for future-date checks.
	Now func() time.Time
}

// Transformer runs the cleaning stages.
type Transformer struct {
	statuses *StatusTable
	now      func() time.Time
}

// New creates a Transformer.
func New(cfg Config) *Transformer {
	t := &Transformer{statuses: cfg.Statuses, now: cfg.Now}
	if t.statuses == nil {
		t.statuses = DefaultStatusTable()
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// record is the working form of one row while it moves through the stages.
type record struct {
	line    int
	fields  map[string]string // canonical column -> raw value
	columns []string          // header in file order
	numeric map[string]bool   // canonical columns read from numeric cells

	key         string
	date        time.Time
	hasDate     bool
	customer    string
	product     string
	category    string
	amount      decimal.Decimal
	hasAmount   bool
	rawStatus   string
	status      core.PaymentStatus
	paymentDate *time.Time

	year, month, weekday, quarter int
}

// batch is the state shared by the stages of one Transform call.
type batch struct {
	records        []*record
	output         []core.Transaction
	sourceFile     string
	now            time.Time
	hasPaymentDate bool
	warnings       []string
	rejections     []core.Rejection
}

func (b *batch) reject(r *record, stage, reason string) {
	b.rejections = append(b.rejections, core.Rejection{
		Line:        r.line,
		BusinessKey: r.key,
		Stage:       stage,
		Reason:      reason,
	})
}

// stage is one step of the pipeline. apply replaces b.records with the
// records that survive and increments counters.
type stage struct {
	name  string
	apply func(t *Transformer, b *batch, counters map[string]int) error
}

// Stage names, in execution order.
const (
	StageNormalizeColumns = "normalize_columns"
	StageCoerceTypes      = "coerce_types"
	StageHandleNulls      = "handle_nulls"
	StageNormalizeStatus  = "normalize_status"
	StageDeriveFields     = "derive_fields"
	StageDeduplicate      = "deduplicate"
	StageValidateQuality  = "validate_quality"
	StageProject          = "project"
)

var stages = []stage{
	{StageNormalizeColumns, normalizeColumns},
	{StageCoerceTypes, coerceTypes},
	{StageHandleNulls, handleNulls},
	{StageNormalizeStatus, normalizeStatus},
	{StageDeriveFields, deriveFields},
	{StageDeduplicate, deduplicate},
	{StageValidateQuality, validateQuality},
	{StageProject, project},
}

// Transform cleans records extracted from sourceFile.
func (t *Transformer) Transform(records []core.RawRecord, sourceFile string) core.TransformationResult {
	res := core.TransformationResult{InputCount: len(records)}

	now := t.now()
	b := &batch{
		records:    make([]*record, 0, len(records)),
		sourceFile: sourceFile,
		now:        time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second(), now.Nanosecond(), time.UTC),
	}
	for _, raw := range records {
		b.records = append(b.records, &record{
			line:    raw.Line,
			fields:  raw.Fields,
			columns: raw.Columns,
			numeric: raw.Numeric,
		})
	}

	for _, s := range stages {
		in := len(b.records)
		counters := make(map[string]int)
		err := runStage(t, s, b, counters)
		stats := core.StageStats{Stage: s.name, In: in, Out: len(b.records), Counters: counters}
		if s.name == StageProject {
			stats.Out = len(b.output)
		}
		res.StageStats = append(res.StageStats, stats)
		if err != nil {
			res.Err = fmt.Errorf("transform stage %s: %w", s.name, err)
			res.Warnings = b.warnings
			return res
		}

		res.DuplicatesRemoved += counters["duplicates_removed"]
		res.RepairedCount += counters["payment_date_repaired"]
	}

	res.Success = true
	res.Records = b.output
	res.OutputCount = len(b.output)
	res.RemovedCount = res.InputCount - res.OutputCount
	res.Warnings = b.warnings
	res.Rejections = b.rejections
	return res
}

// runStage applies one stage and turns a panic into a stage error.
func runStage(t *Transformer, s stage, b *batch, counters map[string]int) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unexpected: %v", p)
		}
	}()
	return s.apply(t, b, counters)
}
