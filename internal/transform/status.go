package transform

import (
	"fmt"
	"os"
	"strings"

	"github.com/JonMunkholm/txnetl/internal/core"
	"gopkg.in/yaml.v3"
)

// StatusSynonym maps one free-text spelling to a canonical status.
type StatusSynonym struct {
	Synonym string
	Status  core.PaymentStatus
}

// defaultSynonyms is the built-in table. Order matters: the first entry whose
// synonym equals the folded input wins.
var defaultSynonyms = []StatusSynonym{
	{"paid", core.StatusPaid},
	{"pago", core.StatusPaid},
	{"paga", core.StatusPaid},
	{"pg", core.StatusPaid},
	{"quitado", core.StatusPaid},
	{"liquidado", core.StatusPaid},
	{"concluido", core.StatusPaid},
	{"completed", core.StatusPaid},
	{"aprovado", core.StatusPaid},

	{"pending", core.StatusPending},
	{"pendente", core.StatusPending},
	{"aguardando", core.StatusPending},
	{"aguardando pagamento", core.StatusPending},
	{"em aberto", core.StatusPending},
	{"aberto", core.StatusPending},
	{"waiting", core.StatusPending},

	{"cancelled", core.StatusCancelled},
	{"canceled", core.StatusCancelled},
	{"cancelado", core.StatusCancelled},
	{"cancelada", core.StatusCancelled},
	{"estornado", core.StatusCancelled},
	{"refunded", core.StatusCancelled},
	{"devolvido", core.StatusCancelled},

	{"late", core.StatusLate},
	{"atrasado", core.StatusLate},
	{"em atraso", core.StatusLate},
	{"vencido", core.StatusLate},
	{"overdue", core.StatusLate},
}

// StatusTable is an ordered, case- and accent-insensitive synonym table.
type StatusTable struct {
	entries []StatusSynonym
}

// DefaultStatusTable returns the built-in synonym table.
func DefaultStatusTable() *StatusTable {
	return NewStatusTable(defaultSynonyms)
}

// NewStatusTable builds a table from synonyms in lookup order.
func NewStatusTable(synonyms []StatusSynonym) *StatusTable {
	t := &StatusTable{entries: make([]StatusSynonym, 0, len(synonyms))}
	for _, s := range synonyms {
		t.entries = append(t.entries, StatusSynonym{Synonym: foldStatus(s.Synonym), Status: s.Status})
	}
	return t
}

// With returns a new table with extra synonyms appended after the existing
// entries, so built-in spellings keep precedence.
func (t *StatusTable) With(extra []StatusSynonym) *StatusTable {
	merged := make([]StatusSynonym, 0, len(t.entries)+len(extra))
	merged = append(merged, t.entries...)
	merged = append(merged, extra...)
	return NewStatusTable(merged)
}

// Lookup maps free text to a canonical status.
func (t *StatusTable) Lookup(raw string) (core.PaymentStatus, bool) {
	key := foldStatus(raw)
	if key == "" {
		return "", false
	}
	for _, e := range t.entries {
		if e.Synonym == key {
			return e.Status, true
		}
	}
	return "", false
}

// Len returns the number of entries.
func (t *StatusTable) Len() int {
	return len(t.entries)
}

func foldStatus(s string) string {
	s = strings.ToLower(core.CleanCell(s))
	s = core.FoldAccents(s)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// statusOrder fixes the order in which YAML groups are appended.
var statusOrder = []core.PaymentStatus{core.StatusPaid, core.StatusPending, core.StatusCancelled, core.StatusLate}

// LoadStatusSynonyms reads extra synonyms from a YAML file shaped as
//
//	PAID: [liquidado, "pago total"]
//	LATE: [inadimplente]
func LoadStatusSynonyms(path string) ([]StatusSynonym, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read status synonyms: %w", err)
	}

	var groups map[string][]string
	if err := yaml.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("parse status synonyms %s: %w", path, err)
	}

	byStatus := make(map[core.PaymentStatus][]string, len(groups))
	for name, values := range groups {
		status := core.PaymentStatus(strings.ToUpper(strings.TrimSpace(name)))
		if !status.Valid() {
			return nil, fmt.Errorf("parse status synonyms %s: unknown status %q", path, name)
		}
		byStatus[status] = append(byStatus[status], values...)
	}

	var out []StatusSynonym
	for _, status := range statusOrder {
		for _, v := range byStatus[status] {
			out = append(out, StatusSynonym{Synonym: v, Status: status})
		}
	}
	return out, nil
}
