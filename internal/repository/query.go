package repository

import (
	"encoding/json"
	"fmt"
)

// filterBuilder appends "AND col = $n" clauses to a WHERE 1=1 query and
// keeps the positional args in step.
type filterBuilder struct {
	where string
	args  []interface{}
}

func (f *filterBuilder) add(clause string, arg interface{}) {
	f.args = append(f.args, arg)
	f.where += " AND " + fmt.Sprintf(clause, len(f.args))
}

// page appends LIMIT/OFFSET placeholders and returns the suffix.
func (f *filterBuilder) page(page, limit int) string {
	f.args = append(f.args, limit, (page-1)*limit)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(f.args)-1, len(f.args))
}

// jsonb encodes a map for a NOT NULL jsonb column.
func jsonb(m map[string]interface{}) []byte {
	if m == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
