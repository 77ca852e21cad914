// Package session keeps per-session conversation memory: a bounded stack of
// result frames that follow-up questions are resolved against.
package session

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/database"
)

// Keys added to every ordinal item.
const (
	DisplayIndexKey    = "_display_index"
	PrimaryIDKey       = "_primary_id"
	PrimaryIDColumnKey = "_primary_id_column"
)

// ResultFrame is a snapshot of one answered question. Frames are never
// mutated after NewFrame; accessors hand out copies.
type ResultFrame struct {
	ID        string
	UserQuery string
	SQL       string
	Columns   []database.Column
	Rows      []map[string]any
	// OrdinalItems[i] is Rows[i] plus DisplayIndexKey = i+1 and the primary
	// identifier under PrimaryIDKey.
	OrdinalItems     []map[string]any
	Topics           []string
	EntityType       string
	IdentifierColumn string
	Timestamp        time.Time
	// Truncated is set when the result hit the row limit, so more rows may
	// exist than the frame holds.
	Truncated bool
}

// NewFrame builds a frame from an executed result. idColumns lists the
// identifier columns to try, most preferred first; the first one present in
// the result becomes the frame's primary identifier.
func NewFrame(query, sql string, result *database.QueryResult, entity string, idColumns []string, topics []string) *ResultFrame {
	f := &ResultFrame{
		ID:         uuid.NewString(),
		UserQuery:  query,
		SQL:        sql,
		Topics:     append([]string(nil), topics...),
		EntityType: entity,
		Timestamp:  time.Now(),
	}
	if result == nil {
		return f
	}

	f.Columns = append([]database.Column(nil), result.Columns...)
	f.Truncated = len(result.Rows) >= database.MaxRows
	f.IdentifierColumn = primaryColumn(result.ColumnNames(), idColumns)

	f.Rows = make([]map[string]any, len(result.Rows))
	f.OrdinalItems = make([]map[string]any, len(result.Rows))
	for i, row := range result.Rows {
		f.Rows[i] = maps.Clone(row)

		item := maps.Clone(row)
		item[DisplayIndexKey] = i + 1
		if f.IdentifierColumn != "" {
			item[PrimaryIDKey] = row[f.IdentifierColumn]
			item[PrimaryIDColumnKey] = f.IdentifierColumn
		}
		f.OrdinalItems[i] = item
	}
	return f
}

func primaryColumn(columns, preferred []string) string {
	present := make(map[string]string, len(columns))
	for _, c := range columns {
		present[strings.ToLower(c)] = c
	}
	for _, p := range preferred {
		if c, ok := present[strings.ToLower(p)]; ok {
			return c
		}
	}
	for _, c := range columns {
		l := strings.ToLower(c)
		if l == "id" || strings.HasSuffix(l, "_id") || strings.HasSuffix(l, "_no") {
			return c
		}
	}
	if len(columns) > 0 {
		return columns[0]
	}
	return ""
}

// Len returns the number of rows.
func (f *ResultFrame) Len() int {
	return len(f.OrdinalItems)
}

// At returns a copy of ordinal item i (0-based).
func (f *ResultFrame) At(i int) (map[string]any, bool) {
	if i < 0 || i >= len(f.OrdinalItems) {
		return nil, false
	}
	return maps.Clone(f.OrdinalItems[i]), true
}

// Ordinal returns a copy of the item shown as number n (1-based). Negative n
// counts from the end, so -1 is the last item.
func (f *ResultFrame) Ordinal(n int) (map[string]any, bool) {
	if n < 0 {
		return f.At(len(f.OrdinalItems) + n)
	}
	return f.At(n - 1)
}

// ColumnNames returns the result column names in order.
func (f *ResultFrame) ColumnNames() []string {
	names := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the frame carries column, case-insensitively.
func (f *ResultFrame) HasColumn(column string) bool {
	for _, c := range f.Columns {
		if strings.EqualFold(c.Name, column) {
			return true
		}
	}
	return false
}

// Identifiers returns the primary identifier of every row, in display
// order, skipping nulls.
func (f *ResultFrame) Identifiers() []any {
	if f.IdentifierColumn == "" {
		return nil
	}
	ids := make([]any, 0, len(f.OrdinalItems))
	for _, item := range f.OrdinalItems {
		if v := item[PrimaryIDKey]; v != nil {
			ids = append(ids, v)
		}
	}
	return ids
}

// Describe is a one-line summary used when asking the model whether a
// question refers to this frame.
func (f *ResultFrame) Describe() string {
	entity := f.EntityType
	if entity == "" {
		entity = "rows"
	}
	return fmt.Sprintf("%q returned %d %s with columns %s",
		f.UserQuery, f.Len(), entity, strings.Join(f.ColumnNames(), ", "))
}
