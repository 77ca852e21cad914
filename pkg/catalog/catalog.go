// Package catalog holds the schema metadata of the fleet database: tables,
// columns, type classes, primary and foreign keys. It is built once at
// startup and can be refreshed without a restart.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/database"
)

// Querier runs introspection statements. *database.Pool implements it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (*database.QueryResult, error)
}

// Column is one table column.
type Column struct {
	Name       string   `json:"name"`
	PGType     string   `json:"pg_type"`
	Type       DataType `json:"type"`
	Nullable   bool     `json:"nullable"`
	PrimaryKey bool     `json:"primary_key"`
}

// AggregatableNumeric reports whether SUM/AVG may be applied directly.
func (c Column) AggregatableNumeric() bool {
	return c.Type.Numeric()
}

// ForeignKey is a single-column reference to another table.
type ForeignKey struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// Table is a user table with its columns in ordinal order.
type Table struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// QualifiedName returns schema.table.
func (t Table) QualifiedName() string {
	return t.Schema + "." + t.Name
}

// Column looks up a column by name, case-insensitively.
func (t Table) Column(name string) (Column, bool) {
	n := strings.ToLower(strings.Trim(name, `"`))
	for _, c := range t.Columns {
		if c.Name == n {
			return c, true
		}
	}
	return Column{}, false
}

type snapshot struct {
	tables   []Table
	byName   map[string]int
	byBare   map[string][]string
	loadedAt time.Time
}

func newSnapshot(tables []Table) *snapshot {
	sorted := make([]Table, len(tables))
	copy(sorted, tables)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].QualifiedName() < sorted[j].QualifiedName() })

	s := &snapshot{
		tables:   sorted,
		byName:   make(map[string]int, len(sorted)),
		byBare:   make(map[string][]string, len(sorted)),
		loadedAt: time.Now(),
	}
	for i := range sorted {
		t := &sorted[i]
		t.Schema = strings.ToLower(t.Schema)
		t.Name = strings.ToLower(t.Name)
		t.Columns = append([]Column(nil), t.Columns...)
		for j := range t.Columns {
			t.Columns[j].Name = strings.ToLower(t.Columns[j].Name)
			if t.Columns[j].Type == TypeOther {
				t.Columns[j].Type = ClassifyType(t.Columns[j].PGType)
			}
		}
		q := t.QualifiedName()
		s.byName[q] = i
		s.byBare[t.Name] = append(s.byBare[t.Name], q)
	}
	return s
}

// Catalog is the shared, read-only schema view. Refresh swaps the whole
// snapshot so readers never see a partially loaded catalog.
type Catalog struct {
	q       Querier
	schemas []string
	snap    atomic.Pointer[snapshot]
}

// DefaultSchemas is used when no schema list is configured.
var DefaultSchemas = []string{"public"}

// Load introspects the given schemas. Any failure is SchemaUnavailable.
func Load(ctx context.Context, q Querier, schemas []string) (*Catalog, error) {
	if len(schemas) == 0 {
		schemas = DefaultSchemas
	}
	c := &Catalog{q: q, schemas: schemas}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// New builds a static catalog, used for tests and offline tooling.
func New(tables []Table) *Catalog {
	c := &Catalog{}
	c.snap.Store(newSnapshot(tables))
	return c
}

// Refresh re-reads information_schema and swaps the snapshot.
func (c *Catalog) Refresh(ctx context.Context) error {
	if c.q == nil {
		return apperrors.Wrap(apperrors.KindSchemaUnavailable, "", errors.New("catalog has no database connection"))
	}
	tables, err := introspect(ctx, c.q, c.schemas)
	if err != nil {
		return apperrors.Wrap(apperrors.KindSchemaUnavailable, "", fmt.Errorf("load schema catalog: %w", err))
	}
	if len(tables) == 0 {
		return apperrors.Wrap(apperrors.KindSchemaUnavailable, "",
			fmt.Errorf("no tables found in schemas %s", strings.Join(c.schemas, ", ")))
	}
	c.snap.Store(newSnapshot(tables))
	return nil
}

func (c *Catalog) current() *snapshot {
	if s := c.snap.Load(); s != nil {
		return s
	}
	return newSnapshot(nil)
}

// LoadedAt is when the current snapshot was built.
func (c *Catalog) LoadedAt() time.Time {
	return c.current().loadedAt
}

// Tables returns every table, ordered by qualified name.
func (c *Catalog) Tables() []Table {
	s := c.current()
	out := make([]Table, len(s.tables))
	copy(out, s.tables)
	return out
}

// TableNames returns every qualified table name.
func (c *Catalog) TableNames() []string {
	s := c.current()
	out := make([]string, len(s.tables))
	for i, t := range s.tables {
		out[i] = t.QualifiedName()
	}
	return out
}

// Resolve maps a possibly unqualified, possibly quoted table name onto its
// qualified name. A bare name that exists in several schemas is ambiguous
// and only resolves when one of them is the first configured schema.
func (c *Catalog) Resolve(name string) (string, bool) {
	s := c.current()
	n := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), `"`, ""))
	if _, ok := s.byName[n]; ok {
		return n, true
	}
	if strings.Contains(n, ".") {
		return "", false
	}
	cands := s.byBare[n]
	switch len(cands) {
	case 0:
		return "", false
	case 1:
		return cands[0], true
	}
	for _, schema := range c.schemas {
		q := schema + "." + n
		if _, ok := s.byName[q]; ok {
			return q, true
		}
	}
	return "", false
}

// Table looks up a table by qualified or bare name.
func (c *Catalog) Table(name string) (Table, bool) {
	q, ok := c.Resolve(name)
	if !ok {
		return Table{}, false
	}
	s := c.current()
	return s.tables[s.byName[q]], true
}

// Columns returns the columns of table, nil when unknown.
func (c *Catalog) Columns(table string) []Column {
	t, ok := c.Table(table)
	if !ok {
		return nil
	}
	return t.Columns
}

// HasColumn reports whether table has column.
func (c *Catalog) HasColumn(table, column string) bool {
	t, ok := c.Table(table)
	if !ok {
		return false
	}
	_, ok = t.Column(column)
	return ok
}

// Type returns the type class of a column path: table.column or
// schema.table.column.
func (c *Catalog) Type(columnPath string) (DataType, bool) {
	i := strings.LastIndex(columnPath, ".")
	if i <= 0 {
		return TypeOther, false
	}
	t, ok := c.Table(columnPath[:i])
	if !ok {
		return TypeOther, false
	}
	col, ok := t.Column(columnPath[i+1:])
	if !ok {
		return TypeOther, false
	}
	return col.Type, true
}

// IsNumeric reports whether the column at columnPath is integer- or float-like.
func (c *Catalog) IsNumeric(columnPath string) bool {
	dt, ok := c.Type(columnPath)
	return ok && dt.Numeric()
}

// PK returns the primary key columns of table.
func (c *Catalog) PK(table string) []string {
	t, _ := c.Table(table)
	return t.PrimaryKey
}

// FKs returns the foreign keys declared on table.
func (c *Catalog) FKs(table string) []ForeignKey {
	t, _ := c.Table(table)
	return t.ForeignKeys
}

// Describe renders a table for a prompt:
// schema.table(col [TEXT], col [NUMERIC], ...).
func (c *Catalog) Describe(table string) string {
	t, ok := c.Table(table)
	if !ok {
		return ""
	}
	var b strings.Builder
	b.WriteString(t.QualifiedName())
	b.WriteByte('(')
	for i, col := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col.Name)
		b.WriteString(" [")
		b.WriteString(col.Type.Label())
		b.WriteByte(']')
	}
	b.WriteByte(')')
	return b.String()
}
