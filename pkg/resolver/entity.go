package resolver

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/session"
)

// InferEntity returns the first entity type whose column signature is fully
// present in columns. Entity types are tried in rule order, most specific
// first, so a complaint frame that also carries cust_id is not taken for a
// customer list.
func InferEntity(rs *rules.RuleSet, columns []string) (rules.EntityType, bool) {
	for _, et := range rs.EntityTypes {
		if et.MatchesColumns(columns) {
			return et, true
		}
	}
	return rules.EntityType{}, false
}

// target is the set of rows a follow-up applies to.
type target struct {
	entity rules.EntityType
	// column is the frame column holding the identifiers; expr filters it in
	// the entity's detail query.
	column string
	expr   string
	ids    []any
	total  int
}

func (t target) truncated() bool { return t.total > len(t.ids) }

// resolveTarget infers the frame's entity and collects its identifiers in
// identifier priority order, keeping at most limit of them.
func resolveTarget(rs *rules.RuleSet, f *session.ResultFrame, limit int) (target, bool) {
	et, ok := InferEntity(rs, f.ColumnNames())
	if !ok && f.EntityType != "" {
		et, ok = rs.Entity(f.EntityType)
	}
	if !ok {
		return target{}, false
	}

	column, expr := identifierFor(rs, et, f)
	if column == "" {
		return target{}, false
	}

	var ids []any
	for _, row := range f.Rows {
		if v := row[column]; v != nil {
			ids = append(ids, v)
		}
	}
	t := target{entity: et, column: column, expr: expr, total: len(ids)}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	t.ids = ids
	return t, len(ids) > 0
}

func identifierFor(rs *rules.RuleSet, et rules.EntityType, f *session.ResultFrame) (string, string) {
	columns := f.ColumnNames()
	present := func(name string) (string, bool) {
		for _, c := range columns {
			if strings.EqualFold(c, name) {
				return c, true
			}
		}
		return "", false
	}

	for _, name := range rs.IdentifierPriority {
		expr, ok := et.IdentifierExpr(name)
		if !ok {
			continue
		}
		if col, ok := present(name); ok {
			return col, expr
		}
	}
	for _, id := range et.Identifiers {
		if col, ok := present(id.Column); ok {
			return col, id.Expr
		}
	}
	return "", ""
}

// truncationNote is added to answers built from a capped identifier set.
func truncationNote(kept, total int) string {
	return fmt.Sprintf("Only the first %d of the %d earlier results were considered.", kept, total)
}
