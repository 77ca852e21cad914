package sql

import (
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog"
)

// checkAggregates makes every SUM or AVG over a single column numeric: text
// columns with numeric-sounding names are cast, other text is rejected.
func (v *Validator) checkAggregates(sqlText string) (string, error) {
	q := parse(sqlText, v.schema)
	var edits []edit

	for i, t := range q.sig {
		if t.kind != tkIdent || (t.word() != "sum" && t.word() != "avg") || q.at(i+1).kind != tkLParen {
			continue
		}
		open := i + 1
		closing := q.matching(open)
		from := open + 1
		if q.at(from).is("distinct") || q.at(from).is("all") {
			from++
		}
		if q.castsToText(from, closing-1) {
			return "", reject(msgTextAggregate, "cannot aggregate %s cast to text", q.sigText(from, closing-1))
		}
		c, ok := q.singleColumn(from, closing-1)
		if !ok {
			continue
		}
		ref, ok := q.tableFor(c, v.schema)
		if !ok || ref.virtual || ref.qualified == "" {
			continue
		}
		dt, ok := v.schema.Type(ref.qualified + "." + c.col)
		if !ok || dt != catalog.TypeText {
			continue
		}
		if !v.rules.IsNumericName(c.col) {
			return "", reject(msgTextAggregate, "cannot aggregate text column %s.%s", ref.qualified, c.col)
		}
		edits = append(edits, q.sigEdit(from, closing-1, "CAST("+q.sigText(from, closing-1)+" AS NUMERIC)"))
	}
	return q.apply(edits), nil
}

var textTypes = toSet("text", "varchar", "char", "character", "bpchar", "citext", "name")

// castsToText reports whether the outermost operation of the sig range
// [from, to] is a cast to a text type, as in CAST(x AS TEXT) or x::varchar.
func (q *query) castsToText(from, to int) bool {
	if from > to {
		return false
	}
	depth := q.sig[from].depth
	if q.sig[from].is("cast") && q.at(from+1).kind == tkLParen && q.matching(from+1) == to {
		for j := to - 1; j > from+1; j-- {
			if q.sig[j].depth == depth+1 && q.sig[j].is("as") {
				return textTypes[q.at(j+1).word()]
			}
		}
		return false
	}
	for j := to; j > from; j-- {
		if q.sig[j].depth == depth && q.sig[j].kind == tkOp && q.sig[j].text == "::" {
			return textTypes[q.at(j+1).word()]
		}
	}
	return false
}

// singleColumn reports whether the sig range [from, to] is exactly one
// column reference, qualified or not.
func (q *query) singleColumn(from, to int) (colRef, bool) {
	if from > to || (to-from)%2 != 0 {
		return colRef{}, false
	}
	var parts []string
	for i := from; i <= to; i += 2 {
		if !q.sig[i].isName() || (i < to && q.sig[i+1].kind != tkDot) {
			return colRef{}, false
		}
		parts = append(parts, q.sig[i].word())
	}
	if from == to && q.sig[from].kind == tkIdent && keywords[parts[0]] {
		return colRef{}, false
	}
	return colRef{
		qual:  strings.Join(parts[:len(parts)-1], "."),
		col:   parts[len(parts)-1],
		from:  from,
		to:    to,
		block: q.blockOf(from),
	}, true
}

// checkExistence requires every relation to be a known, allowed catalog table
// and every column to exist on a relation the statement reads.
func (v *Validator) checkExistence(sqlText string) (string, error) {
	q := parse(sqlText, v.schema)

	for _, r := range q.refs {
		if r.virtual {
			continue
		}
		if r.qualified == "" {
			return "", reject(msgRephrase, "unknown table %q", r.written)
		}
		if v.rules.IsBanned(r.qualified) {
			return "", reject(msgRephrase, "banned table %q", r.qualified)
		}
	}

	virtual := q.hasVirtual()
	for _, c := range q.columnRefs() {
		if c.col == "*" {
			if c.qual != "" {
				if _, ok := q.refFor(c.qual); !ok {
					return "", reject(msgRephrase, "unknown relation %q", c.qual)
				}
			}
			continue
		}
		if c.qual != "" {
			r, ok := q.refFor(c.qual)
			if !ok {
				return "", reject(msgRephrase, "unknown relation %q for column %q", c.qual, c.col)
			}
			if r.virtual {
				continue
			}
			if !v.schema.HasColumn(r.qualified, c.col) {
				return "", reject(msgRephrase, "column %q does not exist on %s", c.col, r.qualified)
			}
			continue
		}
		if q.outputs[c.col] || virtual {
			continue
		}
		if _, ok := q.tableFor(c, v.schema); !ok {
			return "", reject(msgRephrase, "column %q does not exist on any table in the statement", c.col)
		}
	}
	return sqlText, nil
}

// enforceLimit caps the top-level LIMIT or FETCH at MaxLimit and appends one
// when the statement has neither. Anything but a plain row count of at most
// MaxLimit is replaced whole, so LIMIT (100) and LIMIT 0 + 100 are capped too.
func (v *Validator) enforceLimit(sqlText string) (string, error) {
	q := parse(sqlText, v.schema)
	var edits []edit
	found := false
	capped := strconv.Itoa(MaxLimit)

	for i, t := range q.sig {
		if t.depth != 0 {
			continue
		}
		switch {
		case t.is("limit"):
			found = true
			end := q.countEnd(i+1, limitEnd)
			if end == i+1 {
				edits = append(edits, q.sigEdit(i, i, t.text+" "+capped))
				continue
			}
			if !q.withinLimit(i+1, end-1) {
				edits = append(edits, q.sigEdit(i+1, end-1, capped))
			}
		case t.is("fetch") && (q.at(i+1).is("first") || q.at(i+1).is("next")):
			found = true
			end := q.countEnd(i+2, fetchEnd)
			if end > i+2 && !q.withinLimit(i+2, end-1) {
				edits = append(edits, q.sigEdit(i+2, end-1, capped))
			}
		}
	}

	out := q.apply(edits)
	if !found {
		out += " LIMIT " + capped
	}
	return out, nil
}

var (
	limitEnd = toSet("offset", "fetch", "for", "union", "intersect", "except")
	fetchEnd = toSet("row", "rows", "only", "with")
)

// countEnd returns the sig index just past the row-count expression that
// starts at from: the next top-level word in stop, or the end of the
// statement.
func (q *query) countEnd(from int, stop map[string]bool) int {
	for j := from; j < len(q.sig); j++ {
		t := q.sig[j]
		if t.depth < 0 || (t.depth == 0 && t.kind == tkIdent && stop[t.word()]) {
			return j
		}
	}
	return len(q.sig)
}

// withinLimit reports whether the sig range [from, to] is a single integer
// no larger than MaxLimit.
func (q *query) withinLimit(from, to int) bool {
	if from != to || q.sig[from].kind != tkNumber {
		return false
	}
	rows, err := strconv.Atoi(q.sig[from].text)
	return err == nil && rows <= MaxLimit
}

// guardWrites admits only SELECT statements, optionally behind CTEs that do
// not modify data, and rejects functions with side effects.
func (v *Validator) guardWrites(sqlText string) (string, error) {
	q := parse(sqlText, v.schema)
	if len(q.sig) == 0 {
		return "", rejectWrite("empty statement")
	}

	first := 0
	for first < len(q.sig) && q.sig[first].kind == tkLParen {
		first++
	}
	if lead := q.at(first); !lead.is("select") && !lead.is("with") {
		return "", rejectWrite("statement starts with %q", lead.text)
	}

	for i, t := range q.sig {
		if t.kind != tkIdent {
			continue
		}
		w := t.word()
		switch {
		case i == 0 && writeKeywords[w], i > 0 && q.sig[i-1].kind == tkLParen && dmlKeywords[w]:
			return "", rejectWrite("data-modifying %s", strings.ToUpper(w))
		case w == "returning", w == "into":
			return "", rejectWrite("%s clause", strings.ToUpper(w))
		case w == "for" && (q.at(i+1).is("update") || q.at(i+1).is("share") || q.at(i+1).is("no") || q.at(i+1).is("key")):
			return "", rejectWrite("row locking clause")
		case deniedFunctions[w] && q.at(i+1).kind == tkLParen:
			return "", rejectWrite("function %s is not allowed", w)
		}
	}
	return sqlText, nil
}
