package sql

import (
	"strings"
	"unicode"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

// substitute replaces every identifier naming an entry of list with its
// replacement. Schema qualifiers are separate tokens and survive.
func (v *Validator) substitute(list []rules.BannedTable) func(string) (string, error) {
	repl := make(map[string]string, len(list))
	for _, b := range list {
		repl[strings.ToLower(b.Name)] = b.Replacement
	}
	return func(sqlText string) (string, error) {
		toks := lex(sqlText)
		for i, t := range toks {
			if !t.isName() {
				continue
			}
			if r, ok := repl[t.word()]; ok {
				toks[i].text = r
			}
		}
		return join(toks), nil
	}
}

// aggregateFuncs may wrap a converted column without changing its unit.
var aggregateFuncs = toSet("sum", "avg", "min", "max")

// conversionTarget is a column reference that needs a mandated conversion.
type conversionTarget struct {
	conv rules.Conversion
	// unit is the sig range to wrap: the column itself, or the aggregate
	// call directly around it.
	unit [2]int
	// operand is set when unit feeds arithmetic or a cast. The whole
	// select item is then replaced.
	operand bool
	// value is what the conversion is rendered around when the whole item
	// is replaced.
	value string
}

// maxConversionHops bounds how far a column is followed through CTEs and
// derived tables.
const maxConversionHops = 4

// conversionFor returns the conversion mandated for c, following columns
// read from a CTE or derived table back to the item that produces them.
func (v *Validator) conversionFor(q *query, c colRef, hops int) (rules.Conversion, bool) {
	if c.col == "*" || c.block < 0 || hops > maxConversionHops {
		return rules.Conversion{}, false
	}
	var candidates []tableRef
	if c.qual != "" {
		r, ok := q.refFor(c.qual)
		if !ok {
			return rules.Conversion{}, false
		}
		candidates = append(candidates, r)
	} else {
		for _, ri := range q.blocks[c.block].refs {
			candidates = append(candidates, q.refs[ri])
		}
	}

	for _, r := range candidates {
		if r.virtual {
			if conv, ok := v.producedConversion(q, r, c.col, hops+1); ok {
				return conv, true
			}
			continue
		}
		if r.qualified == "" || !v.schema.HasColumn(r.qualified, c.col) {
			continue
		}
		for _, conv := range v.rules.ConversionsFor(r.qualified) {
			if conv.Column == c.col {
				return conv, true
			}
		}
		return rules.Conversion{}, false
	}
	return rules.Conversion{}, false
}

// producedConversion finds the item of a CTE or derived table that outputs
// col and returns the conversion its raw column needs. Only items that pass
// a column through unchanged, or through a unit-preserving aggregate, count.
func (v *Validator) producedConversion(q *query, r tableRef, col string, hops int) (rules.Conversion, bool) {
	body, ok := q.body(r)
	if !ok {
		return rules.Conversion{}, false
	}
	for _, b := range q.blocks {
		if b.sel <= body[0] || b.sel >= body[1] || b.depth != q.sig[body[0]].depth+1 {
			continue
		}
		for _, item := range b.items {
			exprEnd := item[1] - 1
			alias, at := q.itemAlias(item)
			if at >= 0 {
				exprEnd = at - 1
			}
			from, to := item[0], exprEnd
			if fn := q.at(from); fn.kind == tkIdent && aggregateFuncs[fn.word()] &&
				q.at(from+1).kind == tkLParen && q.matching(from+1) == to {
				from, to = from+2, to-1
			}
			inner, ok := q.singleColumn(from, to)
			if !ok {
				continue
			}
			if alias == col || (alias == "" && inner.col == col) {
				return v.conversionFor(q, inner, hops)
			}
		}
	}
	return rules.Conversion{}, false
}

// aggregateAround returns the sig range of agg(c) when c is the sole
// argument of a unit-preserving aggregate.
func (q *query) aggregateAround(c colRef) ([2]int, bool) {
	open, closing := c.from-1, c.to+1
	if q.at(open).kind != tkLParen || q.at(closing).kind != tkRParen {
		return [2]int{}, false
	}
	fn := q.at(open - 1)
	if fn.kind != tkIdent || !aggregateFuncs[fn.word()] {
		return [2]int{}, false
	}
	return [2]int{open - 1, closing}, true
}

// enclosingAggregate returns the name of the unit-preserving aggregate
// whose argument list directly contains c.
func (q *query) enclosingAggregate(c colRef) (string, bool) {
	d := q.sig[c.from].depth
	for j := c.from - 1; j > 0; j-- {
		if q.sig[j].depth < d-1 {
			break
		}
		if q.sig[j].kind == tkLParen && q.sig[j].depth == d-1 {
			fn := q.sig[j-1]
			if fn.kind == tkIdent && aggregateFuncs[fn.word()] {
				return fn.text, true
			}
			break
		}
	}
	return "", false
}

var arithmeticOps = toSet("+", "-", "*", "/", "%", "^", "::")

// operand reports whether the sig range unit is an operand of arithmetic or
// a cast.
func (q *query) operand(unit [2]int) bool {
	before, after := q.at(unit[0]-1), q.at(unit[1]+1)
	if before.kind == tkOp && arithmeticOps[before.text] || after.kind == tkOp && arithmeticOps[after.text] {
		return true
	}
	return before.kind == tkLParen && q.at(unit[0]-2).is("cast")
}

// covered reports whether the sig range unit already sits in a placeholder
// position of conv's rendered expression.
func (q *query) covered(conv rules.Conversion, unit [2]int) bool {
	inner := q.sigText(unit[0], unit[1])
	rendered := significant(lex(conv.Render(inner)))
	unitLen := unit[1] - unit[0] + 1

	const sentinel = "fleetql_placeholder"
	marks := significant(lex(conv.Render(sentinel)))
	seen := 0
	for k, m := range marks {
		if m.text != sentinel {
			continue
		}
		offset := k + seen*(unitLen-1)
		seen++
		start := unit[0] - offset
		if start < 0 || start+len(rendered) > len(q.sig) {
			continue
		}
		match := true
		for j, r := range rendered {
			if !strings.EqualFold(q.sig[start+j].text, r.text) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// target decides how c should be wrapped, or reports that it is already
// converted.
func (v *Validator) target(q *query, c colRef) (conversionTarget, bool) {
	conv, ok := v.conversionFor(q, c, 0)
	if !ok {
		return conversionTarget{}, false
	}
	unit := [2]int{c.from, c.to}
	if q.covered(conv, unit) {
		return conversionTarget{}, false
	}
	if agg, ok := q.aggregateAround(c); ok {
		if q.covered(conv, agg) {
			return conversionTarget{}, false
		}
		unit = agg
	}
	t := conversionTarget{conv: conv, unit: unit, value: q.sigText(unit[0], unit[1])}
	if q.operand(unit) {
		t.operand = true
		if fn, ok := q.enclosingAggregate(c); ok && unit == [2]int{c.from, c.to} {
			t.value = fn + "(" + t.value + ")"
		}
	}
	return t, true
}

// enforceConversions wraps raw converted columns in the outermost select
// lists. Inner queries keep raw values so outer references and comparisons
// still see the column they name.
func (v *Validator) enforceConversions(sqlText string) (string, error) {
	q := parse(sqlText, v.schema)
	cols := q.columnRefs()
	var edits []edit

	for bi, b := range q.blocks {
		if b.depth != 0 || !v.blockHasConversions(q, b) {
			continue
		}
		for _, item := range b.items {
			exprEnd := item[1] - 1
			if _, at := q.itemAlias(item); at >= 0 {
				exprEnd = at - 1
			}

			if text, ok := v.expandStar(q, b, item); ok {
				edits = append(edits, q.sigEdit(item[0], item[1]-1, text))
				continue
			}

			var inItem []conversionTarget
			replace := false
			for _, c := range cols {
				if c.block != bi || c.from < item[0] || c.to > exprEnd {
					continue
				}
				if t, ok := v.target(q, c); ok {
					inItem = append(inItem, t)
					replace = replace || t.operand
				}
			}
			if len(inItem) == 0 {
				continue
			}

			// The whole item is the column (or agg of it), or the column is
			// already being scaled or cast: replace the item with the
			// mandated expression and alias.
			if replace || len(inItem) == 1 && inItem[0].unit == [2]int{item[0], exprEnd} {
				edits = append(edits, q.sigEdit(item[0], item[1]-1, renderItems(inItem)))
				continue
			}
			for _, t := range inItem {
				edits = append(edits, q.sigEdit(t.unit[0], t.unit[1], t.conv.Render(t.value)))
			}
		}
	}
	return q.apply(edits), nil
}

// renderItems renders each distinct conversion of targets as its own select
// item.
func renderItems(targets []conversionTarget) string {
	seen := make(map[string]bool, len(targets))
	var parts []string
	for _, t := range targets {
		if seen[t.conv.Alias] {
			continue
		}
		seen[t.conv.Alias] = true
		parts = append(parts, t.conv.Render(t.value)+" AS "+t.conv.Alias)
	}
	return strings.Join(parts, ", ")
}

func (v *Validator) blockHasConversions(q *query, b selectBlock) bool {
	for _, ri := range b.refs {
		r := q.refs[ri]
		if r.virtual || r.qualified != "" && len(v.rules.ConversionsFor(r.qualified)) > 0 {
			return true
		}
	}
	return false
}

// expandStar rewrites * or q.* into an explicit column list when a covered
// relation has converted columns.
func (v *Validator) expandStar(q *query, b selectBlock, item [2]int) (string, bool) {
	var refs []tableRef
	switch {
	case item[1]-item[0] == 1 && q.sig[item[0]].kind == tkOp && q.sig[item[0]].text == "*":
		for _, ri := range b.refs {
			refs = append(refs, q.refs[ri])
		}
	case item[1]-item[0] == 3 && q.sig[item[0]].isName() && q.sig[item[0]+1].kind == tkDot &&
		q.sig[item[0]+2].kind == tkOp && q.sig[item[0]+2].text == "*":
		r, ok := q.refFor(q.sig[item[0]].word())
		if !ok {
			return "", false
		}
		refs = append(refs, r)
	default:
		return "", false
	}

	needed := false
	for _, r := range refs {
		if !r.virtual && r.qualified != "" && len(v.rules.ConversionsFor(r.qualified)) > 0 {
			needed = true
		}
	}
	if !needed {
		return "", false
	}

	var parts []string
	for _, r := range refs {
		if r.virtual || r.qualified == "" {
			if r.alias == "" {
				return "", false
			}
			parts = append(parts, r.alias+".*")
			continue
		}
		convs := v.rules.ConversionsFor(r.qualified)
		for _, col := range v.schema.Columns(r.qualified) {
			ref := r.qualifier() + "." + col.Name
			part := ref
			for _, conv := range convs {
				if conv.Column == col.Name {
					part = conv.Render(ref) + " AS " + conv.Alias
				}
			}
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", "), true
}

// predicate is "column op literal" found after a column reference.
type predicate struct {
	col     colRef
	opFrom  int
	opTo    int
	negated bool
	like    bool
	ilike   bool
	lits    []int
}

// predicateAfter recognises =, !=, <>, [NOT] LIKE, [NOT] ILIKE against a
// string and [NOT] IN over a list of strings.
func (q *query) predicateAfter(c colRef) (predicate, bool) {
	p := predicate{col: c, opFrom: c.to + 1}
	i := c.to + 1
	t := q.at(i)
	if t.is("not") {
		p.negated = true
		i++
		t = q.at(i)
	}
	switch {
	case !p.negated && t.kind == tkOp && (t.text == "=" || t.text == "!=" || t.text == "<>"):
		p.negated = t.text != "="
		if q.at(i+1).kind != tkString {
			return p, false
		}
		p.opTo = i
		p.lits = []int{i + 1}
	case t.is("like"), t.is("ilike"):
		p.like = true
		p.ilike = t.is("ilike")
		if q.at(i+1).kind != tkString {
			return p, false
		}
		p.opTo = i
		p.lits = []int{i + 1}
	case t.is("in"):
		if q.at(i+1).kind != tkLParen {
			return p, false
		}
		end := q.matching(i + 1)
		for j := i + 2; j < end; j++ {
			switch q.sig[j].kind {
			case tkString:
				p.lits = append(p.lits, j)
			case tkComma:
			default:
				return p, false
			}
		}
		if len(p.lits) == 0 {
			return p, false
		}
		p.opTo = i
	default:
		return p, false
	}
	return p, true
}

// mapValueDomains replaces literals a value domain does not allow with the
// literal the phrase maps to. LIKE against a domain column becomes equality.
func (v *Validator) mapValueDomains(sqlText string) (string, error) {
	q := parse(sqlText, v.schema)
	var edits []edit

	for _, c := range q.columnRefs() {
		ref, ok := q.tableFor(c, v.schema)
		if !ok || ref.qualified == "" {
			continue
		}
		domain, ok := v.rules.DomainFor(c.col, ref.qualified)
		if !ok {
			continue
		}
		p, ok := q.predicateAfter(c)
		if !ok {
			continue
		}

		mapped := false
		for _, li := range p.lits {
			lit := q.sig[li].stringValue()
			if domain.Allows(lit) {
				continue
			}
			m, ok := domain.LiteralFor(strings.Trim(lit, "%"))
			if !ok {
				continue
			}
			edits = append(edits, q.sigEdit(li, li, quoteLiteral(m)))
			mapped = true
		}

		if p.like && (mapped || allAllowed(q, p, domain)) {
			op := "="
			if p.negated {
				op = "<>"
			}
			edits = append(edits, q.sigEdit(p.opFrom, p.opTo, op))
		}
	}
	return q.apply(edits), nil
}

func allAllowed(q *query, p predicate, d rules.ValueDomain) bool {
	for _, li := range p.lits {
		if !d.Allows(q.sig[li].stringValue()) {
			return false
		}
	}
	return true
}

// nameWords splits a plant-style name on anything that is not a letter or
// digit.
func nameWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// relaxFlexibleNames turns equality or LIKE on a flexible name column into
// one ILIKE per word, so "Nagpur-Hingna" matches "Nagpur Hingna Plant".
func (v *Validator) relaxFlexibleNames(sqlText string) (string, error) {
	q := parse(sqlText, v.schema)
	var edits []edit

	for _, c := range q.columnRefs() {
		ref, ok := q.tableFor(c, v.schema)
		if !ok || ref.qualified == "" || !v.rules.IsFlexibleName(ref.qualified, c.col) {
			continue
		}
		p, ok := q.predicateAfter(q.caseFolded(c))
		if !ok || p.negated || len(p.lits) != 1 || q.at(p.opTo).is("in") {
			continue
		}
		lit := q.sig[p.lits[0]].stringValue()
		words := nameWords(lit)
		if len(words) == 0 {
			continue
		}
		if p.ilike && len(words) == 1 && lit == "%"+words[0]+"%" {
			continue
		}

		colText := c.text(q)
		conds := make([]string, len(words))
		for i, w := range words {
			conds[i] = colText + " ILIKE " + quoteLiteral("%"+w+"%")
		}
		text := strings.Join(conds, " AND ")
		if len(conds) > 1 {
			text = "(" + text + ")"
		}
		edits = append(edits, q.sigEdit(p.col.from, p.lits[0], text))
	}
	return q.apply(edits), nil
}

var caseFunctions = toSet("lower", "upper", "trim", "btrim")

// caseFolded widens c to LOWER(c), UPPER(c) or TRIM(c) when the column sits
// alone inside one of them. ILIKE already ignores case and padding.
func (q *query) caseFolded(c colRef) colRef {
	fn := q.at(c.from - 2)
	if fn.kind != tkIdent || !caseFunctions[fn.word()] ||
		q.at(c.from-1).kind != tkLParen || q.at(c.to+1).kind != tkRParen {
		return c
	}
	c.from, c.to = c.from-2, c.to+1
	return c
}
