package sql

import (
	"strings"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

// tableRef is one relation named in a FROM or JOIN.
type tableRef struct {
	written   string // as written, lowercased, possibly schema-qualified
	alias     string
	qualified string // catalog name; empty when unknown or virtual
	virtual   bool   // CTE, derived table or set-returning function
	block     int
	name      [2]int // sig index range of the name, inclusive
}

// qualifier is the prefix columns of this relation are written with.
func (r tableRef) qualifier() string {
	if r.alias != "" {
		return r.alias
	}
	return r.written
}

// selectBlock is one SELECT ... [FROM ...] query level.
type selectBlock struct {
	sel    int
	depth  int
	end    int
	list   [2]int // select list sig range, half open
	items  [][2]int
	refs   []int
	parent int
}

// colRef is a column reference outside table positions.
type colRef struct {
	qual  string
	col   string
	from  int
	to    int
	block int
}

// text returns the reference as written.
func (c colRef) text(q *query) string {
	var b strings.Builder
	for i := c.from; i <= c.to; i++ {
		b.WriteString(q.sig[i].text)
	}
	return b.String()
}

// query is a lexed statement with its relations, blocks and output names.
type query struct {
	toks    []token
	sig     []sigToken
	refs    []tableRef
	blocks  []selectBlock
	ctes    map[string]bool
	bodies  map[string][2]int // CTE name to the sig range of its parens
	skip    map[int]bool
	outputs map[string]bool
}

func parse(sqlText string, schema Schema) *query {
	toks := lex(sqlText)
	q := &query{
		toks:    toks,
		sig:     significant(toks),
		ctes:    make(map[string]bool),
		bodies:  make(map[string][2]int),
		skip:    make(map[int]bool),
		outputs: make(map[string]bool),
	}
	q.parseCTEs()
	q.parseBlocks(schema)
	return q
}

// matching returns the sig index of the paren closing the one at i.
func (q *query) matching(i int) int {
	d := q.sig[i].depth
	for j := i + 1; j < len(q.sig); j++ {
		if q.sig[j].kind == tkRParen && q.sig[j].depth == d {
			return j
		}
	}
	return len(q.sig) - 1
}

func (q *query) at(i int) sigToken {
	if i < 0 || i >= len(q.sig) {
		return sigToken{}
	}
	return q.sig[i]
}

func (q *query) parseCTEs() {
	if len(q.sig) == 0 || !q.sig[0].is("with") {
		return
	}
	i := 1
	if q.at(i).is("recursive") {
		i++
	}
	for i < len(q.sig) {
		if !q.at(i).isName() {
			return
		}
		name := q.sig[i].word()
		q.ctes[name] = true
		q.skip[i] = true
		i++
		if q.at(i).kind == tkLParen {
			end := q.matching(i)
			for j := i + 1; j < end; j++ {
				if q.sig[j].isName() {
					q.outputs[q.sig[j].word()] = true
					q.skip[j] = true
				}
			}
			i = end + 1
		}
		if !q.at(i).is("as") {
			return
		}
		i++
		if q.at(i).is("not") {
			i++
		}
		if q.at(i).is("materialized") {
			i++
		}
		if q.at(i).kind != tkLParen {
			return
		}
		q.bodies[name] = [2]int{i, q.matching(i)}
		i = q.matching(i) + 1
		if q.at(i).kind != tkComma {
			return
		}
		i++
	}
}

func (q *query) parseBlocks(schema Schema) {
	for i, t := range q.sig {
		if !t.is("select") {
			continue
		}
		b := selectBlock{sel: i, depth: t.depth, end: len(q.sig), parent: -1}
		for j := i + 1; j < len(q.sig); j++ {
			s := q.sig[j]
			if s.depth < b.depth || (s.depth == b.depth && (s.is("union") || s.is("intersect") || s.is("except"))) {
				b.end = j
				break
			}
		}
		for p := len(q.blocks) - 1; p >= 0; p-- {
			if q.blocks[p].sel < i && i < q.blocks[p].end && q.blocks[p].depth < b.depth {
				b.parent = p
				break
			}
		}

		start := i + 1
		if q.at(start).is("distinct") {
			start++
			if q.at(start).is("on") && q.at(start+1).kind == tkLParen {
				start = q.matching(start+1) + 1
			}
		} else if q.at(start).is("all") {
			start++
		}
		listEnd := b.end
		for j := start; j < b.end; j++ {
			if q.sig[j].depth == b.depth && clauseEnd[q.sig[j].word()] && q.sig[j].kind == tkIdent {
				listEnd = j
				break
			}
		}
		b.list = [2]int{start, listEnd}
		b.items = q.splitItems(start, listEnd, b.depth)

		idx := len(q.blocks)
		q.blocks = append(q.blocks, b)
		if listEnd < b.end && q.sig[listEnd].is("from") {
			q.parseFrom(idx, listEnd+1, schema)
		}
		q.collectOutputs(idx)
	}
}

func (q *query) splitItems(from, to, depth int) [][2]int {
	var items [][2]int
	start := from
	for j := from; j < to; j++ {
		if q.sig[j].kind == tkComma && q.sig[j].depth == depth {
			if j > start {
				items = append(items, [2]int{start, j})
			}
			start = j + 1
		}
	}
	if to > start {
		items = append(items, [2]int{start, to})
	}
	return items
}

func (q *query) parseFrom(bi int, k int, schema Schema) {
	b := &q.blocks[bi]
	d := b.depth
	expectRef := true

	for k < b.end {
		t := q.sig[k]
		if t.depth < d {
			return
		}
		if t.depth > d {
			k++
			continue
		}
		if t.kind == tkIdent && clauseEnd[t.word()] {
			return
		}
		switch {
		case t.kind == tkComma, t.is("join"):
			expectRef = true
			k++
			continue
		case !expectRef, t.is("lateral"), t.is("only"):
			k++
			continue
		}

		ref := tableRef{block: bi}
		switch {
		case t.kind == tkLParen:
			ref.virtual = true
			ref.name = [2]int{k, k}
			k = q.matching(k) + 1
		case t.isName():
			n := k
			parts := []string{t.word()}
			for q.at(n+1).kind == tkDot && q.at(n+2).isName() {
				n += 2
				parts = append(parts, q.sig[n].word())
			}
			ref.name = [2]int{k, n}
			ref.written = strings.Join(parts, ".")
			for j := k; j <= n; j++ {
				q.skip[j] = true
			}
			k = n + 1
			if q.at(k).kind == tkLParen {
				ref.virtual = true
				k = q.matching(k) + 1
			} else if q.ctes[ref.written] {
				ref.virtual = true
			} else if schema != nil {
				ref.qualified, _ = schema.Resolve(ref.written)
			}
		default:
			k++
			continue
		}

		if q.at(k).is("as") {
			q.skip[k] = true
			k++
		}
		if k < b.end && q.at(k).depth == d && q.at(k).isName() && !reservedAfterTable[q.at(k).word()] {
			ref.alias = q.sig[k].word()
			q.skip[k] = true
			k++
			if q.at(k).kind == tkLParen {
				ref.virtual = ref.virtual || ref.qualified == ""
				end := q.matching(k)
				for j := k + 1; j < end; j++ {
					if q.sig[j].isName() {
						q.outputs[q.sig[j].word()] = true
						q.skip[j] = true
					}
				}
				k = end + 1
			}
		}

		q.refs = append(q.refs, ref)
		b.refs = append(b.refs, len(q.refs)-1)
		expectRef = false
	}
}

// itemAlias returns the alias of a select item and the sig index it starts
// at, or -1.
func (q *query) itemAlias(item [2]int) (string, int) {
	a, z := item[0], item[1]
	if z-a >= 2 && q.sig[z-2].is("as") && q.sig[z-1].isName() {
		return q.sig[z-1].word(), z - 2
	}
	if z-a >= 2 && q.sig[z-1].isName() && !keywords[q.sig[z-1].word()] {
		prev := q.sig[z-2]
		switch prev.kind {
		case tkRParen, tkNumber, tkString, tkQuoted:
			return q.sig[z-1].word(), z - 1
		case tkIdent:
			if prev.is("end") || !keywords[prev.word()] {
				return q.sig[z-1].word(), z - 1
			}
		}
	}
	return "", -1
}

func (q *query) collectOutputs(bi int) {
	for _, item := range q.blocks[bi].items {
		if alias, at := q.itemAlias(item); at >= 0 {
			q.outputs[alias] = true
			q.skip[item[1]-1] = true
		}
	}
}

// blockOf returns the innermost block containing sig index i, or -1.
func (q *query) blockOf(i int) int {
	best := -1
	for bi, b := range q.blocks {
		if b.sel <= i && i < b.end && (best < 0 || b.depth >= q.blocks[best].depth) {
			best = bi
		}
	}
	return best
}

// columnRefs lists every column reference in the statement.
func (q *query) columnRefs() []colRef {
	var refs []colRef
	for i := 0; i < len(q.sig); i++ {
		t := q.sig[i]
		if q.skip[i] || !t.isName() {
			continue
		}
		if q.at(i+1).kind == tkDot {
			if q.at(i+2).isName() || (q.at(i+2).kind == tkOp && q.at(i+2).text == "*") {
				j := i + 2
				qual := t.word()
				for q.at(j+1).kind == tkDot && (q.at(j+2).isName() || q.at(j+2).text == "*") {
					qual += "." + q.sig[j].word()
					j += 2
				}
				col := q.sig[j].word()
				if q.sig[j].kind == tkOp {
					col = "*"
				}
				refs = append(refs, colRef{qual: qual, col: col, from: i, to: j, block: q.blockOf(i)})
				i = j
			}
			continue
		}
		if q.at(i+1).kind == tkLParen {
			continue
		}
		if prev := q.at(i - 1); prev.is("as") || (prev.kind == tkOp && prev.text == "::") {
			continue
		}
		if t.kind == tkIdent && keywords[t.word()] {
			continue
		}
		// Typed literals such as DATE '2024-01-01'.
		if q.at(i+1).kind == tkString && t.kind == tkIdent {
			continue
		}
		refs = append(refs, colRef{col: t.word(), from: i, to: i, block: q.blockOf(i)})
	}
	return refs
}

// refFor finds the relation a qualifier names.
func (q *query) refFor(qual string) (tableRef, bool) {
	for _, r := range q.refs {
		if r.alias == qual {
			return r, true
		}
	}
	for _, r := range q.refs {
		if r.alias == "" && (r.written == qual || rules.BareName(r.written) == qual) {
			return r, true
		}
	}
	for _, r := range q.refs {
		if r.written == qual || rules.BareName(r.written) == qual {
			return r, true
		}
	}
	return tableRef{}, false
}

// tableFor resolves the relation a column reference belongs to, walking
// from its block outwards for unqualified names.
func (q *query) tableFor(c colRef, schema Schema) (tableRef, bool) {
	if c.qual != "" {
		return q.refFor(c.qual)
	}
	for bi := c.block; bi >= 0; bi = q.blocks[bi].parent {
		var found []tableRef
		for _, ri := range q.blocks[bi].refs {
			r := q.refs[ri]
			if !r.virtual && r.qualified != "" && schema.HasColumn(r.qualified, c.col) {
				found = append(found, r)
			}
		}
		if len(found) > 0 {
			return found[0], true
		}
	}
	for _, r := range q.refs {
		if !r.virtual && r.qualified != "" && schema.HasColumn(r.qualified, c.col) {
			return r, true
		}
	}
	return tableRef{}, false
}

// body returns the sig range of the parentheses holding the query that
// defines a CTE or derived table.
func (q *query) body(r tableRef) ([2]int, bool) {
	if !r.virtual {
		return [2]int{}, false
	}
	if b, ok := q.bodies[r.written]; ok {
		return b, true
	}
	if open := r.name[0]; q.at(open).kind == tkLParen {
		return [2]int{open, q.matching(open)}, true
	}
	return [2]int{}, false
}

// hasVirtual reports whether any relation has columns the catalog cannot see.
func (q *query) hasVirtual() bool {
	for _, r := range q.refs {
		if r.virtual {
			return true
		}
	}
	return len(q.ctes) > 0
}

// tables returns the catalog names of every relation, deduplicated.
func (q *query) tables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range q.refs {
		if r.qualified != "" && !seen[r.qualified] {
			seen[r.qualified] = true
			out = append(out, r.qualified)
		}
	}
	return out
}

// edit replaces the full-token range [from, to] with text.
type edit struct {
	from, to int
	text     string
}

// sigEdit builds an edit over a sig index range.
func (q *query) sigEdit(from, to int, text string) edit {
	return edit{from: q.sig[from].idx, to: q.sig[to].idx, text: text}
}

// apply rewrites the statement. Overlapping edits after the first are dropped.
func (q *query) apply(edits []edit) string {
	if len(edits) == 0 {
		return join(q.toks)
	}
	byStart := make(map[int]edit, len(edits))
	for _, e := range edits {
		if prev, ok := byStart[e.from]; !ok || e.to > prev.to {
			byStart[e.from] = e
		}
	}
	var b strings.Builder
	for i := 0; i < len(q.toks); i++ {
		if e, ok := byStart[i]; ok {
			b.WriteString(e.text)
			i = e.to
			continue
		}
		b.WriteString(q.toks[i].text)
	}
	return b.String()
}

// sigText joins the tokens of a sig range as written, spaces included.
func (q *query) sigText(from, to int) string {
	return join(q.toks[q.sig[from].idx : q.sig[to].idx+1])
}
