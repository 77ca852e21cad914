// Package retriever picks the handful of tables relevant to a question so the
// prompt carries a small schema excerpt instead of the whole catalog.
package retriever

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

// Signal weights. A table's score is the sum of its strongest match per
// signal.
const (
	WeightPriority  = 3.0
	WeightHierarchy = 2.5
	WeightLexical   = 1.5
	WeightEmbedding = 0.5

	// DefaultK is the number of tables retrieved when k is not positive.
	DefaultK = 6
)

// Source names the signal that contributed to a table's score.
type Source string

const (
	SourcePriority  Source = "priority"
	SourceHierarchy Source = "hierarchy"
	SourceLexical   Source = "lexical"
	SourceEmbedding Source = "embedding"
)

// Signal is one contribution to a table's score.
type Signal struct {
	Source Source  `json:"source"`
	Score  float64 `json:"score"`
	Detail string  `json:"detail,omitempty"`
}

// TableRef is a retrieved table.
type TableRef struct {
	Name    string   `json:"name"`
	Score   float64  `json:"score"`
	Signals []Signal `json:"signals"`
}

// Catalog is the part of the schema catalog the retriever reads.
type Catalog interface {
	TableNames() []string
	Resolve(name string) (string, bool)
}

// Retriever scores catalog tables against a question.
type Retriever struct {
	catalog Catalog
	rules   *rules.RuleSet
	index   *EmbeddingIndex
	logger  *zap.Logger
}

// New creates a retriever without the embedding signal.
func New(cat Catalog, rs *rules.RuleSet, logger *zap.Logger) *Retriever {
	return &Retriever{catalog: cat, rules: rs, logger: logger.Named("retriever")}
}

// WithEmbeddings enables the embedding signal.
func (r *Retriever) WithEmbeddings(idx *EmbeddingIndex) *Retriever {
	r.index = idx
	return r
}

type scored struct {
	signals map[Source]Signal
}

func (s *scored) add(sig Signal) {
	if cur, ok := s.signals[sig.Source]; ok && cur.Score >= sig.Score {
		return
	}
	s.signals[sig.Source] = sig
}

func (s *scored) total() float64 {
	var t float64
	for _, sig := range s.signals {
		t += sig.Score
	}
	return t
}

// Retrieve returns at most k tables ordered by score. Banned and legacy
// names never appear in the result, and neither do tables missing from the
// catalog.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) []TableRef {
	if k <= 0 {
		k = DefaultK
	}
	q := analyze(query)
	scores := make(map[string]*scored)
	add := func(table string, sig Signal) {
		name, ok := r.catalog.Resolve(r.rules.Qualify(table))
		if !ok {
			name, ok = r.catalog.Resolve(table)
		}
		if !ok || r.rules.IsBanned(name) {
			return
		}
		s, ok := scores[name]
		if !ok {
			s = &scored{signals: make(map[Source]Signal)}
			scores[name] = s
		}
		s.add(sig)
	}

	for _, p := range r.rules.PriorityPhrases {
		if q.hasPhrase(p.Phrase) {
			for _, t := range p.Tables {
				add(t, Signal{Source: SourcePriority, Score: WeightPriority, Detail: p.Phrase})
			}
		}
	}
	for _, a := range r.rules.TableAliases {
		if q.hasPhrase(a.Phrase) {
			add(a.Table, Signal{Source: SourcePriority, Score: WeightPriority, Detail: a.Phrase})
		}
	}

	for _, h := range r.rules.HierarchyPatterns {
		if h.Matches(q.lower) {
			for _, t := range h.Tables {
				add(t, Signal{Source: SourceHierarchy, Score: WeightHierarchy, Detail: h.Name})
			}
		}
	}

	for _, table := range r.catalog.TableNames() {
		if score, detail := lexicalScore(q.tokens, table); score > 0 {
			add(table, Signal{Source: SourceLexical, Score: score, Detail: detail})
		}
	}

	if r.index != nil {
		sims, err := r.index.Similarities(ctx, query)
		if err != nil {
			r.logger.Warn("Embedding signal skipped", zap.Error(err))
		}
		for table, sim := range sims {
			if sim > 0 {
				add(table, Signal{Source: SourceEmbedding, Score: WeightEmbedding * sim})
			}
		}
	}

	out := make([]TableRef, 0, len(scores))
	for name, s := range scores {
		ref := TableRef{Name: name, Score: s.total()}
		for _, src := range []Source{SourcePriority, SourceHierarchy, SourceLexical, SourceEmbedding} {
			if sig, ok := s.signals[src]; ok {
				ref.Signals = append(ref.Signals, sig)
			}
		}
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > k {
		out = out[:k]
	}

	r.logger.Debug("Tables retrieved", zap.Int("count", len(out)), zap.Strings("tables", Names(out)))
	return out
}

// Names lists the table names of refs.
func Names(refs []TableRef) []string {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.Name
	}
	return names
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true, "at": true,
	"for": true, "to": true, "by": true, "from": true, "with": true, "and": true, "or": true,
	"me": true, "my": true, "show": true, "list": true, "give": true, "get": true, "all": true,
	"what": true, "which": true, "who": true, "how": true, "many": true, "much": true,
	"is": true, "are": true, "was": true, "were": true, "do": true, "does": true, "there": true,
	"their": true, "these": true, "those": true, "this": true, "that": true, "it": true,
	"tell": true, "about": true, "last": true, "today": true, "yesterday": true, "please": true,
}

// analyzed is a question split for matching.
type analyzed struct {
	lower string
	// padded forms: raw words and singular words joined by single spaces.
	raw      string
	singular string
	tokens   []string
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func analyze(query string) analyzed {
	ws := words(query)
	sing := make([]string, len(ws))
	var tokens []string
	for i, w := range ws {
		sing[i] = inflection.Singular(w)
		if len(w) >= 3 && !stopwords[w] {
			tokens = append(tokens, sing[i])
		}
	}
	return analyzed{
		lower:    strings.ToLower(query),
		raw:      " " + strings.Join(ws, " ") + " ",
		singular: " " + strings.Join(sing, " ") + " ",
		tokens:   tokens,
	}
}

// hasPhrase matches phrase on word boundaries, in plural or singular form.
func (a analyzed) hasPhrase(phrase string) bool {
	p := " " + strings.Join(words(phrase), " ") + " "
	return strings.Contains(a.raw, p) || strings.Contains(a.singular, p)
}

// genericParts carry no meaning of their own in table names.
var genericParts = map[string]bool{
	"crm": true, "dtls": true, "master": true, "mst": true, "report": true, "details": true, "id": true,
}

// lexicalScore compares question tokens with the parts of a table name:
// exact part 1.0, substring 0.6, edit ratio of at least 0.8 scaled by 0.8.
// The sum is capped at WeightLexical.
func lexicalScore(tokens []string, table string) (float64, string) {
	var parts []string
	for _, p := range strings.Split(rules.BareName(table), "_") {
		if len(p) >= 3 && !genericParts[p] {
			parts = append(parts, p)
		}
	}

	var total float64
	var matched []string
	for _, tok := range tokens {
		best := 0.0
		for _, p := range parts {
			var s float64
			switch {
			case tok == p:
				s = 1.0
			case len(tok) >= 4 && (strings.Contains(p, tok) || strings.Contains(tok, p)):
				s = 0.6
			default:
				if ratio := editRatio(tok, p); ratio >= 0.8 {
					s = 0.8 * ratio
				}
			}
			if s > best {
				best = s
			}
		}
		if best > 0 {
			total += best
			matched = append(matched, tok)
		}
	}
	if total > WeightLexical {
		total = WeightLexical
	}
	return total, strings.Join(matched, ",")
}

// editRatio is 1 - levenshtein(a, b) / max(len(a), len(b)).
func editRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(ra, rb))/float64(longest)
}

func levenshteinDistance(s1, s2 []rune) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}
