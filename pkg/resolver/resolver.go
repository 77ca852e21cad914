// Package resolver answers follow-up questions ("their details", "the 2nd",
// "which of these are open") against the session's previous results.
package resolver

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/database"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/prompts"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/session"
	fleetsql "github.com/ekaya-inc/ekaya-fleetql/pkg/sql"
)

const (
	DefaultThreshold   = 0.7
	DefaultOracleFloor = 0.4
)

// Operation is what a follow-up asks to do with the previous results.
type Operation string

const (
	OpNone    Operation = "none"
	OpDetail  Operation = "detail"
	OpFilter  Operation = "filter"
	OpOrdinal Operation = "ordinal"
	OpSubPick Operation = "sub_pick"
	OpCount   Operation = "count"
)

// Resolution is the outcome of Resolve. At most one of Result, SQL and Hint
// is set. A non-referential resolution sets none of them.
type Resolution struct {
	Referential bool
	Operation   Operation
	Confidence  float64
	Detections  []Detection
	Entity      string
	Frame       *session.ResultFrame

	// Result answers the question from the frame alone.
	Result *database.QueryResult
	// SQL must still be validated and executed.
	SQL string
	// Hint goes into the prompt when the reference could not be turned
	// into SQL directly.
	Hint *prompts.ReferenceHint
	// Note is appended to the answer, e.g. when identifiers were capped.
	Note string
}

// Classifier asks the model a narrow JSON question.
type Classifier interface {
	Classify(ctx context.Context, p prompts.Prompt, out any) error
}

// Config tunes the resolver.
type Config struct {
	Threshold      float64
	OracleFloor    float64
	MaxIdentifiers int
}

// Resolver turns referential follow-ups into frame answers or SQL. It holds
// no per-session state and is safe for concurrent use.
type Resolver struct {
	rules  *rules.RuleSet
	oracle Classifier
	cfg    Config
	logger *zap.Logger
}

// New creates a resolver. oracle may be nil, in which case ambiguous
// questions are treated as new questions.
func New(rs *rules.RuleSet, oracle Classifier, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.OracleFloor <= 0 {
		cfg.OracleFloor = DefaultOracleFloor
	}
	if cfg.MaxIdentifiers <= 0 {
		cfg.MaxIdentifiers = fleetsql.MaxLimit
	}
	return &Resolver{rules: rs, oracle: oracle, cfg: cfg, logger: logger.Named("resolver")}
}

var (
	countPattern  = regexp.MustCompile(`\b(?:how many|count|number of)\b`)
	detailPattern = regexp.MustCompile(`\b(?:details?|info|information|more about|tell me about|everything about)\b`)
)

// Resolve decides whether query refers to the session's latest results and,
// if so, how to answer it. With an empty stack the question is always new.
func (r *Resolver) Resolve(ctx context.Context, query string, sc *session.Context) (*Resolution, error) {
	ds := Detect(query)
	res := &Resolution{Operation: OpNone, Confidence: Confidence(ds), Detections: ds}

	top := sc.Top()
	if top == nil || top.Len() == 0 {
		return res, nil
	}

	var suggested string
	if res.Confidence < r.cfg.Threshold && res.Confidence >= r.cfg.OracleFloor && r.oracle != nil {
		check, err := r.checkWithOracle(ctx, query, top)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("Reference check failed, treating question as new",
				zap.String("error", logging.SanitizeError(err)))
			return res, nil
		}
		if check.RefersToPrevious {
			res.Confidence = max(res.Confidence, check.Confidence)
			suggested = strings.ToLower(check.Operation)
		}
	}
	if res.Confidence < r.cfg.Threshold {
		return res, nil
	}

	res.Referential = true
	res.Frame = top

	tgt, ok := resolveTarget(r.rules, top, r.cfg.MaxIdentifiers)
	if !ok {
		r.logger.Debug("No entity or identifiers in previous results",
			zap.Strings("columns", top.ColumnNames()))
		return res, nil
	}
	res.Entity = tgt.entity.Name
	if tgt.truncated() {
		res.Note = truncationNote(len(tgt.ids), tgt.total)
	}

	if err := r.plan(res, strings.ToLower(query), ds, suggested, top, tgt); err != nil {
		return nil, err
	}

	r.logger.Debug("Resolved follow-up",
		zap.String("operation", string(res.Operation)),
		zap.String("entity", res.Entity),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("frame_only", res.Result != nil))
	return res, nil
}

func (r *Resolver) checkWithOracle(ctx context.Context, query string, top *session.ResultFrame) (*prompts.ReferenceCheck, error) {
	var check prompts.ReferenceCheck
	if err := r.oracle.Classify(ctx, prompts.BuildReferenceCheckPrompt(query, top.Describe()), &check); err != nil {
		return nil, err
	}
	check.Confidence = min(max(check.Confidence, 0), 1)
	return &check, nil
}

func (r *Resolver) plan(res *Resolution, q string, ds []Detection, suggested string, top *session.ResultFrame, tgt target) error {
	if ord, ok := find(ds, KindOrdinal); ok {
		res.Operation = OpOrdinal
		return r.ordinal(res, top, tgt, ord)
	}

	preds, err := conditions(r.rules, tgt.entity, q)
	if err != nil {
		return apperrors.Wrap(apperrors.KindValidatorRejection,
			"I couldn't use that phrase to narrow down the earlier results.", err)
	}
	counting := countPattern.MatchString(q) || suggested == "count"
	sub, picking := find(ds, KindSubPick)

	switch {
	case len(preds) > 0:
		res.Operation = OpFilter
		return r.filter(res, tgt, preds, counting)
	case picking:
		res.Operation = OpSubPick
		return r.subPick(res, top, tgt, sub)
	case counting:
		res.Operation = OpCount
		res.Result = countResult(tgt.entity, top.Len())
		return nil
	case detailPattern.MatchString(q), suggested == "detail", hasKind(ds, KindPossessive), hasKind(ds, KindDemonstrative):
		res.Operation = OpDetail
		return r.detail(res, tgt, tgt.ids)
	default:
		res.Hint = hint(tgt, tgt.ids, 0)
		return nil
	}
}

func (r *Resolver) ordinal(res *Resolution, top *session.ResultFrame, tgt target, d Detection) error {
	item, ok := top.Ordinal(d.Ordinal)
	if !ok {
		res.Result = &database.QueryResult{Columns: top.Columns}
		res.Note = fmt.Sprintf("The previous results only had %d %s.", top.Len(), inflection.Plural(tgt.entity.Noun))
		return nil
	}
	id := item[tgt.column]
	n := d.Ordinal
	if n < 0 {
		n = top.Len() + n + 1
	}

	if d.Field == "" || id == nil {
		res.Result = rowResult(top, item, nil)
		return nil
	}
	if col := frameColumn(top, d.Field); col != "" {
		res.Result = rowResult(top, item, []string{tgt.column, col})
		return nil
	}
	if _, ok := filterColumn(tgt.entity, d.Field); ok && id != nil {
		return r.detail(res, tgt, []any{id})
	}
	res.Hint = hint(tgt, []any{id}, n)
	return nil
}

func (r *Resolver) subPick(res *Resolution, top *session.ResultFrame, tgt target, d Detection) error {
	var columns []string
	for _, c := range tgt.entity.DescriptiveColumns {
		if top.HasColumn(c) {
			columns = append(columns, c)
		}
	}
	if len(columns) == 0 {
		res.Hint = hint(tgt, tgt.ids, 0)
		return nil
	}

	candidates := make([]string, top.Len())
	for i := range top.Len() {
		item, _ := top.At(i)
		var parts []string
		for _, c := range columns {
			if v := item[c]; v != nil {
				parts = append(parts, fmt.Sprint(v))
			}
		}
		candidates[i] = strings.Join(parts, " ")
	}

	matches := matchRows(d.Phrase, candidates)
	switch len(matches) {
	case 0:
		res.Hint = hint(tgt, tgt.ids, 0)
		return nil
	case 1:
		item, _ := top.At(matches[0])
		res.Result = rowResult(top, item, nil)
		return nil
	}

	ids := make([]any, 0, len(matches))
	for _, i := range matches {
		item, _ := top.At(i)
		if v := item[tgt.column]; v != nil {
			ids = append(ids, v)
		}
	}
	return r.detail(res, tgt, ids)
}

// matchRows returns the indexes of candidates containing phrase, or, when
// none does, the fuzzy matches whose matched characters stay close together.
func matchRows(phrase string, candidates []string) []int {
	p := strings.ToLower(phrase)
	var out []int
	for i, c := range candidates {
		if strings.Contains(strings.ToLower(c), p) {
			out = append(out, i)
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, m := range fuzzy.Find(p, candidates) {
		idx := m.MatchedIndexes
		if len(idx) == 0 {
			continue
		}
		if span := idx[len(idx)-1] - idx[0] + 1; span <= len(p)+2 {
			out = append(out, m.Index)
		}
	}
	return out
}

func (r *Resolver) detail(res *Resolution, tgt target, ids []any) error {
	d := tgt.entity.Detail
	if d.Select == "" || d.From == "" || len(ids) == 0 {
		res.Hint = hint(tgt, ids, 0)
		return nil
	}
	in, err := inList(tgt.expr, ids)
	if err != nil {
		return err
	}
	res.SQL = fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT %d", d.Select, d.From, in, fleetsql.MaxLimit)
	return nil
}

func (r *Resolver) filter(res *Resolution, tgt target, preds []string, counting bool) error {
	d := tgt.entity.Detail
	if d.From == "" {
		res.Hint = hint(tgt, tgt.ids, 0)
		return nil
	}
	in, err := inList(tgt.expr, tgt.ids)
	if err != nil {
		return err
	}
	where := strings.Join(append([]string{in}, preds...), " AND ")
	if counting {
		res.SQL = fmt.Sprintf("SELECT COUNT(*) AS %s_count FROM %s WHERE %s LIMIT %d", tgt.entity.Noun, d.From, where, fleetsql.MaxLimit)
		return nil
	}
	res.SQL = fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT %d", d.Select, d.From, where, fleetsql.MaxLimit)
	return nil
}

func inList(expr string, ids []any) (string, error) {
	lits := make([]string, 0, len(ids))
	for _, id := range ids {
		lit, err := literal(id)
		if err != nil {
			return "", apperrors.Wrap(apperrors.KindValidatorRejection, "", err)
		}
		lits = append(lits, lit)
	}
	if len(lits) == 1 {
		return expr + " = " + lits[0], nil
	}
	return fmt.Sprintf("%s IN (%s)", expr, strings.Join(lits, ", ")), nil
}

// frameColumn finds the frame column a field word names: "type" finds
// vehicle_type, "categories" finds category_name.
func frameColumn(f *session.ResultFrame, field string) string {
	singular := inflection.Singular(field)
	for _, c := range f.ColumnNames() {
		l := strings.ToLower(c)
		for _, w := range []string{field, singular} {
			if l == w || strings.HasSuffix(l, "_"+w) || strings.HasPrefix(l, w+"_") {
				return c
			}
		}
	}
	return ""
}

// rowResult builds a one-row result from an ordinal item, keeping only
// columns when given. Bookkeeping keys are dropped.
func rowResult(f *session.ResultFrame, item map[string]any, columns []string) *database.QueryResult {
	row := maps.Clone(item)
	delete(row, session.DisplayIndexKey)
	delete(row, session.PrimaryIDKey)
	delete(row, session.PrimaryIDColumnKey)

	res := &database.QueryResult{RowCount: 1}
	for _, c := range f.Columns {
		if columns != nil && !containsFold(columns, c.Name) {
			delete(row, c.Name)
			continue
		}
		res.Columns = append(res.Columns, c)
	}
	res.Rows = []map[string]any{row}
	return res
}

func countResult(et rules.EntityType, n int) *database.QueryResult {
	name := "count"
	if et.Noun != "" {
		name = et.Noun + "_count"
	}
	return &database.QueryResult{
		Columns:  []database.Column{{Name: name, Type: "int8"}},
		Rows:     []map[string]any{{name: int64(n)}},
		RowCount: 1,
	}
}

func hint(tgt target, ids []any, ordinal int) *prompts.ReferenceHint {
	h := &prompts.ReferenceHint{Noun: tgt.entity.Noun, IdentifierColumn: tgt.column, Ordinal: ordinal}
	for _, id := range ids {
		h.Identifiers = append(h.Identifiers, fmt.Sprint(id))
	}
	return h
}

func hasKind(ds []Detection, k Kind) bool {
	_, ok := find(ds, k)
	return ok
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
