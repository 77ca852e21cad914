package resolver

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"github.com/shopspring/decimal"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
	fleetsql "github.com/ekaya-inc/ekaya-fleetql/pkg/sql"
)

var comparisonPattern = regexp.MustCompile(`(?:\b([a-z_]+)\s+(?:is\s+|are\s+|of\s+)?)?(<=|>=|<>|!=|<|>|=|less than|lower than|below|under|more than|greater than|higher than|above|over|exceeding|at least|at most)\s*(?:rs\.?\s*|inr\s*|₹\s*)?(\d[\d,]*(?:\.\d+)?)\s*(k|lakhs?|lacs?|crores?|cr)?\b`)

// unitAfter matches a unit word right after a compared number. "over 3 days
// ago" or "more than 50 km" are not amounts.
var unitAfter = regexp.MustCompile(`^\s*(?:%|(?:percent|days?|hours?|hrs?|minutes?|mins?|weeks?|months?|years?|yrs?|km|kms|kilomet(?:er|re)s?|met(?:er|re)s?|times?|trips?|visits?|vehicles?|complaints?)\b)`)

var comparisonOps = map[string]string{
	"less than": "<", "lower than": "<", "below": "<", "under": "<",
	"more than": ">", "greater than": ">", "higher than": ">", "above": ">", "over": ">", "exceeding": ">",
	"at least": ">=", "at most": "<=", "!=": "<>",
}

var numberSuffixes = map[string]decimal.Decimal{
	"k":      decimal.NewFromInt(1_000),
	"lakh":   decimal.NewFromInt(100_000),
	"lakhs":  decimal.NewFromInt(100_000),
	"lac":    decimal.NewFromInt(100_000),
	"lacs":   decimal.NewFromInt(100_000),
	"crore":  decimal.NewFromInt(10_000_000),
	"crores": decimal.NewFromInt(10_000_000),
	"cr":     decimal.NewFromInt(10_000_000),
}

// ParseAmount reads "10000", "10,000", "10k" or "2.5 lakh" into a decimal.
func ParseAmount(number, suffix string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(number, ",", ""))
	if err != nil {
		return decimal.Zero, err
	}
	if m, ok := numberSuffixes[strings.ToLower(suffix)]; ok {
		d = d.Mul(m)
	}
	return d, nil
}

// conditions turns the filter phrases of q into SQL predicates over the
// entity's detail query.
func conditions(rs *rules.RuleSet, et rules.EntityType, q string) ([]string, error) {
	var preds []string

	numeric, err := numericConditions(rs, et, q)
	if err != nil {
		return nil, err
	}
	preds = append(preds, numeric...)
	preds = append(preds, domainConditions(rs, et, q)...)

	text, err := textConditions(rs, et, q)
	if err != nil {
		return nil, err
	}
	return append(preds, text...), nil
}

func numericConditions(rs *rules.RuleSet, et rules.EntityType, q string) ([]string, error) {
	var preds []string
	for _, loc := range comparisonPattern.FindAllStringSubmatchIndex(q, -1) {
		if unitAfter.MatchString(q[loc[1]:]) {
			continue
		}
		m := submatches(q, loc)
		expr := numericColumn(rs, et, m[1], q)
		if expr == "" {
			continue
		}
		amount, err := ParseAmount(m[3], m[4])
		if err != nil {
			continue
		}
		op := m[2]
		if mapped, ok := comparisonOps[op]; ok {
			op = mapped
		}
		preds = append(preds, fmt.Sprintf("%s %s %s", expr, op, amount.String()))
	}
	return preds, nil
}

// submatches turns a FindStringSubmatchIndex result into strings, with ""
// for groups that did not take part.
func submatches(s string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] >= 0 {
			out[i] = s[loc[2*i]:loc[2*i+1]]
		}
	}
	return out
}

// numericColumn picks the column a comparison applies to: the word right
// before it when that names a filter column, else a numeric-sounding filter
// column mentioned anywhere, else the entity's default.
func numericColumn(rs *rules.RuleSet, et rules.EntityType, word, q string) string {
	if expr, ok := filterColumn(et, word); ok {
		return expr
	}
	for _, key := range sortedKeys(et.FilterColumns) {
		if key == "date" {
			continue
		}
		expr := et.FilterColumns[key]
		if (rs.IsNumericName(key) || expr == et.DefaultNumeric) && mentionsWord(q, key) {
			return expr
		}
	}
	return et.DefaultNumeric
}

func filterColumn(et rules.EntityType, word string) (string, bool) {
	if word == "" {
		return "", false
	}
	if expr, ok := et.FilterColumns[word]; ok {
		return expr, true
	}
	expr, ok := et.FilterColumns[inflection.Singular(word)]
	return expr, ok
}

// domainConditions maps status words onto their stored literal. The status
// column needs no key word ("which of these are open"); other domain
// columns only apply when their key is mentioned ("correction not done").
func domainConditions(rs *rules.RuleSet, et rules.EntityType, q string) []string {
	var preds []string
	for _, key := range sortedKeys(et.FilterColumns) {
		expr := et.FilterColumns[key]
		domain, ok := rs.DomainFor(bareColumn(expr))
		if !ok {
			continue
		}
		if expr != et.StatusColumn && !mentionsWord(q, key) {
			continue
		}

		var best, literal string
		for _, v := range domain.Values {
			for _, ph := range v.Phrases {
				if len(ph) > len(best) && mentionsWord(q, ph) {
					best, literal = ph, v.Literal
				}
			}
		}
		if literal != "" {
			preds = append(preds, fmt.Sprintf("%s = '%s'", expr, literal))
		}
	}
	return preds
}

var textValue = `['"]?([a-z0-9][a-z0-9-]*)['"]?`

// textConditions handles "category quality", "in nagpur plant" and the like.
func textConditions(rs *rules.RuleSet, et rules.EntityType, q string) ([]string, error) {
	var preds []string
	seen := make(map[string]bool)
	for _, key := range sortedKeys(et.FilterColumns) {
		expr := et.FilterColumns[key]
		if key == "date" || expr == et.DefaultNumeric || seen[expr] {
			continue
		}
		if _, ok := rs.DomainFor(bareColumn(expr)); ok {
			continue
		}
		k := `(?:` + regexp.QuoteMeta(key) + `|` + regexp.QuoteMeta(inflection.Plural(key)) + `)`
		after := regexp.MustCompile(`\b` + k + `\s+(?:is\s+|=\s*|named\s+|called\s+)?` + textValue)
		before := regexp.MustCompile(`\b(?:in|from|at|of|under|to|for)\s+(?:the\s+)?` + textValue + `\s+` + k + `\b`)

		var value string
		for _, re := range []*regexp.Regexp{after, before} {
			if m := re.FindStringSubmatch(q); m != nil && !isFiller(m[1]) && !isKey(et, m[1]) {
				value = m[1]
				break
			}
		}
		if value == "" {
			continue
		}
		lit, err := fleetsql.QuoteLiteral(key, "%"+value+"%")
		if err != nil {
			return nil, err
		}
		seen[expr] = true
		preds = append(preds, fmt.Sprintf("%s ILIKE %s", expr, lit))
	}
	return preds, nil
}

func isKey(et rules.EntityType, w string) bool {
	_, ok := filterColumn(et, w)
	return ok || w == "which" || w == "with" || w == "have" || w == "has"
}

func bareColumn(expr string) string {
	if i := strings.LastIndex(expr, "."); i >= 0 {
		return expr[i+1:]
	}
	return expr
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mentionsWord(q, w string) bool {
	re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(w)) + `\b`)
	return err == nil && re.MatchString(q)
}

// literal renders an identifier value for an IN list.
func literal(v any) (string, error) {
	switch x := v.(type) {
	case int, int32, int64, float64:
		return fmt.Sprint(x), nil
	case decimal.Decimal:
		return x.String(), nil
	case time.Time:
		return "'" + x.Format(time.RFC3339) + "'", nil
	case string:
		return fleetsql.QuoteLiteral("identifier", x)
	default:
		return fleetsql.QuoteLiteral("identifier", fmt.Sprint(x))
	}
}
