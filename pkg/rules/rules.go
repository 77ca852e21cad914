// Package rules holds the fleet domain rule set: table aliases, value
// domains, mandated conversions, banned names, entity shapes and prompt
// snippets. The set is data, loaded from YAML, so it can be extended
// without touching the code that applies it.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// RuleSet is the parsed domain configuration. It is immutable after Parse.
type RuleSet struct {
	DefaultSchema       string             `yaml:"default_schema"`
	TableAliases        []TableAlias       `yaml:"table_aliases"`
	PriorityPhrases     []PriorityPhrase   `yaml:"priority_phrases"`
	HierarchyPatterns   []HierarchyPattern `yaml:"hierarchy_patterns"`
	ValueDomains        []ValueDomain      `yaml:"value_domains"`
	Conversions         []Conversion       `yaml:"conversions"`
	TimestampFormat     string             `yaml:"timestamp_format"`
	BannedTables        []BannedTable      `yaml:"banned_tables"`
	LegacyTables        []BannedTable      `yaml:"legacy_tables"`
	NumericNameHints    []string           `yaml:"numeric_name_hints"`
	Topics              []Topic            `yaml:"topics"`
	EntityTypes         []EntityType       `yaml:"entity_types"`
	IdentifierPriority  []string           `yaml:"identifier_priority"`
	PromptRules         []PromptRule       `yaml:"prompt_rules"`
	ColumnLabels        map[string]string  `yaml:"column_labels"`
	CacheClasses        CacheClasses       `yaml:"cache_classes"`
	FlexibleNameColumns []ColumnRef        `yaml:"flexible_name_columns"`
	LocationColumns     []string           `yaml:"location_columns"`

	banned map[string]BannedTable
}

// TableAlias maps a user phrase onto a canonical table.
type TableAlias struct {
	Phrase string `yaml:"phrase"`
	Table  string `yaml:"table"`
}

// PriorityPhrase pulls one or more tables into retrieval when the phrase appears.
type PriorityPhrase struct {
	Phrase string   `yaml:"phrase"`
	Tables []string `yaml:"tables"`
}

// HierarchyPattern pulls in a join chain when its regex matches the query.
type HierarchyPattern struct {
	Name    string   `yaml:"name"`
	Pattern string   `yaml:"pattern"`
	Tables  []string `yaml:"tables"`

	re *regexp.Regexp
}

// Matches reports whether the lowercased query matches the pattern.
func (h HierarchyPattern) Matches(query string) bool {
	return h.re != nil && h.re.MatchString(query)
}

// ValueDomain is the finite literal set a column accepts.
type ValueDomain struct {
	Column string        `yaml:"column"`
	Tables []string      `yaml:"tables"`
	Values []DomainValue `yaml:"values"`
}

// DomainValue is one allowed literal with the phrases users say for it.
type DomainValue struct {
	Literal string   `yaml:"literal"`
	Meaning string   `yaml:"meaning"`
	Phrases []string `yaml:"phrases"`
}

// Allows reports whether literal is in the domain (case-sensitive, as stored).
func (v ValueDomain) Allows(literal string) bool {
	for _, dv := range v.Values {
		if dv.Literal == literal {
			return true
		}
	}
	return false
}

// LiteralFor maps a user phrase or a wrong literal onto the stored literal.
func (v ValueDomain) LiteralFor(phrase string) (string, bool) {
	p := strings.ToLower(strings.TrimSpace(phrase))
	for _, dv := range v.Values {
		if strings.EqualFold(dv.Literal, p) {
			return dv.Literal, true
		}
		for _, ph := range dv.Phrases {
			if ph == p {
				return dv.Literal, true
			}
		}
	}
	return "", false
}

// AppliesTo reports whether the domain is scoped to table. An unscoped
// domain applies everywhere.
func (v ValueDomain) AppliesTo(table string) bool {
	if len(v.Tables) == 0 {
		return true
	}
	name := BareName(table)
	for _, t := range v.Tables {
		if t == name {
			return true
		}
	}
	return false
}

// Conversion is a mandated output expression for a raw column.
// Expression uses {col} as the placeholder for the column reference.
type Conversion struct {
	Column      string   `yaml:"column"`
	Tables      []string `yaml:"tables"`
	Kind        string   `yaml:"kind"`
	Expression  string   `yaml:"expression"`
	Alias       string   `yaml:"alias"`
	Description string   `yaml:"description"`
}

// Render returns the wrapped expression for ref, without alias.
func (c Conversion) Render(ref string) string {
	return strings.ReplaceAll(c.Expression, "{col}", ref)
}

// AppliesTo reports whether the conversion is mandated for table.
func (c Conversion) AppliesTo(table string) bool {
	name := BareName(table)
	for _, t := range c.Tables {
		if t == name {
			return true
		}
	}
	return false
}

// BannedTable is a name the model invents, with the table to use instead.
type BannedTable struct {
	Name        string `yaml:"name"`
	Replacement string `yaml:"replacement"`
}

// Topic groups keywords under a topic label for session salience.
type Topic struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// EntityType describes how to recognise a result frame's entity and how to
// query more about it.
type EntityType struct {
	Name       string     `yaml:"name"`
	Noun       string     `yaml:"noun"`
	Signatures [][]string `yaml:"signatures"`
	// Identifiers maps a frame column onto the SQL expression that filters it.
	Identifiers        []Identifier      `yaml:"identifiers"`
	Detail             DetailQuery       `yaml:"detail"`
	FilterColumns      map[string]string `yaml:"filter_columns"`
	DefaultNumeric     string            `yaml:"default_numeric"`
	CategoryColumn     string            `yaml:"category_column"`
	StatusColumn       string            `yaml:"status_column"`
	DescriptiveColumns []string          `yaml:"descriptive_columns"`
}

// Identifier is a primary identifier column and its SQL filter expression.
type Identifier struct {
	Column string `yaml:"column"`
	Expr   string `yaml:"expr"`
}

// DetailQuery is the canonical SELECT for an entity and its lookups.
type DetailQuery struct {
	Select string `yaml:"select"`
	From   string `yaml:"from"`
}

// MatchesColumns reports whether any signature is fully present in columns.
func (e EntityType) MatchesColumns(columns []string) bool {
	set := make(map[string]bool, len(columns))
	for _, c := range columns {
		set[strings.ToLower(c)] = true
	}
	for _, sig := range e.Signatures {
		all := len(sig) > 0
		for _, c := range sig {
			if !set[c] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// IdentifierExpr returns the filter expression for an identifier column.
func (e EntityType) IdentifierExpr(column string) (string, bool) {
	for _, id := range e.Identifiers {
		if id.Column == column {
			return id.Expr, true
		}
	}
	return "", false
}

// PromptRule is an imperative instruction added when a trigger matches.
type PromptRule struct {
	Name     string   `yaml:"name"`
	Triggers []string `yaml:"triggers"`
	Always   bool     `yaml:"always"`
	Text     string   `yaml:"text"`

	triggers []*regexp.Regexp
}

// CacheClasses groups tables by how long their query results stay fresh.
type CacheClasses struct {
	Master          []string `yaml:"master"`
	Report          []string `yaml:"report"`
	RealtimePhrases []string `yaml:"realtime_phrases"`
}

// ColumnRef names a column on a table.
type ColumnRef struct {
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
}

// Default returns the embedded rule set.
func Default() (*RuleSet, error) {
	return Parse(defaultRules)
}

// MustDefault is Default for tests and static wiring.
func MustDefault() *RuleSet {
	rs, err := Default()
	if err != nil {
		panic(err)
	}
	return rs
}

// Load reads a rule set from path, or the embedded default when path is empty.
func Load(path string) (*RuleSet, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and compiles a YAML rule set.
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := rs.compile(); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (rs *RuleSet) compile() error {
	if rs.DefaultSchema == "" {
		rs.DefaultSchema = "public"
	}

	for i := range rs.HierarchyPatterns {
		re, err := regexp.Compile(rs.HierarchyPatterns[i].Pattern)
		if err != nil {
			return fmt.Errorf("hierarchy pattern %q: %w", rs.HierarchyPatterns[i].Name, err)
		}
		rs.HierarchyPatterns[i].re = re
	}

	for i := range rs.PromptRules {
		for _, trig := range rs.PromptRules[i].Triggers {
			re, err := regexp.Compile(trig)
			if err != nil {
				return fmt.Errorf("prompt rule %q trigger: %w", rs.PromptRules[i].Name, err)
			}
			rs.PromptRules[i].triggers = append(rs.PromptRules[i].triggers, re)
		}
	}

	rs.banned = make(map[string]BannedTable, len(rs.BannedTables)+len(rs.LegacyTables))
	for _, list := range [][]BannedTable{rs.BannedTables, rs.LegacyTables} {
		for _, b := range list {
			if b.Name == "" || b.Replacement == "" {
				return fmt.Errorf("banned table entries need name and replacement")
			}
			if strings.EqualFold(b.Name, b.Replacement) {
				return fmt.Errorf("banned table %q replaces itself", b.Name)
			}
			rs.banned[strings.ToLower(b.Name)] = b
		}
	}
	for _, b := range rs.banned {
		if _, loop := rs.banned[strings.ToLower(b.Replacement)]; loop {
			return fmt.Errorf("replacement %q for %q is itself banned", b.Replacement, b.Name)
		}
	}

	for _, c := range rs.Conversions {
		if !strings.Contains(c.Expression, "{col}") || c.Alias == "" {
			return fmt.Errorf("conversion for %q needs {col} and an alias", c.Column)
		}
	}
	for _, e := range rs.EntityTypes {
		if len(e.Signatures) == 0 || len(e.Identifiers) == 0 {
			return fmt.Errorf("entity type %q needs signatures and identifiers", e.Name)
		}
	}
	return nil
}

// BareName strips any schema qualifier and lowercases a table name.
func BareName(table string) string {
	t := strings.ToLower(strings.TrimSpace(table))
	if i := strings.LastIndex(t, "."); i >= 0 {
		t = t[i+1:]
	}
	return strings.Trim(t, `"`)
}

// Banned returns the replacement entry when table is banned or legacy.
func (rs *RuleSet) Banned(table string) (BannedTable, bool) {
	b, ok := rs.banned[BareName(table)]
	return b, ok
}

// IsBanned reports whether table must never be shown to or accepted from the model.
func (rs *RuleSet) IsBanned(table string) bool {
	_, ok := rs.Banned(table)
	return ok
}

// BannedNames lists every banned and legacy name.
func (rs *RuleSet) BannedNames() []string {
	names := make([]string, 0, len(rs.banned))
	for _, list := range [][]BannedTable{rs.BannedTables, rs.LegacyTables} {
		for _, b := range list {
			names = append(names, strings.ToLower(b.Name))
		}
	}
	return names
}

// ConversionsFor returns the conversions mandated for table.
func (rs *RuleSet) ConversionsFor(table string) []Conversion {
	var out []Conversion
	for _, c := range rs.Conversions {
		if c.AppliesTo(table) {
			out = append(out, c)
		}
	}
	return out
}

// DomainFor returns the value domain for column, scoped to tables when given.
func (rs *RuleSet) DomainFor(column string, tables ...string) (ValueDomain, bool) {
	col := strings.ToLower(column)
	for _, d := range rs.ValueDomains {
		if d.Column != col {
			continue
		}
		if len(tables) == 0 {
			return d, true
		}
		for _, t := range tables {
			if d.AppliesTo(t) {
				return d, true
			}
		}
	}
	return ValueDomain{}, false
}

// TriggeredPromptRules returns the rules whose triggers match the query, in
// declaration order.
func (rs *RuleSet) TriggeredPromptRules(query string) []PromptRule {
	q := strings.ToLower(query)
	var out []PromptRule
	for _, r := range rs.PromptRules {
		if r.Always {
			out = append(out, r)
			continue
		}
		for _, re := range r.triggers {
			if re.MatchString(q) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Entity returns the entity type named name.
func (rs *RuleSet) Entity(name string) (EntityType, bool) {
	for _, e := range rs.EntityTypes {
		if e.Name == name {
			return e, true
		}
	}
	return EntityType{}, false
}

// Label returns the display label configured for column.
func (rs *RuleSet) Label(column string) (string, bool) {
	l, ok := rs.ColumnLabels[strings.ToLower(column)]
	return l, ok
}

// IsNumericName reports whether a column name sounds numeric enough to be
// cast when it is stored as text.
func (rs *RuleSet) IsNumericName(column string) bool {
	c := strings.ToLower(column)
	for _, hint := range rs.NumericNameHints {
		if strings.Contains(c, hint) {
			return true
		}
	}
	return false
}

// TableClass returns "master", "report" or "" for a table.
func (rs *RuleSet) TableClass(table string) string {
	name := BareName(table)
	for _, t := range rs.CacheClasses.Master {
		if t == name {
			return "master"
		}
	}
	for _, t := range rs.CacheClasses.Report {
		if t == name {
			return "report"
		}
	}
	return ""
}

// IsRealtimeQuery reports whether the user asked for live data.
func (rs *RuleSet) IsRealtimeQuery(text string) bool {
	q := " " + strings.ToLower(text) + " "
	for _, p := range rs.CacheClasses.RealtimePhrases {
		if strings.Contains(q, " "+p+" ") || strings.Contains(q, " "+p+"?") {
			return true
		}
	}
	return false
}

// IsLocationColumn reports whether column holds "lat,lng" text.
func (rs *RuleSet) IsLocationColumn(column string) bool {
	c := strings.ToLower(column)
	for _, l := range rs.LocationColumns {
		if c == l {
			return true
		}
	}
	return false
}

// IsFlexibleName reports whether equality on table.column should be relaxed
// into token ILIKE matching.
func (rs *RuleSet) IsFlexibleName(table, column string) bool {
	t, c := BareName(table), strings.ToLower(column)
	for _, ref := range rs.FlexibleNameColumns {
		if ref.Table == t && ref.Column == c {
			return true
		}
	}
	return false
}

// Qualify prefixes a bare table name with the default schema.
func (rs *RuleSet) Qualify(table string) string {
	if strings.Contains(table, ".") {
		return strings.ToLower(table)
	}
	return rs.DefaultSchema + "." + strings.ToLower(table)
}
