// Package prompts assembles the instruction bundles sent to the model: the
// SQL generation prompt, the answer prompt and the reference check prompt.
package prompts

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

// Section headers of the SQL prompt, in order.
const (
	SectionSchema       = "## SCHEMA"
	SectionDomainRules  = "## DOMAIN RULES"
	SectionValueDomains = "## VALUE DOMAINS"
	SectionConversions  = "## CONVERSIONS"
	SectionConversation = "## CONVERSATION CONTEXT"
	SectionOutput       = "## OUTPUT CONTRACT"
)

// MaxHistory is how many previous interactions the conversation section
// carries.
const MaxHistory = 3

// Prompt is one model call.
type Prompt struct {
	System      string
	User        string
	Temperature float64
}

// SchemaSource renders and inspects catalog tables.
type SchemaSource interface {
	Describe(table string) string
	Columns(table string) []catalog.Column
}

// Interaction is one earlier question and the SQL that answered it.
type Interaction struct {
	Question string
	SQL      string
	RowCount int
}

// ReferenceHint carries a referential question the resolver could not fully
// answer on its own, with the identifiers it points at.
type ReferenceHint struct {
	Noun             string
	IdentifierColumn string
	Identifiers      []string
	Ordinal          int
}

// SQLInput is everything the SQL prompt is built from.
type SQLInput struct {
	Question string
	Tables   []string
	History  []Interaction
	Summary  string
	Hint     *ReferenceHint
}

// Assembler builds prompts from the catalog and the domain rule set. It is
// safe for concurrent use.
type Assembler struct {
	schema SchemaSource
	rules  *rules.RuleSet
}

// NewAssembler creates an assembler.
func NewAssembler(schema SchemaSource, rs *rules.RuleSet) *Assembler {
	return &Assembler{schema: schema, rules: rs}
}

// BuildSQLPrompt creates the SQL generation prompt. Banned and legacy table
// names never appear in it.
func (a *Assembler) BuildSQLPrompt(in SQLInput) Prompt {
	tables := make([]string, 0, len(in.Tables))
	for _, t := range in.Tables {
		if !a.rules.IsBanned(t) {
			tables = append(tables, t)
		}
	}

	var prompt strings.Builder

	prompt.WriteString(SectionSchema + "\n\n")
	if len(tables) == 0 {
		prompt.WriteString("No table matched the question. If it cannot be answered from fleet data, return an empty sql.\n")
	}
	for _, t := range tables {
		if d := a.schema.Describe(t); d != "" {
			prompt.WriteString("- " + d + "\n")
		}
	}
	prompt.WriteString("\nOnly these tables and columns exist. Do not invent others.\n\n")

	prompt.WriteString(SectionDomainRules + "\n\n")
	for _, r := range a.rules.TriggeredPromptRules(in.Question) {
		prompt.WriteString(strings.TrimSpace(r.Text) + "\n\n")
	}

	prompt.WriteString(SectionValueDomains + "\n\n")
	domains := a.valueDomains(tables)
	if domains == "" {
		prompt.WriteString("None for these tables.\n")
	}
	prompt.WriteString(domains)
	prompt.WriteString("\n")

	prompt.WriteString(SectionConversions + "\n\n")
	prompt.WriteString(a.conversions(tables))
	prompt.WriteString("\n")

	prompt.WriteString(SectionConversation + "\n\n")
	prompt.WriteString(conversation(in))
	prompt.WriteString("\n")

	prompt.WriteString(SectionOutput + "\n\n")
	prompt.WriteString(outputContract)
	prompt.WriteString("\n## QUESTION\n\n")
	prompt.WriteString(in.Question + "\n")

	return Prompt{
		System:      sqlSystemMessage,
		User:        prompt.String(),
		Temperature: 0,
	}
}

func (a *Assembler) hasColumn(table, column string) bool {
	for _, c := range a.schema.Columns(table) {
		if c.Name == column {
			return true
		}
	}
	return false
}

func (a *Assembler) valueDomains(tables []string) string {
	var b strings.Builder
	for _, d := range a.rules.ValueDomains {
		inScope := false
		for _, t := range tables {
			if d.AppliesTo(t) && a.hasColumn(t, d.Column) {
				inScope = true
				break
			}
		}
		if !inScope {
			continue
		}

		var allowed, never []string
		for _, v := range d.Values {
			allowed = append(allowed, fmt.Sprintf("'%s' = %s", v.Literal, v.Meaning))
			if len(v.Phrases) > 0 {
				never = append(never, "'"+cases.Title(language.English).String(v.Phrases[0])+"'")
			}
		}
		b.WriteString(fmt.Sprintf("- %s uses %s.", d.Column, strings.Join(allowed, ", ")))
		if len(never) > 0 {
			b.WriteString(fmt.Sprintf(" Never compare it with %s.", strings.Join(never, " or ")))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (a *Assembler) conversions(tables []string) string {
	var b strings.Builder
	hasTimestamp := false
	for _, t := range tables {
		for _, conv := range a.rules.ConversionsFor(t) {
			b.WriteString(fmt.Sprintf("- %s.%s: always select %s AS %s. %s.\n",
				rules.BareName(t), conv.Column, conv.Render(conv.Column), conv.Alias, strings.TrimSuffix(conv.Description, ".")))
		}
		for _, c := range a.schema.Columns(t) {
			if c.Type == catalog.TypeTimestamp {
				hasTimestamp = true
			}
		}
	}
	if hasTimestamp && a.rules.TimestampFormat != "" {
		b.WriteString(fmt.Sprintf("- Timestamps: select TO_CHAR(col, '%s') with a readable alias.\n", a.rules.TimestampFormat))
	}
	if b.Len() == 0 {
		return "None for these tables.\n"
	}
	return b.String()
}

func conversation(in SQLInput) string {
	var b strings.Builder
	history := in.History
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	if len(history) == 0 && in.Summary == "" && in.Hint == nil {
		return "This is the first question of the conversation.\n"
	}
	if in.Summary != "" {
		b.WriteString("Recent topics: " + in.Summary + "\n")
	}
	for i, h := range history {
		b.WriteString(fmt.Sprintf("%d. Q: %s\n", i+1, h.Question))
		if h.SQL != "" {
			b.WriteString(fmt.Sprintf("   SQL: %s\n", h.SQL))
			b.WriteString(fmt.Sprintf("   Rows: %d\n", h.RowCount))
		}
	}
	if h := in.Hint; h != nil && len(h.Identifiers) > 0 {
		quoted := make([]string, len(h.Identifiers))
		for i, id := range h.Identifiers {
			quoted[i] = "'" + strings.ReplaceAll(id, "'", "''") + "'"
		}
		if h.Ordinal > 0 {
			b.WriteString(fmt.Sprintf("The question refers to %s #%d of the previous results: %s = %s.\n",
				h.Noun, h.Ordinal, h.IdentifierColumn, quoted[0]))
		} else {
			b.WriteString(fmt.Sprintf("The question refers to the previously shown %ss: %s IN (%s). Restrict the query to them.\n",
				h.Noun, h.IdentifierColumn, strings.Join(quoted, ", ")))
		}
	}
	return b.String()
}

const sqlSystemMessage = `You are a PostgreSQL expert for a fleet management database (plants, vehicles, complaints, customers, trip, stoppage and distance reports). You translate questions into a single read-only SELECT statement and reply with JSON only.`

const outputContract = `Respond with one JSON object and nothing else:
{
  "schema": "<tables you used, comma separated>",
  "sql": "<one PostgreSQL SELECT statement>",
  "response": "<one sentence describing what the query returns>",
  "follow_up": "<an optional related question, or empty>"
}
- sql must be a single SELECT (a WITH ... SELECT is fine). Never modify data.
- Qualify every table with its schema, e.g. public.vehicle_master.
- Every SELECT must end with LIMIT 50 or a smaller LIMIT.
- If the question cannot be answered from the tables above, set sql to "" and explain in response.
`
