// Package formatter turns query results into the reply a user reads:
// display names and units, place names for coordinates, and a short
// natural-language answer.
package formatter

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/database"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/geocode"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/logging"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/prompts"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

// Completer returns free text for a prompt.
type Completer interface {
	Complete(ctx context.Context, p prompts.Prompt) (string, error)
}

// Options carry per-request context into Format.
type Options struct {
	// Truncated tells the model only the first rows are shown.
	Truncated bool
	// Note is appended to the answer verbatim.
	Note string
}

// Answer is the formatted reply.
type Answer struct {
	Text  string
	Table *Table
	// Fallback is set when the text was rendered without the model.
	Fallback bool
}

// Formatter renders answers. It is safe for concurrent use.
type Formatter struct {
	rules    *rules.RuleSet
	geocoder geocode.Geocoder
	oracle   Completer
	logger   *zap.Logger
}

// New creates a formatter. geocoder may be nil; locations then get the
// fallback name.
func New(rs *rules.RuleSet, geocoder geocode.Geocoder, oracle Completer, logger *zap.Logger) *Formatter {
	return &Formatter{rules: rs, geocoder: geocoder, oracle: oracle, logger: logger.Named("formatter")}
}

// Format normalizes res and asks the model for a short answer. Empty
// results get a fixed sentence without a model call, and a model failure
// falls back to a Markdown table.
func (f *Formatter) Format(ctx context.Context, question string, res *database.QueryResult, opts Options) (*Answer, error) {
	if res != nil && res.Failure != nil {
		return &Answer{Text: withNote(apperrors.UserMessage(res.Failure), opts.Note), Table: &Table{}, Fallback: true}, nil
	}

	table := f.Normalize(ctx, res)
	if table.Len() == 0 {
		return &Answer{Text: withNote(f.EmptyMessage(question), opts.Note), Table: table, Fallback: true}, nil
	}

	answer := &Answer{Table: table}
	text, err := f.complete(ctx, question, table, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn("Answer generation failed, rendering table",
			zap.String("error", logging.SanitizeError(err)))
	}
	if strings.TrimSpace(text) == "" {
		text = "Here is what I found:\n\n" + Markdown(table)
		answer.Fallback = true
	}

	answer.Text = Scrub(withNote(strings.TrimSpace(text), opts.Note))
	return answer, nil
}

func (f *Formatter) complete(ctx context.Context, question string, table *Table, opts Options) (string, error) {
	if f.oracle == nil {
		return "", nil
	}
	rowsJSON, err := table.answerJSON()
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	p := prompts.BuildAnswerPrompt(prompts.AnswerInput{
		Question:  question,
		RowsJSON:  rowsJSON,
		RowCount:  table.Len(),
		Truncated: opts.Truncated,
	})
	return f.oracle.Complete(ctx, p)
}

// answerJSON encodes the rows for the model without the coordinate
// companions.
func (t *Table) answerJSON() (string, error) {
	rows := make([]map[string]any, len(t.Rows))
	for i, r := range t.Rows {
		out := make(map[string]any, len(r))
		for k, v := range r {
			if !t.companions[k] {
				out[k] = v
			}
		}
		rows[i] = out
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func withNote(text, note string) string {
	if note == "" {
		return text
	}
	return text + "\n\n" + note
}

var subjectPattern = regexp.MustCompile(`(?i)\b(?:for|in|at|from|on|with)\s+`)

// EmptyMessage is the reply for a question that matched no rows. It names
// what was asked about without suggesting other questions.
func (f *Formatter) EmptyMessage(question string) string {
	about := "that"
	q := strings.ToLower(question)
	for _, topic := range f.rules.Topics {
		for _, kw := range topic.Keywords {
			if strings.Contains(q, strings.ToLower(kw)) {
				about = inflection.Plural(topic.Name)
				break
			}
		}
		if about != "that" {
			break
		}
	}

	msg := "I couldn't find any information about " + about
	question = strings.TrimSpace(question)
	if locs := subjectPattern.FindAllStringIndex(question, -1); len(locs) > 0 {
		if subject := strings.TrimRight(question[locs[len(locs)-1][1]:], "?.! "); subject != "" {
			msg += " for " + subject
		}
	}
	return msg + "."
}

// Markdown renders the table without coordinate companions.
func Markdown(t *Table) string {
	var cols []string
	for _, c := range t.Columns {
		if !t.companions[c] {
			cols = append(cols, c)
		}
	}

	var b strings.Builder
	b.WriteString("| " + strings.Join(escapeCells(cols), " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(cols)) + "\n")
	for _, r := range t.Rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			if v := r[c]; v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		b.WriteString("| " + strings.Join(escapeCells(cells), " | ") + " |\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func escapeCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.ReplaceAll(strings.ReplaceAll(c, "|", `\|`), "\n", " ")
	}
	return out
}
