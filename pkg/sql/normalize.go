package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrWriteAttempt marks rejections of statements that would change data.
	ErrWriteAttempt = errors.New("statement is not read-only")
	// ErrEmptyStatement indicates nothing is left after normalization.
	ErrEmptyStatement = errors.New("empty SQL statement")
)

// Normalize trims the statement, strips trailing semicolons and line
// comments, and rejects anything that still holds more than one statement.
//
// Line comments go because a LIMIT appended after one would be commented
// out. Block comments stay; they may carry hints such as the realtime tag.
func Normalize(sqlText string) (string, error) {
	toks := lex(strings.TrimSpace(sqlText))

	kept := make([]token, 0, len(toks))
	for _, t := range toks {
		if t.kind == tkComment && strings.HasPrefix(t.text, "--") {
			kept = append(kept, token{kind: tkSpace, text: " "})
			continue
		}
		kept = append(kept, t)
	}

	for len(kept) > 0 {
		last := kept[len(kept)-1]
		if last.kind != tkSpace && last.kind != tkSemicolon {
			break
		}
		kept = kept[:len(kept)-1]
	}

	for _, t := range kept {
		if t.kind == tkSemicolon {
			return "", ErrMultipleStatements
		}
	}

	out := strings.TrimSpace(join(kept))
	if out == "" {
		return "", ErrEmptyStatement
	}
	return out, nil
}
