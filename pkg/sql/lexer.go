package sql

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tkSpace tokenKind = iota
	tkComment
	tkIdent
	tkQuoted
	tkString
	tkNumber
	tkParam
	tkOp
	tkLParen
	tkRParen
	tkComma
	tkDot
	tkSemicolon
)

type token struct {
	kind tokenKind
	text string
}

func (t token) significant() bool {
	return t.kind != tkSpace && t.kind != tkComment
}

// word returns the lowercased identifier name, unquoting quoted identifiers.
func (t token) word() string {
	switch t.kind {
	case tkIdent:
		return strings.ToLower(t.text)
	case tkQuoted:
		return strings.ToLower(strings.ReplaceAll(strings.Trim(t.text, `"`), `""`, `"`))
	}
	return ""
}

// is reports whether t is the unquoted keyword kw.
func (t token) is(kw string) bool {
	return t.kind == tkIdent && strings.EqualFold(t.text, kw)
}

func (t token) isName() bool {
	return t.kind == tkIdent || t.kind == tkQuoted
}

// stringValue returns the content of a single-quoted literal.
func (t token) stringValue() string {
	if t.kind != tkString || len(t.text) < 2 || t.text[0] != '\'' {
		return ""
	}
	return strings.ReplaceAll(t.text[1:len(t.text)-1], "''", "'")
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// lex splits a statement into tokens. Concatenating the token texts gives
// back the input. Unterminated strings and comments run to end of input.
func lex(s string) []token {
	var toks []token
	r := []rune(s)
	n := len(r)

	for i := 0; i < n; {
		c := r[i]
		start := i

		switch {
		case unicode.IsSpace(c):
			for i < n && unicode.IsSpace(r[i]) {
				i++
			}
			toks = append(toks, token{tkSpace, string(r[start:i])})

		case c == '-' && i+1 < n && r[i+1] == '-':
			for i < n && r[i] != '\n' {
				i++
			}
			toks = append(toks, token{tkComment, string(r[start:i])})

		case c == '/' && i+1 < n && r[i+1] == '*':
			i += 2
			depth := 1
			for i < n && depth > 0 {
				switch {
				case r[i] == '/' && i+1 < n && r[i+1] == '*':
					depth++
					i += 2
				case r[i] == '*' && i+1 < n && r[i+1] == '/':
					depth--
					i += 2
				default:
					i++
				}
			}
			toks = append(toks, token{tkComment, string(r[start:i])})

		case c == '\'':
			i++
			for i < n {
				if r[i] == '\'' {
					if i+1 < n && r[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			toks = append(toks, token{tkString, string(r[start:i])})

		case c == '"':
			i++
			for i < n {
				if r[i] == '"' {
					if i+1 < n && r[i+1] == '"' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			toks = append(toks, token{tkQuoted, string(r[start:i])})

		case c == '$' && i+1 < n && unicode.IsDigit(r[i+1]):
			i++
			for i < n && unicode.IsDigit(r[i]) {
				i++
			}
			toks = append(toks, token{tkParam, string(r[start:i])})

		case c == '$':
			// Dollar-quoted string: $tag$ ... $tag$
			j := i + 1
			for j < n && (r[j] == '_' || unicode.IsLetter(r[j]) || unicode.IsDigit(r[j])) {
				j++
			}
			if j >= n || r[j] != '$' {
				i++
				toks = append(toks, token{tkOp, "$"})
				continue
			}
			tag := r[i : j+1]
			i = n
			for k := j + 1; k+len(tag) <= n; k++ {
				if string(r[k:k+len(tag)]) == string(tag) {
					i = k + len(tag)
					break
				}
			}
			toks = append(toks, token{tkString, string(r[start:i])})

		case c == '_' || unicode.IsLetter(c):
			for i < n && (r[i] == '_' || r[i] == '$' || unicode.IsLetter(r[i]) || unicode.IsDigit(r[i])) {
				i++
			}
			toks = append(toks, token{tkIdent, string(r[start:i])})

		case unicode.IsDigit(c) || (c == '.' && i+1 < n && unicode.IsDigit(r[i+1])):
			for i < n && (unicode.IsDigit(r[i]) || r[i] == '.') {
				i++
			}
			if i < n && (r[i] == 'e' || r[i] == 'E') {
				j := i + 1
				if j < n && (r[j] == '+' || r[j] == '-') {
					j++
				}
				if j < n && unicode.IsDigit(r[j]) {
					i = j
					for i < n && unicode.IsDigit(r[i]) {
						i++
					}
				}
			}
			toks = append(toks, token{tkNumber, string(r[start:i])})

		case c == '(':
			i++
			toks = append(toks, token{tkLParen, "("})
		case c == ')':
			i++
			toks = append(toks, token{tkRParen, ")"})
		case c == ',':
			i++
			toks = append(toks, token{tkComma, ","})
		case c == '.':
			i++
			toks = append(toks, token{tkDot, "."})
		case c == ';':
			i++
			toks = append(toks, token{tkSemicolon, ";"})

		default:
			for i < n && strings.ContainsRune("+-*/<>=~!@#%^&|`?:", r[i]) {
				if i > start && (r[i] == '-' && i+1 < n && r[i+1] == '-') {
					break
				}
				i++
			}
			if i == start {
				i++
			}
			toks = append(toks, token{tkOp, string(r[start:i])})
		}
	}
	return toks
}

func join(toks []token) string {
	var b strings.Builder
	for _, t := range toks {
		b.WriteString(t.text)
	}
	return b.String()
}

// sigToken is a significant token with its paren depth.
type sigToken struct {
	token
	depth int
	// idx is the position in the full token slice.
	idx int
}

// significant drops whitespace and comments and records paren depth.
func significant(toks []token) []sigToken {
	out := make([]sigToken, 0, len(toks))
	depth := 0
	for i, t := range toks {
		if !t.significant() {
			continue
		}
		if t.kind == tkRParen {
			depth--
		}
		out = append(out, sigToken{token: t, depth: depth, idx: i})
		if t.kind == tkLParen {
			depth++
		}
	}
	return out
}
