package engine

import (
	"strings"
	"unicode"
)

// Syntax describes the lexical features of a dialect that matter when
// cutting a script into statements.
type Syntax struct {
	BackslashEscapes bool // MySQL string escapes
	HashComments     bool // MySQL # line comments
	BracketIdents    bool // SQL Server [identifiers]
	DollarQuotes     bool // PostgreSQL $tag$ bodies
}

// SplitStatements cuts a script into statements at top-level semicolons.
// Quoted strings, quoted identifiers, dollar-quoted bodies and comments are
// kept intact. Segments holding nothing but whitespace and comments are dropped.
func SplitStatements(script string, syn Syntax) []string {
	var (
		out        []string
		start      int
		hasContent bool
	)
	flush := func(end int) {
		if hasContent {
			if stmt := strings.TrimSpace(script[start:end]); stmt != "" {
				out = append(out, stmt)
			}
		}
		start = end + 1
		hasContent = false
	}

	n := len(script)
	for i := 0; i < n; i++ {
		c := script[i]
		switch {
		case c == ';':
			flush(i)
		case c == '-' && i+1 < n && script[i+1] == '-':
			i = skipUntil(script, i+2, "\n") - 1
		case c == '#' && syn.HashComments:
			i = skipUntil(script, i+1, "\n") - 1
		case c == '/' && i+1 < n && script[i+1] == '*':
			i = skipUntil(script, i+2, "*/") - 1
		case c == '\'' || c == '"' || c == '`':
			hasContent = true
			i = skipQuoted(script, i, c, syn.BackslashEscapes)
		case c == '[' && syn.BracketIdents:
			hasContent = true
			i = skipQuoted(script, i, ']', false)
		case c == '$' && syn.DollarQuotes:
			hasContent = true
			if tag, ok := dollarTag(script, i); ok {
				end := strings.Index(script[i+len(tag):], tag)
				if end < 0 {
					i = n - 1
				} else {
					i += 2*len(tag) + end - 1
				}
			}
		default:
			if !unicode.IsSpace(rune(c)) {
				hasContent = true
			}
		}
	}
	if start < n {
		flush(n)
	}
	return out
}

// skipUntil returns the index just past the first occurrence of terminator
// at or after from, or len(s).
func skipUntil(s string, from int, terminator string) int {
	if from >= len(s) {
		return len(s)
	}
	idx := strings.Index(s[from:], terminator)
	if idx < 0 {
		return len(s)
	}
	return from + idx + len(terminator)
}

// skipQuoted returns the index of the closing character of the literal that
// starts at i. A doubled closing character is an escape.
func skipQuoted(s string, i int, closing byte, backslashEscapes bool) int {
	for j := i + 1; j < len(s); j++ {
		switch {
		case backslashEscapes && s[j] == '\\':
			j++
		case s[j] == closing:
			if j+1 < len(s) && s[j+1] == closing {
				j++
				continue
			}
			return j
		}
	}
	return len(s) - 1
}

// dollarTag recognises a dollar-quote opener ($$ or $tag$) at i.
func dollarTag(s string, i int) (string, bool) {
	for j := i + 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[i : j+1], true
		}
		if !(c == '_' || unicode.IsLetter(rune(c)) || (j > i+1 && unicode.IsDigit(rune(c)))) {
			return "", false
		}
	}
	return "", false
}
