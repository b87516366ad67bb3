package ai

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/programmerrush/InsightDB-api/internal/database"
	"github.com/programmerrush/InsightDB-api/internal/errs"
)

var (
	reSQLBlock = regexp.MustCompile("(?is)```sql[ \\t]*\\r?\\n?(.*?)```")
	reWrite    = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|DROP|ALTER|CREATE|TRUNCATE|GRANT|REVOKE|COPY|CALL|EXEC|EXECUTE|LOCK|VACUUM|REINDEX|SET|RESET|INTO)\b`)
)

// readOnlyKeywords are the leading keywords allowed to run unattended.
var readOnlyKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"EXPLAIN":  true,
	"SHOW":     true,
	"DESCRIBE": true,
}

// ExtractSQL returns the bodies of up to n ```sql fenced blocks in text,
// in order of appearance. Empty blocks are skipped.
func ExtractSQL(text string, n int) []string {
	var out []string
	for _, m := range reSQLBlock.FindAllStringSubmatch(text, -1) {
		if len(out) >= n {
			break
		}
		body := strings.TrimSpace(m[1])
		if body != "" {
			out = append(out, body)
		}
	}
	return out
}

// CheckReadOnly accepts a single statement whose leading keyword is one of
// SELECT, WITH, EXPLAIN, SHOW or DESCRIBE and which contains no
// data-modifying keyword outside string literals, quoted identifiers and
// comments. The statement must pass under every way the engine for d may
// lex it; an empty dialect checks both engines.
// Every rejection is an errs.ErrKindSafetyRejected error.
func CheckReadOnly(sql string, d database.Dialect) error {
	for _, r := range lexings(d) {
		if err := checkReadOnly(sql, r); err != nil {
			return err
		}
	}
	return nil
}

func checkReadOnly(sql string, r lexRules) error {
	code, _ := scrub(sql, r)
	body := strings.TrimSpace(code)
	if body == "" {
		return errs.New(errs.ErrKindSafetyRejected, "empty statement")
	}

	kw := leadingKeyword(body)
	if kw == "" {
		return errs.New(errs.ErrKindSafetyRejected, "statement does not start with a keyword")
	}
	if !readOnlyKeywords[kw] {
		return errs.Newf(errs.ErrKindSafetyRejected,
			"%s statements are not executed automatically; only SELECT, WITH, EXPLAIN, SHOW and DESCRIBE are allowed", kw)
	}

	if strings.Contains(strings.TrimRight(body, "; \t\r\n"), ";") {
		return errs.New(errs.ErrKindSafetyRejected, "multiple statements are not executed automatically")
	}
	if m := reWrite.FindString(body); m != "" {
		return errs.Newf(errs.ErrKindSafetyRejected, "statement contains %s and is not executed automatically", strings.ToUpper(m))
	}
	return nil
}

// withRowCap appends "LIMIT n" unless the outermost query already bounds
// its rows. Trailing comments and semicolons are dropped first so the cap
// cannot end up inside a comment. The second result reports whether
// anything was appended.
func withRowCap(sql string, n int, d database.Dialect) (string, bool) {
	code, closed := scrub(sql, lexings(d)[0])
	if !closed || hasTopLevelLimit(code) {
		return sql, false
	}

	end := len(code)
	for end > 0 && (code[end-1] <= ' ' || code[end-1] == ';') {
		end--
	}
	if end == 0 {
		return sql, false
	}
	return sql[:end] + " LIMIT " + strconv.Itoa(n), true
}

// hasTopLevelLimit reports whether scrubbed code has LIMIT or FETCH
// FIRST|NEXT outside any parentheses.
func hasTopLevelLimit(code string) bool {
	depth := 0
	prev := ""
	for i := 0; i < len(code); {
		c := code[i]
		switch {
		case c == '(':
			depth++
			i++
		case c == ')':
			if depth > 0 {
				depth--
			}
			i++
		case isIdentStart(c):
			j := i
			for j < len(code) && isIdentByte(code[j]) {
				j++
			}
			word := strings.ToUpper(code[i:j])
			if depth == 0 && (word == "LIMIT" || prev == "FETCH" && (word == "FIRST" || word == "NEXT")) {
				return true
			}
			prev = word
			i = j
		default:
			i++
		}
	}
	return false
}

func leadingKeyword(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_')
	})
	if end < 0 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}

type escapes int

const (
	escapeNone    escapes = iota
	escapeEString         // backslash escapes only inside E'...'
	escapeAll             // backslash escapes inside every string literal
)

// lexRules describes how one engine splits text into code, comments and
// literals.
type lexRules struct {
	hashComments       bool // # starts a line comment
	dashNeedsSpace     bool // -- is a comment only when followed by whitespace
	nestedComments     bool // /* */ comments nest
	execComments       bool // /*! ... */ bodies are executed
	backticks          bool // `quoted identifiers`
	doubleQuoteStrings bool // "..." is a string literal
	dollarQuotes       bool // $tag$ ... $tag$ bodies
	backslash          escapes
}

var (
	postgresRules = lexRules{nestedComments: true, dollarQuotes: true, backslash: escapeEString}
	mysqlRules    = lexRules{
		hashComments:       true,
		dashNeedsSpace:     true,
		execComments:       true,
		backticks:          true,
		doubleQuoteStrings: true,
		backslash:          escapeAll,
	}
)

// lexings lists every way the engine for d may read a statement, depending
// on server settings the gate cannot see (standard_conforming_strings on
// PostgreSQL, NO_BACKSLASH_ESCAPES on MySQL). The first entry is the
// engine default.
func lexings(d database.Dialect) []lexRules {
	pgLegacy := postgresRules
	pgLegacy.backslash = escapeAll
	myNoEscapes := mysqlRules
	myNoEscapes.backslash = escapeNone

	switch d {
	case database.DialectPostgres:
		return []lexRules{postgresRules, pgLegacy}
	case database.DialectMySQL:
		return []lexRules{mysqlRules, myNoEscapes}
	default:
		return []lexRules{postgresRules, pgLegacy, mysqlRules, myNoEscapes}
	}
}

// scrub blanks comments and the contents of string literals, quoted
// identifiers and dollar-quoted bodies, so keyword and separator checks
// only see SQL syntax. Byte offsets are preserved. The second result is
// false when a literal or block comment is left open.
func scrub(s string, r lexRules) (string, bool) {
	out := []byte(s)
	blank := func(from, to int) {
		for k := from; k < to; k++ {
			out[k] = ' '
		}
	}

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '-' && strings.HasPrefix(s[i:], "--") && (!r.dashNeedsSpace || i+2 == len(s) || s[i+2] <= ' '),
			c == '#' && r.hashComments:
			j := strings.IndexByte(s[i:], '\n')
			if j < 0 {
				blank(i, len(s))
				return string(out), true
			}
			blank(i, i+j)
			i += j

		case c == '/' && strings.HasPrefix(s[i:], "/*"):
			if r.execComments && strings.HasPrefix(s[i:], "/*!") {
				j := i + 3
				for j < len(s) && s[j] >= '0' && s[j] <= '9' {
					j++
				}
				blank(i, j)
				i = j
				continue
			}
			end := commentEnd(s, i, r.nestedComments)
			if end < 0 {
				blank(i, len(s))
				return string(out), false
			}
			blank(i, end)
			i = end

		case c == '\'' || c == '"' || c == '`' && r.backticks:
			j := closingQuote(s, i+1, c, backslashEscapes(s, i, r))
			if j < 0 {
				blank(i+1, len(s))
				return string(out), false
			}
			blank(i+1, j)
			i = j + 1

		case c == '$' && r.dollarQuotes && (i == 0 || !isIdentByte(s[i-1])):
			tag, ok := dollarTag(s[i:])
			if !ok {
				i++
				continue
			}
			j := strings.Index(s[i+len(tag):], tag)
			if j < 0 {
				blank(i, len(s))
				return string(out), false
			}
			end := i + 2*len(tag) + j
			blank(i, end)
			i = end

		default:
			i++
		}
	}
	return string(out), true
}

// backslashEscapes reports whether a backslash escapes the next byte inside
// the literal opened by the quote at s[i].
func backslashEscapes(s string, i int, r lexRules) bool {
	switch s[i] {
	case '\'':
		switch r.backslash {
		case escapeAll:
			return true
		case escapeEString:
			return i > 0 && (s[i-1] == 'E' || s[i-1] == 'e') && (i == 1 || !isIdentByte(s[i-2]))
		}
	case '"':
		return r.doubleQuoteStrings && r.backslash == escapeAll
	}
	return false
}

// commentEnd returns the offset just past the block comment opening at
// start, or -1 when it is never closed.
func commentEnd(s string, start int, nested bool) int {
	depth := 0
	for i := start; i+1 < len(s); {
		switch {
		case s[i] == '/' && s[i+1] == '*':
			if depth == 0 || nested {
				depth++
			}
			i += 2
		case s[i] == '*' && s[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return -1
}

// closingQuote finds the quote ending a literal that opened before start.
// Doubled quotes stay inside the literal, as do backslash-escaped bytes
// when escapes is set.
func closingQuote(s string, start int, q byte, escapes bool) int {
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if escapes {
				i++
			}
		case q:
			if i+1 < len(s) && s[i+1] == q {
				i++
				continue
			}
			return i
		}
	}
	return -1
}

// dollarTag recognises a PostgreSQL $tag$ opener at the start of s.
func dollarTag(s string) (string, bool) {
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1], true
		}
		if !(isIdentStart(c) || i > 1 && c >= '0' && c <= '9') {
			return "", false
		}
	}
	return "", false
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '$' || c >= 0x80
}
