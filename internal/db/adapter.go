package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect abstracts the provider specific SQL the ledger needs and how a
// provider reports the failures the engine classifies.
type Dialect interface {
	Name() string
	QuoteIdent(name string) string
	Placeholder() sq.PlaceholderFormat
	// LedgerTableDDL returns an idempotent CREATE TABLE for an already quoted
	// table name, with a uniqueness constraint on name.
	LedgerTableDDL(table string) string
	IsUniqueViolation(err error) bool
	IsConnectionError(err error) bool
}

// Database is a pooled handle paired with the dialect of its provider.
type Database struct {
	*sql.DB
	Dialect Dialect
}

// Open builds a database handle for provider and dsn. It does not contact the
// server; the first query does.
func Open(provider, dsn string) (*Database, error) {
	switch strings.ToLower(provider) {
	case "postgres":
		conn, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		conn.SetConnMaxIdleTime(5 * time.Minute)
		conn.SetMaxOpenConns(5)
		return &Database{DB: conn, Dialect: Postgres{}}, nil
	case "mysql":
		// Validate DSN early to provide actionable errors.
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		conn, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}
		conn.SetConnMaxIdleTime(5 * time.Minute)
		conn.SetMaxOpenConns(5)
		return &Database{DB: conn, Dialect: MySQL{}}, nil
	case "sqlite":
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; a single connection also keeps
		// ":memory:" databases stable across calls.
		conn.SetMaxOpenConns(1)
		return &Database{DB: conn, Dialect: SQLite{}}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %s", provider)
	}
}

// DialectFor returns the dialect registered under provider.
func DialectFor(provider string) (Dialect, error) {
	switch strings.ToLower(provider) {
	case "postgres":
		return Postgres{}, nil
	case "mysql":
		return MySQL{}, nil
	case "sqlite":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %s", provider)
	}
}

// SplitStatements splits a script on top-level semicolons so each statement
// can be sent on its own; drivers disagree on multi-statement support.
//
// Semicolons do not split inside quotes, "--" and "/* */" comments,
// dollar-quoted bodies ($$ or $tag$) or BEGIN ... END and CASE ... END
// blocks. BEGIN directly followed by ";" or a transaction keyword is a
// statement of its own, not a block.
func SplitStatements(sqlText string) []string {
	var (
		out     []string
		start   int
		hasCode bool
		depth   int
		prev    string
	)

	flush := func(end int) {
		if hasCode {
			out = append(out, strings.TrimSpace(sqlText[start:end]))
		}
		hasCode = false
		prev = ""
	}

	n := len(sqlText)
	for i := 0; i < n; {
		c := sqlText[i]
		switch {
		case c == '-' && i+1 < n && sqlText[i+1] == '-':
			i = skipPast(sqlText, i+2, "\n")
		case c == '/' && i+1 < n && sqlText[i+1] == '*':
			i = skipPast(sqlText, i+2, "*/")
		case c == '\'' || c == '"' || c == '`':
			hasCode = true
			i = skipPast(sqlText, i+1, string(c))
		case c == '$':
			hasCode = true
			if tag, ok := dollarTag(sqlText[i:]); ok {
				i = skipPast(sqlText, i+len(tag), tag)
			} else {
				i++
			}
		case c == ';' && depth == 0:
			flush(i)
			i++
			start = i
		case isIdentStart(c):
			hasCode = true
			j := i + 1
			for j < n && isIdentChar(sqlText[j]) {
				j++
			}
			word := strings.ToUpper(sqlText[i:j])
			depth = blockDepth(depth, prev, word, nextWord(sqlText, j))
			prev = word
			i = j
		default:
			if c != ';' && !isSpace(c) {
				hasCode = true
			}
			i++
		}
	}
	flush(n)
	return out
}

// blockDepth updates the BEGIN/CASE nesting depth for word. END IF, END LOOP,
// END WHILE and END REPEAT close constructs that are never counted.
func blockDepth(depth int, prev, word, next string) int {
	switch word {
	case "BEGIN":
		switch next {
		case "", "TRANSACTION", "WORK", "DEFERRED", "IMMEDIATE", "EXCLUSIVE":
			return depth
		}
		return depth + 1
	case "CASE":
		if prev == "END" {
			return depth
		}
		return depth + 1
	case "END":
		switch next {
		case "IF", "LOOP", "WHILE", "REPEAT":
			return depth
		}
		if depth > 0 {
			return depth - 1
		}
	}
	return depth
}

// dollarTag reports the $tag$ opening s, if any. Positional parameters such
// as $1 are not tags.
func dollarTag(s string) (string, bool) {
	j := 1
	if j < len(s) && isIdentStart(s[j]) {
		for j < len(s) && isIdentChar(s[j]) {
			j++
		}
	}
	if j < len(s) && s[j] == '$' {
		return s[:j+1], true
	}
	return "", false
}

// skipPast returns the index just after the first delim at or after from, or
// len(s) when delim never appears.
func skipPast(s string, from int, delim string) int {
	idx := strings.Index(s[from:], delim)
	if idx < 0 {
		return len(s)
	}
	return from + idx + len(delim)
}

func nextWord(s string, from int) string {
	for from < len(s) && isSpace(s[from]) {
		from++
	}
	end := from
	for end < len(s) && isIdentChar(s[end]) {
		end++
	}
	return strings.ToUpper(s[from:end])
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
