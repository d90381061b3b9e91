// Package dialect carries the database-kind-specific quoting, placeholder,
// and pagination rules. A Dialect is derived once at connection-open time
// and threaded through every other package that needs to assemble SQL.
package dialect

import (
	"fmt"
	"strings"
)

// Kind is a tagged variant identifying a supported database family.
// It is an enum, never a string sniffed from a driver's type name.
type Kind int

const (
	// Unknown is the zero value and is always rejected.
	Unknown Kind = iota
	Postgres
	SQLServer
)

func (k Kind) String() string {
	switch k {
	case Postgres:
		return "postgres"
	case SQLServer:
		return "sqlserver"
	default:
		return "unknown"
	}
}

// Dialect is the set of database-kind-specific rules the rest of the
// engine needs in order to assemble SQL without ever interpolating a raw
// identifier or value into a query string.
type Dialect interface {
	Kind() Kind
	// Quote quotes a single, already-validated identifier segment.
	// Callers pass pre-split segments (schema, table) one at a time.
	Quote(segment string) string
	// Placeholder returns the bound-parameter placeholder for the n'th
	// (1-indexed) parameter in a query.
	Placeholder(n int) string
	// Paginate appends the dialect-native pagination clause to a query
	// that must already end in an ORDER BY clause. limit and offset are
	// assumed to have been validated as non-negative integers by the
	// caller (spec.md §9 Open Question (b)) — they are interpolated
	// directly since they are never user-controlled strings, only ints.
	Paginate(query string, limit, offset int) string
	// ProbeQuery returns the trivial query used for connection health
	// checks.
	ProbeQuery() string
}

// New returns the Dialect for the given Kind, or an error if the kind is
// not recognized. Connection setup must reject Unknown before opening
// any connection.
func New(k Kind) (Dialect, error) {
	switch k {
	case Postgres:
		return postgresDialect{}, nil
	case SQLServer:
		return sqlServerDialect{}, nil
	default:
		return nil, fmt.Errorf("dialect: unknown database kind %v", k)
	}
}

type postgresDialect struct{}

func (postgresDialect) Kind() Kind { return Postgres }

// Quote doubles any embedded double-quote and wraps in double quotes,
// matching github.com/lib/pq's QuoteIdentifier behavior.
func (postgresDialect) Quote(segment string) string {
	return `"` + strings.ReplaceAll(segment, `"`, `""`) + `"`
}

func (postgresDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (postgresDialect) Paginate(query string, limit, offset int) string {
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", query, limit, offset)
}

func (postgresDialect) ProbeQuery() string { return "SELECT 1" }

type sqlServerDialect struct{}

func (sqlServerDialect) Kind() Kind { return SQLServer }

// Quote doubles any embedded closing bracket and wraps in square brackets.
func (sqlServerDialect) Quote(segment string) string {
	return `[` + strings.ReplaceAll(segment, `]`, `]]`) + `]`
}

func (sqlServerDialect) Placeholder(int) string {
	return "?"
}

func (sqlServerDialect) Paginate(query string, limit, offset int) string {
	return fmt.Sprintf("%s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", query, offset, limit)
}

func (sqlServerDialect) ProbeQuery() string { return "SELECT 1" }
