// Package sqlutil provides SQL dialect helpers: identifier quoting and
// placeholder formats.
package sqlutil

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect captures the per-database differences the planners care about.
type Dialect struct {
	Name string
	// Placeholder is the squirrel placeholder format for bind parameters.
	Placeholder sq.PlaceholderFormat
	// Returning reports whether INSERT ... RETURNING is used instead of LastInsertId.
	Returning bool
	quote     byte
}

var (
	MySQL    = Dialect{Name: "mysql", Placeholder: sq.Question, quote: '`'}
	Postgres = Dialect{Name: "postgres", Placeholder: sq.Dollar, Returning: true, quote: '"'}
	SQLite   = Dialect{Name: "sqlite", Placeholder: sq.Question, quote: '"'}
)

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "mysql", "tidb":
		return MySQL, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported SQL dialect %q", driver)
	}
}

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// and escapes any quote characters within the identifier.
func (d Dialect) QuoteIdentifier(name string) string {
	q := string(d.quote)
	if q == "\x00" {
		q = "`"
	}
	escaped := strings.ReplaceAll(name, q, q+q)
	return q + escaped + q
}

// QuoteIdentifier quotes a SQL identifier with backticks and escapes any
// backticks within the identifier.
func QuoteIdentifier(name string) string {
	return MySQL.QuoteIdentifier(name)
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}
