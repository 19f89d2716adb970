// Package planner builds parameterized SQL for entity writes, lookups and
// many-to-many association maintenance.
package planner

import (
	"fmt"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/sqlutil"
)

// SQLQuery is a planned SQL statement with args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// SelectColumns returns the stored columns of et in declaration order.
func SelectColumns(et *catalog.EntityType) []string {
	fields := et.StoredFields()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Column
	}
	return cols
}

func quoteColumns(d sqlutil.Dialect, cols []string) []string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = d.QuoteIdentifier(col)
	}
	return quoted
}

func qualifiedColumns(d sqlutil.Dialect, table string, cols []string) []string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = d.QuoteIdentifier(table) + "." + d.QuoteIdentifier(col)
	}
	return quoted
}

func idColumn(et *catalog.EntityType) (string, error) {
	id := et.ID()
	if id == nil {
		return "", fmt.Errorf("entity %s has no identifier field", et.Name)
	}
	return id.Column, nil
}

func finish(builder interface {
	ToSql() (string, []interface{}, error)
}) (SQLQuery, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}
