package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/sqlutil"
)

// PlanInsert builds SQL for inserting a single row with the provided columns.
// Dialects with RETURNING support append the identifier column.
func PlanInsert(d sqlutil.Dialect, et *catalog.EntityType, columns []string, values []interface{}) (SQLQuery, error) {
	if len(columns) != len(values) {
		return SQLQuery{}, fmt.Errorf("insert into %s: %d columns but %d values", et.Table, len(columns), len(values))
	}
	idCol, err := idColumn(et)
	if err != nil {
		return SQLQuery{}, err
	}
	returning := ""
	if d.Returning {
		returning = " RETURNING " + d.QuoteIdentifier(idCol)
	}

	if len(columns) == 0 {
		if d.Name == sqlutil.MySQL.Name {
			return SQLQuery{SQL: fmt.Sprintf("INSERT INTO %s () VALUES ()", d.QuoteIdentifier(et.Table))}, nil
		}
		return SQLQuery{SQL: fmt.Sprintf("INSERT INTO %s DEFAULT VALUES%s", d.QuoteIdentifier(et.Table), returning)}, nil
	}

	builder := sq.Insert(d.QuoteIdentifier(et.Table)).
		Columns(quoteColumns(d, columns)...).
		Values(values...).
		PlaceholderFormat(d.Placeholder)
	if returning != "" {
		builder = builder.Suffix(returning[1:])
	}
	return finish(builder)
}

// PlanUpdate builds SQL for updating a single row by identifier.
func PlanUpdate(d sqlutil.Dialect, et *catalog.EntityType, set map[string]interface{}, id interface{}) (SQLQuery, error) {
	if len(set) == 0 {
		return SQLQuery{}, fmt.Errorf("update set cannot be empty")
	}
	if id == nil {
		return SQLQuery{}, fmt.Errorf("update %s: missing identifier", et.Table)
	}
	idCol, err := idColumn(et)
	if err != nil {
		return SQLQuery{}, err
	}

	setMap := make(map[string]interface{}, len(set))
	for col, val := range set {
		setMap[d.QuoteIdentifier(col)] = val
	}
	update := sq.Update(d.QuoteIdentifier(et.Table)).
		SetMap(setMap).
		Where(sq.Eq{d.QuoteIdentifier(idCol): id}).
		PlaceholderFormat(d.Placeholder)
	return finish(update)
}

// PlanDelete builds SQL for deleting a single row by identifier.
func PlanDelete(d sqlutil.Dialect, et *catalog.EntityType, id interface{}) (SQLQuery, error) {
	if id == nil {
		return SQLQuery{}, fmt.Errorf("delete from %s: missing identifier", et.Table)
	}
	idCol, err := idColumn(et)
	if err != nil {
		return SQLQuery{}, err
	}
	deleteBuilder := sq.Delete(d.QuoteIdentifier(et.Table)).
		Where(sq.Eq{d.QuoteIdentifier(idCol): id}).
		PlaceholderFormat(d.Placeholder)
	return finish(deleteBuilder)
}
