package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"nestedgraph/internal/catalog"
	"nestedgraph/internal/sqlutil"
)

// PlanSelectByID builds SQL for loading one row by identifier.
func PlanSelectByID(d sqlutil.Dialect, et *catalog.EntityType, id interface{}) (SQLQuery, error) {
	idCol, err := idColumn(et)
	if err != nil {
		return SQLQuery{}, err
	}
	return finish(sq.Select(quoteColumns(d, SelectColumns(et))...).
		From(d.QuoteIdentifier(et.Table)).
		Where(sq.Eq{d.QuoteIdentifier(idCol): id}).
		PlaceholderFormat(d.Placeholder))
}

// PlanSelectWhere builds SQL for loading every row whose column equals value,
// ordered by identifier.
func PlanSelectWhere(d sqlutil.Dialect, et *catalog.EntityType, column string, value interface{}) (SQLQuery, error) {
	idCol, err := idColumn(et)
	if err != nil {
		return SQLQuery{}, err
	}
	return finish(sq.Select(quoteColumns(d, SelectColumns(et))...).
		From(d.QuoteIdentifier(et.Table)).
		Where(sq.Eq{d.QuoteIdentifier(column): value}).
		OrderBy(d.QuoteIdentifier(idCol)).
		PlaceholderFormat(d.Placeholder))
}

// PlanSelectMembers builds SQL for loading the targets associated with
// ownerID through the many-to-many field f.
func PlanSelectMembers(d sqlutil.Dialect, f *catalog.Field, target *catalog.EntityType, ownerID interface{}) (SQLQuery, error) {
	if f.Junction == nil {
		return SQLQuery{}, fmt.Errorf("field %s has no junction", f.Name)
	}
	idCol, err := idColumn(target)
	if err != nil {
		return SQLQuery{}, err
	}
	j := f.Junction
	jt := d.QuoteIdentifier(j.Table)
	tt := d.QuoteIdentifier(target.Table)
	on := fmt.Sprintf("%s ON %s.%s = %s.%s", jt, jt, d.QuoteIdentifier(j.RemoteColumn), tt, d.QuoteIdentifier(idCol))

	return finish(sq.Select(qualifiedColumns(d, target.Table, SelectColumns(target))...).
		From(tt).
		Join(on).
		Where(sq.Eq{jt + "." + d.QuoteIdentifier(j.LocalColumn): ownerID}).
		OrderBy(tt + "." + d.QuoteIdentifier(idCol)).
		PlaceholderFormat(d.Placeholder))
}

// PlanSelectJunction builds SQL for loading the remote identifiers linked to localID.
func PlanSelectJunction(d sqlutil.Dialect, j catalog.Junction, localID interface{}) (SQLQuery, error) {
	return finish(sq.Select(d.QuoteIdentifier(j.RemoteColumn)).
		From(d.QuoteIdentifier(j.Table)).
		Where(sq.Eq{d.QuoteIdentifier(j.LocalColumn): localID}).
		PlaceholderFormat(d.Placeholder))
}

// PlanJunctionInsert builds SQL for linking localID to remoteID.
func PlanJunctionInsert(d sqlutil.Dialect, j catalog.Junction, localID, remoteID interface{}) (SQLQuery, error) {
	return finish(sq.Insert(d.QuoteIdentifier(j.Table)).
		Columns(d.QuoteIdentifier(j.LocalColumn), d.QuoteIdentifier(j.RemoteColumn)).
		Values(localID, remoteID).
		PlaceholderFormat(d.Placeholder))
}

// PlanJunctionDelete builds SQL for unlinking localID from remoteIDs. An empty
// remoteIDs removes every link of localID.
func PlanJunctionDelete(d sqlutil.Dialect, j catalog.Junction, localID interface{}, remoteIDs []interface{}) (SQLQuery, error) {
	where := sq.And{sq.Eq{d.QuoteIdentifier(j.LocalColumn): localID}}
	if len(remoteIDs) > 0 {
		where = append(where, sq.Eq{d.QuoteIdentifier(j.RemoteColumn): remoteIDs})
	}
	return finish(sq.Delete(d.QuoteIdentifier(j.Table)).
		Where(where).
		PlaceholderFormat(d.Placeholder))
}
