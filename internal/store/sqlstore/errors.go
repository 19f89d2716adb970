package sqlstore

import (
	"errors"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"nestedgraph/internal/store"
)

// normalizeError maps driver integrity errors to *store.ConstraintError and
// returns every other error unchanged.
func normalizeError(entity string, err error) error {
	if err == nil {
		return nil
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		var constraint store.Constraint
		switch mysqlErr.Number {
		case 1062:
			constraint = store.ConstraintUnique
		case 1451, 1452:
			constraint = store.ConstraintForeignKey
		case 1048, 1364:
			constraint = store.ConstraintNotNull
		case 3819:
			constraint = store.ConstraintCheck
		default:
			return err
		}
		return &store.ConstraintError{Constraint: constraint, Entity: entity, Message: mysqlErr.Message,
			Code: strconv.Itoa(int(mysqlErr.Number)), Err: err}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Class() != "23" {
			return err
		}
		constraint := store.ConstraintCheck
		switch pqErr.Code {
		case "23505":
			constraint = store.ConstraintUnique
		case "23503":
			constraint = store.ConstraintForeignKey
		case "23502":
			constraint = store.ConstraintNotNull
		}
		return &store.ConstraintError{Constraint: constraint, Entity: entity, Message: pqErr.Message,
			Code: string(pqErr.Code), Err: err}
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code&0xff != sqlite3.SQLITE_CONSTRAINT {
			return err
		}
		constraint := store.ConstraintCheck
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			constraint = store.ConstraintUnique
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			constraint = store.ConstraintForeignKey
		case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			constraint = store.ConstraintNotNull
		}
		return &store.ConstraintError{Constraint: constraint, Entity: entity, Message: sqliteErr.Error(),
			Code: strconv.Itoa(code), Err: err}
	}

	return err
}
