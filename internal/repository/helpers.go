package repository

import (
	"database/sql"
	"errors"

	"github.com/gravelroot/dispatch-core/internal/apperr"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// rowsAffecter is satisfied by sql.Result.
type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func checkRowsAffected(res rowsAffecter, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFoundf("%s not found", entity)
	}
	return nil
}
