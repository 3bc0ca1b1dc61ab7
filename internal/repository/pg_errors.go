package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// invalidTextRepresentation is what Postgres raises when a key such as a uuid cannot be cast.
const invalidTextRepresentation pq.ErrorCode = "22P02"

func isMalformedKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation
}

// noRowsOnMalformedKey reports a key that can never match a row as sql.ErrNoRows.
func noRowsOnMalformedKey(err error) error {
	if isMalformedKey(err) {
		return sql.ErrNoRows
	}
	return err
}
