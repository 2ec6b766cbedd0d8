package db

import (
	"database/sql"
	"errors"
	"strings"
)

// IsNoRows checks if the error is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsSchemaMissing reports whether the error indicates that the schema has not
// been created yet. The web process initializes the schema at boot; workers
// polling before that see "no such table" and must treat it as a startup
// transient rather than a hard failure.
func IsSchemaMissing(err error) bool {
	for err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
