package postgres

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
	ierr "github.com/voxbill/voxbill/internal/errors"
)

const uniqueViolation = pq.ErrorCode("23505")

// uniqueConstraint returns the violated unique constraint, if any
func uniqueConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

// dbError maps driver errors onto the error sentinels. Missing rows become
// ErrNotFound and unique violations ErrAlreadyExists.
func dbError(err error, hint string, details map[string]any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ierr.WithError(err).
			WithHint(hint).
			WithReportableDetails(details).
			Mark(ierr.ErrNotFound)
	}
	if _, ok := uniqueConstraint(err); ok {
		return ierr.WithError(err).
			WithHint(hint).
			WithReportableDetails(details).
			Mark(ierr.ErrAlreadyExists)
	}
	return ierr.WithError(err).
		WithHint(hint).
		WithReportableDetails(details).
		Mark(ierr.ErrDatabase)
}

// versionConflict is returned when an optimistic update matched no row
func versionConflict(entity, id string, version int) error {
	return ierr.NewError(entity + " was modified concurrently").
		WithHintf("The %s changed since it was read, reload and try again", entity).
		WithReportableDetails(map[string]any{
			"id":      id,
			"version": version,
		}).
		Mark(ierr.ErrVersionConflict)
}

func checkUpdated(res sql.Result, entity, id string, version int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "Failed to read update result", map[string]any{"id": id})
	}
	if n == 0 {
		return versionConflict(entity, id, version)
	}
	return nil
}
