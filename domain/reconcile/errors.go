package reconcile

import (
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/nexus-fundraising/nexus/pkg/pgutils"
)

var (
	// ErrUnresolvedDonor is returned when a donation or interaction names a
	// donor that has no local row with the same provenance.
	ErrUnresolvedDonor = errors.New("referenced donor not found")

	// ErrNotFound is returned by the Find methods.
	ErrNotFound = errors.New("record not found")

	// ErrMissingExternalID is returned when an upsert has no provenance key.
	ErrMissingExternalID = errors.New("record has no external id")
)

// IsSystemic reports whether err indicates the store itself is unusable,
// as opposed to a problem with one record.
func IsSystemic(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	switch pgutils.SQLState(err) {
	case pgutils.CodeUndefinedTable, pgutils.CodeUndefinedColumn, pgutils.CodeInvalidSchemaName, pgutils.CodeAdminShutdown:
		return true
	}
	class := pgutils.SQLStateClass(err)
	return class == pgutils.ClassConnectionException || class == pgutils.ClassInsufficientResources
}
