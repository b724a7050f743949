// Package repository defines error types that are reused across multiple
// stores. These sentinel values allow the booking engine to distinguish
// between failure scenarios without knowing which backend produced them.
// For example, ErrTxConflict means a transaction lost a race against a
// concurrent writer and may simply be run again, while ErrStaleRecord
// signals that a conditional update found the record in a different state
// than the caller expected.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when no record matches the requested id.
var ErrNotFound = errors.New("not found")

// ErrTxConflict is returned when a transaction could not commit because a
// concurrent transaction touched the same rows (deadlock, lock wait
// timeout or a duplicate confirmed slot).  The whole transaction may be
// retried.
var ErrTxConflict = errors.New("transaction conflict")

// ErrStaleRecord is returned when a conditional update matched no row
// because the record left the expected status in the meantime.
var ErrStaleRecord = errors.New("stale record")

// ErrOrderingUnavailable is returned by an ordered query when the backend
// cannot sort server-side.  Callers re-issue the query unordered.
var ErrOrderingUnavailable = errors.New("server-side ordering unavailable")

// MySQL server error numbers the stores classify.
const (
	mysqlErrDupEntry        = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrOutOfSortMemory = 1038
	mysqlErrFilesortAbort   = 1028
)

// classify maps driver errors to the sentinels above.  Unknown errors are
// returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case mysqlErrDeadlock, mysqlErrLockWaitTimeout, mysqlErrDupEntry:
		return errors.Join(ErrTxConflict, err)
	case mysqlErrOutOfSortMemory, mysqlErrFilesortAbort:
		return errors.Join(ErrOrderingUnavailable, err)
	}
	return err
}
