// Package store persists result sheets, their entries, and attachments.
//
// Both implementations guard every workflow write with a compare-and-set on
// the expected status. A write that finds a different status returns
// sentinel.ErrConflict and changes nothing; the caller re-reads to decide
// whether it raced or attempted an illegal transition. Entry replacement
// touches the sheet row under the same guard, so entry edits serialize
// against a concurrent submit.
package store

import (
	"errors"

	"github.com/lib/pq"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
