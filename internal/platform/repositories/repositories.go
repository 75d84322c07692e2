package repositories

import (
	"errors"
	"strings"
)

// ErrDuplicate reports a uniqueness-constraint violation. Callers that rely
// on the store as the arbiter of concurrent writers (idempotent enqueue,
// replay nonces) branch on this instead of pre-checking.
var ErrDuplicate = errors.New("duplicate row")

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
