package ledger

import "errors"

// Errors returned by the ledger. Callers match them with errors.Is; every one
// of them aborts the enclosing transaction.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrCauseNotFound      = errors.New("cause not found")
	ErrCauseClosed        = errors.New("cause is closed")
	ErrStorageConflict    = errors.New("storage conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// isDomainError reports whether err is one of the ledger's own outcomes as
// opposed to an infrastructure failure.
func isDomainError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrCauseNotFound) ||
		errors.Is(err, ErrCauseClosed) ||
		errors.Is(err, ErrStorageConflict)
}
