package workflow

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidAction is returned when an action or button has no transition from the current code
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidCategory is returned when a category or media value is outside every configured branch
	ErrInvalidCategory = errors.New("invalid category")

	// ErrInvalidState is returned when a persisted code cannot be parsed
	ErrInvalidState = errors.New("invalid state code")

	// ErrInvalidInput is returned when a submission lacks a required field
	ErrInvalidInput = errors.New("invalid input")

	// ErrPersistenceFailure marks a failed write to the store; nothing was committed
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrNotificationFailure marks a failed ledger write during a transition
	ErrNotificationFailure = errors.New("notification failure")

	// ErrInstanceNotFound is returned when the workflow instance does not exist
	ErrInstanceNotFound = errors.New("workflow instance not found")
)

// IsValidationError reports whether err was rejected before any mutation.
func IsValidationError(err error) bool {
	return errors.IsAny(err, ErrInvalidAction, ErrInvalidCategory, ErrInvalidState, ErrInvalidInput)
}
