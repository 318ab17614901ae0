package backend

import "errors"

var (
	// ErrNoMatchingFork is returned when a local fork id or remote
	// identity is unknown to the registry. Recoverable; surfaced to the
	// caller.
	ErrNoMatchingFork = errors.New("no matching fork found")

	// ErrMissingAccount marks a backing-store lookup that should have
	// succeeded but didn't. Fatal for the current operation.
	ErrMissingAccount = errors.New("missing account")

	// ErrCheatAccessDenied is returned for addresses outside the
	// cheatcode allow-list. Recoverable; surfaced to the caller.
	ErrCheatAccessDenied = errors.New("cheatcode access denied")

	// ErrInvalidTransaction marks an ad hoc transaction request lacking
	// a required field. Recoverable; surfaced to the caller.
	ErrInvalidTransaction = errors.New("transaction is missing a required field")

	// ErrNotForked is returned when a chain-data operation is attempted
	// on a fork with no remote endpoint behind it.
	ErrNotForked = errors.New("fork is not backed by a remote endpoint")
)
