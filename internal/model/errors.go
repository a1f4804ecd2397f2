package model

import "errors"

// Provider failure taxonomy shared by all calendar providers. Reconciliation
// maps ErrPermissionDenied to the offline state and everything else to a
// failed sync; neither is retried within an attempt.
var (
	// ErrPermissionDenied means the user declined or revoked calendar
	// access. Recoverable only through external settings action.
	ErrPermissionDenied = errors.New("calendar permission denied")

	// ErrProviderUnavailable means there is no usable calendar backing
	// store (no calendar app/account, calendar deleted out from under us).
	// Availability may change, so the periodic sweep retries.
	ErrProviderUnavailable = errors.New("calendar provider unavailable")
)
