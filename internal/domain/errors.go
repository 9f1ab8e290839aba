package domain

import "errors"

// ErrConfirmationRequired is returned by destructive operations invoked
// without explicit user confirmation.
var ErrConfirmationRequired = errors.New("confirmation required")
