package domain

import "errors"

// Failure taxonomy for the monitor. Components wrap these sentinels with
// fmt.Errorf("%w: ...") so callers can branch with errors.Is without knowing
// the concrete implementation behind an interface.
var (
	ErrValidation  = errors.New("validation error")
	ErrConnection  = errors.New("database connection error")
	ErrQuery       = errors.New("query returned malformed results")
	ErrDelivery    = errors.New("notification delivery failed")
	ErrPersistence = errors.New("metrics persistence failed")
)
