package safety

import "errors"

var (
	ErrEmergencyStop = errors.New("emergency stop active")
	ErrUnauthorized  = errors.New("target not authorized")
	ErrRateExceeded  = errors.New("rate exceeds configured maximum")
	ErrInvalidRule   = errors.New("invalid authorization rule")
)
