package engine

import "errors"

var (
	ErrSocket         = errors.New("socket error")
	ErrInvalidTarget  = errors.New("invalid target")
	ErrInvalidConfig  = errors.New("invalid engine config")
	ErrAlreadyRunning = errors.New("engine already running")
	ErrNotRunning     = errors.New("engine not running")
	ErrThread         = errors.New("worker failed")
)
