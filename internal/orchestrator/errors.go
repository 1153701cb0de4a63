package orchestrator

import "errors"

var (
	ErrSourceNotFound = errors.New("source not found")
	ErrAlreadyRunning = errors.New("source is already running")
	ErrNotRunning     = errors.New("source is not running")
)
