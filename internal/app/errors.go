package service

import "errors"

// Sentinel errors returned by the service.
var (
	// ErrJobNotOpen reports a match requested for a job that is no longer open.
	ErrJobNotOpen = errors.New("job is not open")
	// ErrStopped reports a Start after Stop.
	ErrStopped = errors.New("service stopped")
)
