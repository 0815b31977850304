package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrProviderFailure = errors.New("provider failure")
	ErrInfrastructure  = errors.New("infrastructure error")
	ErrSchedulerClosed = errors.New("scheduler not accepting jobs")
)
