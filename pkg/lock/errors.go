package lock

import "errors"

var (
	ErrLocked    = errors.New("lock is held by another owner")
	ErrNotHeld   = errors.New("lock is not held by this lease")
	ErrEmptyKey  = errors.New("lock key must not be empty")
	ErrNilClient = errors.New("redis client is required")

	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
	ErrHealthcheckFailed            = errors.New("redis healthcheck failed")
)
