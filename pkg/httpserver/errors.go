package httpserver

import "errors"

var (
	// ErrStart indicates that the server failed to listen or serve.
	ErrStart = errors.New("failed to start ops server")
	// ErrShutdown indicates that graceful shutdown did not finish in time.
	ErrShutdown = errors.New("failed to shut down ops server gracefully")
	// ErrAlreadyRunning is returned by a second Run call.
	ErrAlreadyRunning = errors.New("ops server already running")
)
