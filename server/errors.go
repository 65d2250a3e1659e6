package server

import "errors"

var (
	// ErrInvalidConfig indicates an unusable server configuration.
	ErrInvalidConfig = errors.New("invalid server configuration")

	// ErrUnknownSession indicates a request for a session id that is not open.
	ErrUnknownSession = errors.New("unknown session")

	// ErrSessionClosed indicates use of a session after StopSession.
	ErrSessionClosed = errors.New("session closed")

	// ErrAlreadyRunning indicates a second call to Run.
	ErrAlreadyRunning = errors.New("server already running")
)
