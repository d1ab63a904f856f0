package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrParse means generation output could not be read as a JSON array
	ErrParse = goerr.New("generation output is not parsable")
	// ErrValidation means a single candidate failed shape, slot or duplicate checks
	ErrValidation = goerr.New("candidate perspective is invalid")
	// ErrRepairExhausted means a repaired candidate still failed validation
	ErrRepairExhausted = goerr.New("repair exhausted")
	// ErrClientUnavailable means no usable generation backend is configured
	ErrClientUnavailable = goerr.New("generation client unavailable")
	// ErrRunFailure wraps any other failure of a pipeline run
	ErrRunFailure = goerr.New("pipeline run failed")

	ErrAlreadyRunning   = goerr.New("pipeline already running for session")
	ErrCapacityExceeded = goerr.New("pipeline capacity exceeded")
	ErrSessionNotFound  = goerr.New("session not found")
	ErrResultNotFound   = goerr.New("result not found")
	ErrJobNotFound      = goerr.New("no running job for session")
	ErrRegistryClosed   = goerr.New("pipeline registry is shut down")
	ErrInvalidRequest   = goerr.New("invalid request")
)
