package orchestrator

import "errors"

// Sentinel errors classifying every synchronous failure the facade surfaces.
// Transport layers map these onto status codes; callers test them with
// errors.Is. Asynchronous failures (timeout, process exit, store write) are
// recorded on the Job's Error/ErrorType fields instead.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("invalid request")

	ErrApprovalDenied  = errors.New("approval denied")
	ErrApprovalExpired = errors.New("approval expired")

	ErrProcess = errors.New("process error")
	ErrStore   = errors.New("store error")
)
