package endpoint

import "errors"

var (
	ErrCallInProgress = errors.New("call already in progress")
	ErrNoCall         = errors.New("no call in a suitable phase")
	ErrInvalidCallee  = errors.New("invalid callee")

	// Media errors are terminal for the attempt and never retried.
	ErrMediaUnavailable = errors.New("media device unavailable")
	ErrPermissionDenied = errors.New("media permission denied")

	ErrNegotiation      = errors.New("negotiation failed")
	ErrEstablishTimeout = errors.New("call establishment timed out")
)
