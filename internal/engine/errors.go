package engine

import "errors"

var (
	// Submit-time rejections
	ErrPermissionDenied = errors.New("engine: operation not allowed")
	ErrNotOwner         = errors.New("engine: caller does not own position")
	ErrPositionInactive = errors.New("engine: position not active")
	ErrPositionBusy     = errors.New("engine: position has a request in flight")

	// Callback-time rejections
	ErrUnknownRequest     = errors.New("engine: no pending request for result")
	ErrNonceMismatch      = errors.New("engine: result nonce does not match record")
	ErrComputationAborted = errors.New("engine: computation aborted")
	ErrOpenRejected       = errors.New("engine: open rejected by circuit")
	ErrUpdateRejected     = errors.New("engine: collateral update rejected by circuit")
	ErrNotLiquidatable    = errors.New("engine: position not liquidatable")
)
