package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientData  = errors.New("insufficient data")
	ErrNoSolution        = errors.New("no solution")
	ErrStaleState        = errors.New("venue state is stale")
	ErrSlippageExceeded  = errors.New("slippage exceeded")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownVenue      = errors.New("unknown venue kind")
	ErrRejected          = errors.New("rejected by venue")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSigningFailed     = errors.New("signing failed")
	ErrLockHeld          = errors.New("lock already held")
	ErrLockLost          = errors.New("lock lost")
)
