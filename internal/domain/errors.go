package domain

import "errors"

// Authorization errors. These indicate a caller that is not entitled to the
// operation; they are surfaced verbatim and never retried.
var (
	ErrNotAnOwner      = errors.New("not an owner")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrThresholdNotMet = errors.New("approval threshold not met")
)

// State errors. These indicate a protocol violation against current state.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrAlreadyExecuted    = errors.New("transaction already executed")
	ErrDuplicateApproval  = errors.New("duplicate approval")
	ErrUnknownIdentity    = errors.New("unknown identity")
)

// Policy errors. These may legitimately succeed on a later retry, for example
// once a cooldown window has elapsed or the ledger has been replenished.
var (
	ErrCooldownActive            = errors.New("cooldown active")
	ErrExceedsLimit              = errors.New("exceeds withdrawal limit")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInsufficientBalance       = errors.New("insufficient treasury balance")
	ErrInsufficientLedgerBalance = errors.New("insufficient fee ledger balance")
	ErrSelfInterest              = errors.New("cannot express interest in self")
	ErrRateLimited               = errors.New("rate limited")
	ErrLockHeld                  = errors.New("lock already held")
)
