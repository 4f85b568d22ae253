package model

import "errors"

// Domain errors. Every mutating operation detects these before or during its
// transaction and aborts with no partial effect; handlers translate them
// into HTTP status codes.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrMarketNotFound    = errors.New("market not found")
	ErrWagerNotFound     = errors.New("wager not found")
	ErrInvalidOption     = errors.New("option does not belong to market")
	ErrMarketClosed      = errors.New("market is not accepting wagers")
	ErrInvalidAmount     = errors.New("wager amount must be a positive integer within the ceiling")
	ErrInvalidMarket     = errors.New("market needs a question, at least two options, and a future end date")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDuplicateWager    = errors.New("account already wagered on this option")
	ErrNotAuthorized     = errors.New("only the market creator may perform this action")
	ErrMarketNotLocked   = errors.New("market is not in a resolvable state")
	ErrAlreadyResolved   = errors.New("market already resolved")
	ErrAlreadyCancelled  = errors.New("market already cancelled")
	ErrAccountExists     = errors.New("account already exists")
	ErrMarketExists      = errors.New("market already exists")
	ErrVersionConflict   = errors.New("concurrent modification, retry")

	// ErrNegativeBalance signals a broken invariant detected at runtime.
	// The transaction must abort rather than clamp — clamping would corrupt
	// the audit trail.
	ErrNegativeBalance = errors.New("invariant violation: negative balance")
)
