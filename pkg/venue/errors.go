package venue

import "errors"

// Engine error taxonomy. Every precondition violation aborts the whole call
// with one of these sentinels (usually wrapped with context); no operation
// leaves partial state behind.
var (
	ErrPaused                 = errors.New("market paused")
	ErrZeroAmount             = errors.New("zero amount")
	ErrInsufficientPayment    = errors.New("insufficient payment")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrExpired                = errors.New("order expired")
	ErrNotCrossed             = errors.New("not crossed")
	ErrBadBounds              = errors.New("bad bounds")
	ErrBadTreasuryBinding     = errors.New("wrong treasury instance")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrSelfMatch              = errors.New("self match rejected")
	ErrUnknownOrder           = errors.New("unknown order")
	ErrUnknownMarket          = errors.New("unknown market")
)
