package model

import "errors"

// Sentinel errors for the engine. The handler layer maps these to HTTP
// status codes; callers match with errors.Is.
var (
	// User errors: returned directly, never retried, never mutate state.
	ErrPoolNotFound          = errors.New("pool not found")
	ErrPoolInactive          = errors.New("pool is not active")
	ErrBelowMinimum          = errors.New("amount below minimum")
	ErrBelowMinimumOutput    = errors.New("output below minimum")
	ErrBelowMinimumLiquidity = errors.New("deposit below minimum liquidity")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientHoldings  = errors.New("insufficient holdings")
	ErrInvalidAmount         = errors.New("amount must be a positive decimal with at most 8 places")
	ErrInvalidOperation      = errors.New("invalid balance operation")
	ErrInvalidToken          = errors.New("invalid token metadata")
	ErrInvalidAccount        = errors.New("account id is required")
	ErrZeroOutput            = errors.New("trade produces no output")

	// Contention: retried internally, surfaced once retries are exhausted.
	ErrConcurrentModification = errors.New("concurrent modification: retries exhausted")

	// Infrastructure: fatal to the request, alarm-worthy.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrVersionConflict is returned by conditional reserve writes when the
	// pool changed since it was read. Internal to settlement.
	ErrVersionConflict = errors.New("pool version conflict")
)

var userErrors = []error{
	ErrPoolNotFound,
	ErrPoolInactive,
	ErrBelowMinimum,
	ErrBelowMinimumOutput,
	ErrBelowMinimumLiquidity,
	ErrInsufficientFunds,
	ErrInsufficientHoldings,
	ErrInvalidAmount,
	ErrInvalidOperation,
	ErrInvalidToken,
	ErrInvalidAccount,
	ErrZeroOutput,
}

// IsUserError reports whether err is caused by bad caller input.
func IsUserError(err error) bool {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
