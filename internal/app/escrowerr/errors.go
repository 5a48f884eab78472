// Package escrowerr declares the discrete error kinds an escrow operation
// can return. Every failed operation surfaces exactly one of these, with
// zero effect on the record.
package escrowerr

import (
	"errors"
	"net/http"
)

// Error is a discrete operation failure with a stable machine-readable code.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string { return e.Message }

func define(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// Authorization failures.
var (
	ErrUnauthorized         = define("unauthorized", "only the escrow owner can perform this action", http.StatusForbidden)
	ErrUnauthorizedPlatform = define("unauthorized_platform", "only the platform authority can perform this action", http.StatusForbidden)
	ErrUnauthorizedTrading  = define("unauthorized_trading", "only the trading authority can perform this action", http.StatusForbidden)
)

// Validation failures.
var (
	ErrInvalidAmount               = define("invalid_amount", "amount must be greater than zero", http.StatusBadRequest)
	ErrAmountTooLarge              = define("amount_too_large", "amount exceeds the per-transaction limit", http.StatusBadRequest)
	ErrMaxBalanceExceeded          = define("max_balance_exceeded", "amount exceeds the record's balance ceiling", http.StatusBadRequest)
	ErrInvalidAuthority            = define("invalid_authority", "authority cannot be the null identity", http.StatusBadRequest)
	ErrInvalidTokenMint            = define("invalid_token_mint", "token mint does not match the record", http.StatusBadRequest)
	ErrInvalidDestination          = define("invalid_destination", "destination account is not acceptable", http.StatusBadRequest)
	ErrInvalidLifetime             = define("invalid_lifetime", "lifetime must be non-negative", http.StatusBadRequest)
	ErrInvalidTokenDecimals        = define("invalid_token_decimals", "token decimals outside the accepted range", http.StatusBadRequest)
	ErrPlatformAuthorityAlreadySet = define("platform_authority_already_set", "platform authority is already delegated", http.StatusBadRequest)
	ErrTradingAuthorityAlreadySet  = define("trading_authority_already_set", "trading authority is already delegated", http.StatusBadRequest)
)

// State failures.
var (
	ErrEscrowPaused            = define("escrow_paused", "record is paused", http.StatusConflict)
	ErrEscrowNotPaused         = define("escrow_not_paused", "emergency withdrawal requires a paused record", http.StatusConflict)
	ErrEscrowStillActive       = define("escrow_still_active", "revoke active authorities before withdrawing", http.StatusConflict)
	ErrEscrowNotEmpty          = define("escrow_not_empty", "balance must be at or below the dust threshold", http.StatusConflict)
	ErrEscrowExpired           = define("escrow_expired", "record exceeded its maximum lifetime", http.StatusConflict)
	ErrInsufficientBalance     = define("insufficient_balance", "insufficient balance in escrow", http.StatusConflict)
	ErrPlatformAuthorityNotSet = define("platform_authority_not_set", "no platform authority is delegated", http.StatusConflict)
	ErrTradingAuthorityNotSet  = define("trading_authority_not_set", "no trading authority is delegated", http.StatusConflict)
	ErrPlatformAuthorityTooNew = define("platform_authority_too_new", "platform authority has not matured yet", http.StatusConflict)
	ErrTradingAuthorityTooNew  = define("trading_authority_too_new", "trading authority has not matured yet", http.StatusConflict)
	ErrCooldownNotElapsed      = define("cooldown_not_elapsed", "unpause cooldown has not elapsed", http.StatusConflict)
	ErrStaleTransaction        = define("stale_transaction", "action nonce does not match the record", http.StatusConflict)
	ErrDeadlineExceeded        = define("deadline_exceeded", "request timestamp is outside the tolerated window", http.StatusConflict)
)

// Resource failures.
var (
	ErrRentNotRecovered = define("rent_not_recovered", "vault reserve is below the reclaimable floor", http.StatusConflict)
)

// Arithmetic failures.
var (
	ErrMathOverflow = define("math_overflow", "arithmetic overflow on a balance accumulator", http.StatusUnprocessableEntity)
)

// HTTPStatus maps an error to the response status for the API surface.
// Unknown errors are treated as internal.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// CodeOf extracts the stable code, or "internal" for unknown errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
