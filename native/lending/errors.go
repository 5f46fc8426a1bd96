package lending

import (
	"errors"
	"fmt"

	nativecommon "moneymarket/native/common"
	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/rewards"
)

var (
	ErrUnauthorized        = errors.New("lending: unauthorized")
	ErrMarketNotListed     = errors.New("lending: market not listed")
	ErrMarketAlreadyListed = errors.New("lending: market already listed")
	ErrPriceError          = errors.New("lending: price unavailable")
	ErrShortfall           = errors.New("lending: insufficient liquidity")
	ErrInsufficientBalance = errors.New("lending: insufficient balance")
	ErrInsufficientCash    = errors.New("lending: insufficient cash")
	ErrBorrowCapExceeded   = errors.New("lending: borrow cap exceeded")
	ErrInvalidParameter    = errors.New("lending: invalid parameter")
	ErrNotInitialized      = errors.New("lending: engine not initialised")
	ErrParamsVersion       = errors.New("lending: stored params require migration")
	ErrInvariantViolated   = errors.New("lending: pool invariant violated")

	ErrPaused         = nativecommon.ErrPaused
	ErrMathOverflow   = fixed.ErrOverflow
	ErrMathUnderflow  = fixed.ErrUnderflow
	ErrDivisionByZero = fixed.ErrDivisionByZero
)

var (
	ErrInvalidAmount       = fmt.Errorf("%w: invalid amount", ErrInvalidParameter)
	ErrTooMuchRepay        = fmt.Errorf("%w: repay exceeds close factor", ErrInvalidParameter)
	ErrLiquidateSelf       = fmt.Errorf("%w: borrower cannot liquidate itself", ErrInvalidParameter)
	ErrTooManyAssets       = fmt.Errorf("%w: too many markets entered", ErrInvalidParameter)
	ErrMarketNotDeprecated = fmt.Errorf("%w: market not deprecated", ErrInvalidParameter)
	ErrBorrowRateTooHigh   = fmt.Errorf("%w: borrow rate is absurdly high", ErrInvalidParameter)
	ErrAlreadyMigrated     = fmt.Errorf("%w: params already at current version", ErrInvalidParameter)

	ErrInsufficientShortfall = fmt.Errorf("%w: account not in shortfall", ErrInvalidParameter)
	ErrNonzeroBorrowBalance  = fmt.Errorf("%w: nonzero borrow balance", ErrInvalidParameter)
)

// IsFatal reports whether err is an arithmetic or invariant failure rather
// than a business rule rejection.
func IsFatal(err error) bool {
	return fixed.IsMath(err) || errors.Is(err, ErrInvariantViolated)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrTooMuchRepay, "TOO_MUCH_REPAY"},
	{ErrLiquidateSelf, "LIQUIDATE_SELF"},
	{ErrTooManyAssets, "TOO_MANY_ASSETS"},
	{ErrMarketNotDeprecated, "MARKET_NOT_DEPRECATED"},
	{ErrBorrowRateTooHigh, "BORROW_RATE_TOO_HIGH"},
	{ErrAlreadyMigrated, "ALREADY_MIGRATED"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrMarketNotListed, "MARKET_NOT_LISTED"},
	{ErrMarketAlreadyListed, "MARKET_ALREADY_LISTED"},
	{ErrPriceError, "PRICE_ERROR"},
	{ErrShortfall, "SHORTFALL"},
	{ErrInsufficientShortfall, "INSUFFICIENT_SHORTFALL"},
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{ErrInsufficientCash, "INSUFFICIENT_CASH"},
	{ErrBorrowCapExceeded, "BORROW_CAP_EXCEEDED"},
	{ErrNonzeroBorrowBalance, "NONZERO_BORROW_BALANCE"},
	{ErrPaused, "PAUSED"},
	{rewards.ErrInsufficientRewards, "INSUFFICIENT_REWARDS"},
	{ErrNotInitialized, "NOT_INITIALIZED"},
	{ErrParamsVersion, "PARAMS_VERSION"},
	{ErrInvariantViolated, "INVARIANT_VIOLATED"},
	{ErrMathOverflow, "MATH_OVERFLOW"},
	{ErrMathUnderflow, "MATH_UNDERFLOW"},
	{ErrDivisionByZero, "DIVISION_BY_ZERO"},
	{ErrInvalidParameter, "INVALID_PARAMETER"},
}

// Code maps an engine error onto a stable machine readable identifier.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "INTERNAL"
}
