package ledger

import (
	"errors"

	"bookledger/internal/access"
)

var (
	ErrUnauthorized      = access.ErrUnauthorized
	ErrUnauthenticated   = access.ErrUnauthenticated
	ErrRateLimited       = access.ErrRateLimited
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrBookNotFound      = errors.New("book not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidPayment    = errors.New("invalid payment")
	ErrCorruptLog        = errors.New("corrupt event log")
)

// Error codes used on the wire so remote callers can recover the sentinel.
const (
	CodeUnauthorized      = "unauthorized"
	CodeUnauthenticated   = access.CodeUnauthenticated
	CodeRateLimited       = access.CodeRateLimited
	CodeInvalidArgument   = "invalid_argument"
	CodeInvalidQuantity   = "invalid_quantity"
	CodeBookNotFound      = "book_not_found"
	CodeInsufficientStock = "insufficient_stock"
	CodeInvalidPayment    = "invalid_payment"
	CodeInternal          = "internal"
)

var errorCodes = []struct {
	code string
	err  error
}{
	{CodeUnauthorized, ErrUnauthorized},
	{CodeUnauthenticated, ErrUnauthenticated},
	{CodeRateLimited, ErrRateLimited},
	{CodeInvalidArgument, ErrInvalidArgument},
	{CodeInvalidQuantity, ErrInvalidQuantity},
	{CodeBookNotFound, ErrBookNotFound},
	{CodeInsufficientStock, ErrInsufficientStock},
	{CodeInvalidPayment, ErrInvalidPayment},
}

// ErrorCode maps a ledger error to its wire code.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorForCode returns the sentinel for a wire code, or nil if unknown.
func ErrorForCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
