// internal/access/control.go
package access

import (
	"errors"
	"fmt"
)

// Principal is an opaque caller identity, the equivalent of a wallet address.
type Principal string

// Operation names a ledger entry point.
type Operation string

const (
	OpAddBook        Operation = "addBook"
	OpUpdateStock    Operation = "updateStock"
	OpPurchaseBook   Operation = "purchaseBook"
	OpAddFavorite    Operation = "addFavorite"
	OpRemoveFavorite Operation = "removeFavorite"
)

var ErrUnauthorized = errors.New("unauthorized")

// Control gates admin operations on the fixed owner principal.
type Control struct {
	owner Principal
}

// NewControl creates a Control for the given owner.
func NewControl(owner Principal) *Control {
	return &Control{owner: owner}
}

// Owner returns the privileged principal.
func (c *Control) Owner() Principal {
	return c.owner
}

// IsAdmin reports whether op is restricted to the owner.
func IsAdmin(op Operation) bool {
	switch op {
	case OpAddBook, OpUpdateStock:
		return true
	default:
		return false
	}
}

// Authorize returns ErrUnauthorized when p may not invoke op.
func (c *Control) Authorize(p Principal, op Operation) error {
	if !IsAdmin(op) {
		return nil
	}
	if c.owner == "" || p != c.owner {
		return fmt.Errorf("%w: %s requires the owner principal", ErrUnauthorized, op)
	}
	return nil
}
