package ledger

import (
	"fmt"
	"math/bits"

	"bookledger/internal/access"
	"bookledger/internal/eventlog"
)

// PurchaseBook settles a purchase of quantity copies of id for exactly
// price*quantity. Preconditions are checked in a fixed order and the first
// failing one is reported:
//
//  1. quantity > 0                      ErrInvalidQuantity
//  2. the book exists                   ErrBookNotFound
//  3. stock >= quantity                 ErrInsufficientStock
//  4. payment == price*quantity         ErrInvalidPayment (also on overflow)
//
// Retrying a successful call buys again.
func (l *Ledger) PurchaseBook(buyer access.Principal, id, quantity, payment uint64) (Receipt, error) {
	if err := l.access.Authorize(buyer, access.OpPurchaseBook); err != nil {
		return Receipt{}, err
	}
	if quantity == 0 {
		return Receipt{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidQuantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.lookup(id)
	if !ok {
		return Receipt{}, fmt.Errorf("%w: id %d", ErrBookNotFound, id)
	}
	book := l.books[idx]

	if book.Stock < quantity {
		return Receipt{}, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, quantity, book.Stock)
	}

	hi, total := bits.Mul64(book.Price, quantity)
	if hi != 0 {
		return Receipt{}, fmt.Errorf("%w: price %d times quantity %d overflows", ErrInvalidPayment, book.Price, quantity)
	}
	if payment != total {
		return Receipt{}, fmt.Errorf("%w: expected %d, got %d", ErrInvalidPayment, total, payment)
	}

	event := BookPurchasedEvent{
		ID:        id,
		Quantity:  quantity,
		Buyer:     buyer,
		TotalPaid: payment,
	}
	payload, err := eventlog.Marshal(event)
	if err != nil {
		return Receipt{}, err
	}
	if err := l.applyBookPurchased(event); err != nil {
		return Receipt{}, err
	}
	recorded := l.commit(KindBookPurchased, payload)

	return Receipt{
		BookID:    id,
		Quantity:  quantity,
		TotalPaid: payment,
		Buyer:     buyer,
		Sequence:  recorded.Sequence,
	}, nil
}
