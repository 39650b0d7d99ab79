package ledger

import (
	"fmt"
	"strings"

	"bookledger/internal/access"
	"bookledger/internal/eventlog"
)

// AddBook lists a new book and returns its id. Owner only.
func (l *Ledger) AddBook(caller access.Principal, title, author string, price, stock uint64) (uint64, error) {
	if err := l.access.Authorize(caller, access.OpAddBook); err != nil {
		return 0, err
	}
	if strings.TrimSpace(title) == "" {
		return 0, fmt.Errorf("%w: title must not be empty", ErrInvalidArgument)
	}
	if strings.TrimSpace(author) == "" {
		return 0, fmt.Errorf("%w: author must not be empty", ErrInvalidArgument)
	}
	if price == 0 {
		return 0, fmt.Errorf("%w: price must be positive", ErrInvalidArgument)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	event := BookAddedEvent{
		ID:     uint64(len(l.books)) + 1,
		Title:  title,
		Author: author,
		Price:  price,
		Stock:  stock,
	}
	payload, err := eventlog.Marshal(event)
	if err != nil {
		return 0, err
	}
	if err := l.applyBookAdded(event); err != nil {
		return 0, err
	}
	l.commit(KindBookAdded, payload)

	return event.ID, nil
}

// GetBook returns the book with id, or false if id was never assigned.
func (l *Ledger) GetBook(id uint64) (Book, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.lookup(id)
	if !ok {
		return Book{}, false
	}
	return l.books[idx], true
}

// GetAllBookIDs returns every assigned id in creation order.
func (l *Ledger) GetAllBookIDs() []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]uint64, len(l.books))
	for i, b := range l.books {
		ids[i] = b.ID
	}
	return ids
}

// UpdateStock replaces the stock count of id. Owner only.
func (l *Ledger) UpdateStock(caller access.Principal, id, newStock uint64) error {
	if err := l.access.Authorize(caller, access.OpUpdateStock); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.lookup(id); !ok {
		return fmt.Errorf("%w: id %d", ErrBookNotFound, id)
	}

	event := StockUpdatedEvent{ID: id, NewStock: newStock}
	payload, err := eventlog.Marshal(event)
	if err != nil {
		return err
	}
	if err := l.applyStockUpdated(event); err != nil {
		return err
	}
	l.commit(KindStockUpdated, payload)

	return nil
}
