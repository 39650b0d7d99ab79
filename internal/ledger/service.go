// internal/ledger/service.go
package ledger

import (
	"context"
	"time"

	"bookledger/internal/access"
	"bookledger/internal/eventlog"
)

// EventQuery selects a page of the event log. With Wait set, an empty page is
// held open until an event arrives or the wait elapses.
type EventQuery struct {
	After uint64
	Limit int
	Wait  time.Duration
}

// Service defines the interface for the ledger service.
type Service interface {
	AddBook(ctx context.Context, caller access.Principal, title, author string, price, stock uint64) (uint64, error)
	GetBook(ctx context.Context, id uint64) (*Book, error)
	GetAllBookIDs(ctx context.Context) ([]uint64, error)
	UpdateStock(ctx context.Context, caller access.Principal, id, newStock uint64) error
	PurchaseBook(ctx context.Context, buyer access.Principal, id, quantity, payment uint64) (*Receipt, error)
	AddFavorite(ctx context.Context, p access.Principal, id uint64) error
	RemoveFavorite(ctx context.Context, p access.Principal, id uint64) error
	IsFavorite(ctx context.Context, p access.Principal, id uint64) (bool, error)
	ListFavorites(ctx context.Context, p access.Principal) ([]uint64, error)
	Events(ctx context.Context, q EventQuery) ([]eventlog.Event, error)
}
