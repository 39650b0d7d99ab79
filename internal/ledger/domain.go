// internal/ledger/domain.go
package ledger

import (
	"math"

	"bookledger/internal/access"
)

// MaxTotal is the largest amount a single purchase can settle. Amounts are
// in the smallest currency unit (wei), so this is about 18.44 ETH; a larger
// price*quantity is rejected with ErrInvalidPayment.
const MaxTotal uint64 = math.MaxUint64

// Book is a sellable catalog entry. Price is fixed at creation; Stock only
// changes through owner restock or purchase.
type Book struct {
	ID     uint64 `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Price  uint64 `json:"price"`
	Stock  uint64 `json:"stock"`
	Exists bool   `json:"exists"`
}

// Receipt confirms a settled purchase.
type Receipt struct {
	BookID    uint64           `json:"book_id"`
	Quantity  uint64           `json:"quantity"`
	TotalPaid uint64           `json:"total_paid"`
	Buyer     access.Principal `json:"buyer"`
	Sequence  uint64           `json:"sequence"`
}

// State is a point-in-time copy of everything the event log determines.
type State struct {
	Books     []Book                        `json:"books"`
	Favorites map[access.Principal][]uint64 `json:"favorites"`
}

// Event kinds recorded in the log.
const (
	KindBookAdded       = "BookAdded"
	KindStockUpdated    = "StockUpdated"
	KindBookPurchased   = "BookPurchased"
	KindFavoriteAdded   = "FavoriteAdded"
	KindFavoriteRemoved = "FavoriteRemoved"
)

// BookAddedEvent is recorded when the owner lists a new book. It carries the
// full record so a replay can rebuild the catalog.
type BookAddedEvent struct {
	ID     uint64 `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Price  uint64 `json:"price"`
	Stock  uint64 `json:"stock"`
}

// StockUpdatedEvent is recorded when the owner overrides a stock count.
type StockUpdatedEvent struct {
	ID       uint64 `json:"id"`
	NewStock uint64 `json:"new_stock"`
}

// BookPurchasedEvent is recorded for every settled purchase.
type BookPurchasedEvent struct {
	ID        uint64           `json:"id"`
	Quantity  uint64           `json:"quantity"`
	Buyer     access.Principal `json:"buyer"`
	TotalPaid uint64           `json:"total_paid"`
}

// FavoriteAddedEvent is recorded when a book enters a principal's favorites.
type FavoriteAddedEvent struct {
	Principal access.Principal `json:"principal"`
	BookID    uint64           `json:"book_id"`
}

// FavoriteRemovedEvent is recorded when a book leaves a principal's favorites.
type FavoriteRemovedEvent struct {
	Principal access.Principal `json:"principal"`
	BookID    uint64           `json:"book_id"`
}
