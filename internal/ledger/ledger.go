// internal/ledger/ledger.go
package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"bookledger/internal/access"
	"bookledger/internal/eventlog"
)

// Ledger is the single authoritative container for the catalog, the
// favorites relation and the event log.
//
// Every mutation runs its checks, applies its state change and appends its
// event while holding mu exclusively, so calls are totally ordered and
// either commit fully or leave no trace. Reads share mu and always see a
// state that matches the log up to some sequence.
type Ledger struct {
	mu        sync.RWMutex
	access    *access.Control
	books     []Book
	favorites map[access.Principal]map[uint64]struct{}
	log       *eventlog.Log
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithEventLog uses an existing, empty log instead of a fresh one.
func WithEventLog(log *eventlog.Log) Option {
	return func(l *Ledger) {
		l.log = log
	}
}

// New creates an empty ledger owned by owner. The first book gets id 1.
func New(owner access.Principal, opts ...Option) *Ledger {
	l := &Ledger{
		access:    access.NewControl(owner),
		favorites: make(map[access.Principal]map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = eventlog.New()
	}
	return l
}

// Owner returns the privileged principal fixed at construction.
func (l *Ledger) Owner() access.Principal {
	return l.access.Owner()
}

// Log exposes the append-only event log for cursor readers.
func (l *Ledger) Log() *eventlog.Log {
	return l.log
}

// Snapshot copies the current books and favorites.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state := State{
		Books:     append([]Book(nil), l.books...),
		Favorites: make(map[access.Principal][]uint64, len(l.favorites)),
	}
	for p, set := range l.favorites {
		if len(set) > 0 {
			state.Favorites[p] = sortedIDs(set)
		}
	}
	return state
}

// commit appends an event whose payload was encoded before any state change.
// Callers hold mu.
func (l *Ledger) commit(kind string, payload json.RawMessage) eventlog.Event {
	return l.log.Append(kind, payload)
}

// lookup returns the index of id in books. Callers hold mu.
func (l *Ledger) lookup(id uint64) (int, bool) {
	if id == 0 || id > uint64(len(l.books)) {
		return 0, false
	}
	return int(id - 1), true
}

// The apply functions are the only code that changes state. The live
// operations call them after validating; Replay calls them for stored
// events, which keeps recovery identical to the original execution.

func (l *Ledger) applyBookAdded(e BookAddedEvent) error {
	if e.ID != uint64(len(l.books))+1 {
		return fmt.Errorf("%w: book id %d out of order, next is %d", ErrCorruptLog, e.ID, len(l.books)+1)
	}
	l.books = append(l.books, Book{
		ID:     e.ID,
		Title:  e.Title,
		Author: e.Author,
		Price:  e.Price,
		Stock:  e.Stock,
		Exists: true,
	})
	return nil
}

func (l *Ledger) applyStockUpdated(e StockUpdatedEvent) error {
	idx, ok := l.lookup(e.ID)
	if !ok {
		return fmt.Errorf("%w: stock update for unknown book %d", ErrCorruptLog, e.ID)
	}
	l.books[idx].Stock = e.NewStock
	return nil
}

func (l *Ledger) applyBookPurchased(e BookPurchasedEvent) error {
	idx, ok := l.lookup(e.ID)
	if !ok {
		return fmt.Errorf("%w: purchase of unknown book %d", ErrCorruptLog, e.ID)
	}
	if l.books[idx].Stock < e.Quantity {
		return fmt.Errorf("%w: purchase of %d exceeds stock %d of book %d", ErrCorruptLog, e.Quantity, l.books[idx].Stock, e.ID)
	}
	l.books[idx].Stock -= e.Quantity
	return nil
}

func (l *Ledger) applyFavoriteAdded(e FavoriteAddedEvent) {
	set, ok := l.favorites[e.Principal]
	if !ok {
		set = make(map[uint64]struct{})
		l.favorites[e.Principal] = set
	}
	set[e.BookID] = struct{}{}
}

func (l *Ledger) applyFavoriteRemoved(e FavoriteRemovedEvent) {
	set, ok := l.favorites[e.Principal]
	if !ok {
		return
	}
	delete(set, e.BookID)
	if len(set) == 0 {
		delete(l.favorites, e.Principal)
	}
}

func sortedIDs(set map[uint64]struct{}) []uint64 {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
