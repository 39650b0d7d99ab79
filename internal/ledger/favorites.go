package ledger

import (
	"fmt"

	"bookledger/internal/access"
	"bookledger/internal/eventlog"
)

// Favorites do not check that the book exists; filtering unknown ids is left
// to the presentation layer.

// AddFavorite puts id into p's favorites. Adding a member again changes
// nothing and records no event.
func (l *Ledger) AddFavorite(p access.Principal, id uint64) error {
	if p == "" {
		return fmt.Errorf("%w: principal must not be empty", ErrInvalidArgument)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.favorites[p][id]; ok {
		return nil
	}

	event := FavoriteAddedEvent{Principal: p, BookID: id}
	payload, err := eventlog.Marshal(event)
	if err != nil {
		return err
	}
	l.applyFavoriteAdded(event)
	l.commit(KindFavoriteAdded, payload)

	return nil
}

// RemoveFavorite takes id out of p's favorites. Removing a non-member is a
// no-op.
func (l *Ledger) RemoveFavorite(p access.Principal, id uint64) error {
	if p == "" {
		return fmt.Errorf("%w: principal must not be empty", ErrInvalidArgument)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.favorites[p][id]; !ok {
		return nil
	}

	event := FavoriteRemovedEvent{Principal: p, BookID: id}
	payload, err := eventlog.Marshal(event)
	if err != nil {
		return err
	}
	l.applyFavoriteRemoved(event)
	l.commit(KindFavoriteRemoved, payload)

	return nil
}

// IsFavorite reports whether id is in p's favorites.
func (l *Ledger) IsFavorite(p access.Principal, id uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.favorites[p][id]
	return ok
}

// ListFavorites returns p's favorites in ascending id order.
func (l *Ledger) ListFavorites(p access.Principal) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return sortedIDs(l.favorites[p])
}
