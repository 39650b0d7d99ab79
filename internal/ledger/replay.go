package ledger

import (
	"fmt"

	"bookledger/internal/access"
	"bookledger/internal/eventlog"
)

// Replay rebuilds a ledger from a recorded log. The events must start at
// sequence 1 and be gapless; they are kept verbatim in the new ledger's log so
// cursors held by consumers stay valid.
func Replay(owner access.Principal, events []eventlog.Event, opts ...Option) (*Ledger, error) {
	l := New(owner, opts...)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range events {
		if err := l.replayOne(e); err != nil {
			return nil, err
		}
	}
	if err := l.log.Restore(events); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptLog, err)
	}

	return l, nil
}

func (l *Ledger) replayOne(e eventlog.Event) error {
	switch e.Kind {
	case KindBookAdded:
		var payload BookAddedEvent
		if err := eventlog.Decode(e, &payload); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptLog, err)
		}
		return l.applyBookAdded(payload)

	case KindStockUpdated:
		var payload StockUpdatedEvent
		if err := eventlog.Decode(e, &payload); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptLog, err)
		}
		return l.applyStockUpdated(payload)

	case KindBookPurchased:
		var payload BookPurchasedEvent
		if err := eventlog.Decode(e, &payload); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptLog, err)
		}
		return l.applyBookPurchased(payload)

	case KindFavoriteAdded:
		var payload FavoriteAddedEvent
		if err := eventlog.Decode(e, &payload); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptLog, err)
		}
		l.applyFavoriteAdded(payload)
		return nil

	case KindFavoriteRemoved:
		var payload FavoriteRemovedEvent
		if err := eventlog.Decode(e, &payload); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptLog, err)
		}
		l.applyFavoriteRemoved(payload)
		return nil

	default:
		return fmt.Errorf("%w: unknown event kind %q at sequence %d", ErrCorruptLog, e.Kind, e.Sequence)
	}
}
