package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookledger/internal/access"
	"bookledger/internal/eventlog"
)

func buildHistory(t *testing.T) *Ledger {
	t.Helper()
	l := New(owner)

	first := addBook(t, l, 10, 5)
	second := addBook(t, l, 25, 2)
	require.NoError(t, l.UpdateStock(owner, first, 8))
	_, err := l.PurchaseBook(alice, first, 3, 30)
	require.NoError(t, err)
	_, err = l.PurchaseBook(bob, second, 2, 50)
	require.NoError(t, err)
	require.NoError(t, l.AddFavorite(alice, first))
	require.NoError(t, l.AddFavorite(alice, second))
	require.NoError(t, l.AddFavorite(bob, 99))
	require.NoError(t, l.RemoveFavorite(alice, first))
	return l
}

func TestReplayReproducesState(t *testing.T) {
	live := buildHistory(t)
	events := live.Log().ReadFrom(0, 0)

	replayed, err := Replay(owner, events)
	require.NoError(t, err)

	assert.Equal(t, live.Snapshot(), replayed.Snapshot())
	assert.Equal(t, events, replayed.Log().ReadFrom(0, 0), "recorded entries are kept verbatim")
	assert.Equal(t, State{
		Books: []Book{
			{ID: 1, Title: "Test Book", Author: "Test Author", Price: 10, Stock: 5, Exists: true},
			{ID: 2, Title: "Test Book", Author: "Test Author", Price: 25, Stock: 0, Exists: true},
		},
		Favorites: map[access.Principal][]uint64{
			alice: {2},
			bob:   {99},
		},
	}, replayed.Snapshot())
}

func TestReplayedLedgerContinuesSequence(t *testing.T) {
	live := buildHistory(t)
	replayed, err := Replay(owner, live.Log().ReadFrom(0, 0))
	require.NoError(t, err)

	id, err := replayed.AddBook(owner, "Next", "Author", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)
	assert.Equal(t, live.Log().Last()+1, replayed.Log().Last())
}

func TestReplayEmptyLog(t *testing.T) {
	l, err := Replay(owner, nil)
	require.NoError(t, err)
	assert.Empty(t, l.GetAllBookIDs())
	assert.Equal(t, uint64(0), l.Log().Last())
}

func TestReplayRejectsCorruptLogs(t *testing.T) {
	event := func(seq uint64, kind, payload string) eventlog.Event {
		return eventlog.Event{Sequence: seq, Kind: kind, Payload: json.RawMessage(payload), Timestamp: time.Unix(0, 0)}
	}
	book := `{"id":1,"title":"T","author":"A","price":5,"stock":1}`

	tests := []struct {
		name   string
		events []eventlog.Event
	}{
		{"unknown kind", []eventlog.Event{event(1, "BookBurned", `{}`)}},
		{"invalid payload", []eventlog.Event{event(1, KindBookAdded, `{"id":`)}},
		{"book id out of order", []eventlog.Event{event(1, KindBookAdded, `{"id":2,"title":"T","author":"A","price":5,"stock":1}`)}},
		{"stock update of unknown book", []eventlog.Event{event(1, KindStockUpdated, `{"id":1,"new_stock":3}`)}},
		{"purchase beyond stock", []eventlog.Event{
			event(1, KindBookAdded, book),
			event(2, KindBookPurchased, `{"id":1,"quantity":2,"buyer":"0xalice","total_paid":10}`),
		}},
		{"sequence gap", []eventlog.Event{
			event(1, KindBookAdded, book),
			event(3, KindFavoriteAdded, `{"principal":"0xalice","book_id":1}`),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := Replay(owner, tt.events)
			assert.ErrorIs(t, err, ErrCorruptLog)
			assert.Nil(t, l)
		})
	}
}
