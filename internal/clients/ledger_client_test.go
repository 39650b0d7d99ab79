package clients

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookledger/internal/access"
	"bookledger/internal/ledger"
)

const (
	owner      access.Principal = "0xowner"
	alice      access.Principal = "0xalice"
	ownerToken                  = "owner-token"
)

func newServer(t *testing.T) (*httptest.Server, *ledger.Ledger) {
	t.Helper()

	creds := access.NewCredentials()
	require.NoError(t, creds.Register(owner, ownerToken))

	l := ledger.New(owner)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(ledger.NewRouter(
		ledger.NewHandler(ledger.NewService(l, logger)),
		access.Identify(creds),
	))
	t.Cleanup(srv.Close)
	return srv, l
}

func TestLedgerClientRoundTrip(t *testing.T) {
	srv, l := newServer(t)
	ctx := t.Context()
	c := NewLedgerClient(srv.URL, WithToken(ownerToken), WithHTTPClient(srv.Client()))

	id, err := c.AddBook(ctx, owner, "Dune", "Herbert", 40, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	ids, err := c.GetAllBookIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)

	require.NoError(t, c.UpdateStock(ctx, owner, id, 5))

	receipt, err := c.PurchaseBook(ctx, alice, id, 2, 80)
	require.NoError(t, err)
	assert.Equal(t, &ledger.Receipt{BookID: 1, Quantity: 2, TotalPaid: 80, Buyer: alice, Sequence: 3}, receipt)

	book, err := c.GetBook(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), book.Stock)

	require.NoError(t, c.AddFavorite(ctx, alice, id))
	fav, err := c.IsFavorite(ctx, alice, id)
	require.NoError(t, err)
	assert.True(t, fav)

	favs, err := c.ListFavorites(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, favs)

	require.NoError(t, c.RemoveFavorite(ctx, alice, id))
	favs, err = c.ListFavorites(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, favs)

	events, err := c.Events(ctx, ledger.EventQuery{After: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ledger.KindBookPurchased, events[0].Kind)
	assert.Equal(t, ledger.KindFavoriteAdded, events[1].Kind)

	assert.Equal(t, uint64(5), l.Log().Last())
}

func TestLedgerClientMapsErrors(t *testing.T) {
	srv, l := newServer(t)
	ctx := t.Context()
	_, err := l.AddBook(owner, "Emma", "Austen", 10, 1)
	require.NoError(t, err)

	c := NewLedgerClient(srv.URL, WithHTTPClient(srv.Client()))

	_, err = c.AddBook(ctx, alice, "T", "A", 1, 1)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = c.AddBook(ctx, owner, "T", "A", 1, 1)
	assert.ErrorIs(t, err, ErrUnauthenticated, "owner without token")
	var unauthenticated *RemoteError
	require.ErrorAs(t, err, &unauthenticated)
	assert.Equal(t, ledger.CodeUnauthenticated, unauthenticated.Code)

	_, err = c.GetBook(ctx, 9)
	assert.ErrorIs(t, err, ledger.ErrBookNotFound)

	_, err = c.PurchaseBook(ctx, alice, 1, 0, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidQuantity)

	_, err = c.PurchaseBook(ctx, alice, 1, 2, 20)
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	_, err = c.PurchaseBook(ctx, alice, 1, 1, 11)
	assert.ErrorIs(t, err, ledger.ErrInvalidPayment)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 422, remote.Status)
	assert.Equal(t, ledger.CodeInvalidPayment, remote.Code)
}

func TestLedgerClientMapsRateLimit(t *testing.T) {
	l := ledger.New(owner)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(ledger.NewRouter(
		ledger.NewHandler(ledger.NewService(l, logger)),
		access.Identify(access.NewCredentials()),
		access.NewRateLimiter(0.001, 1).Middleware,
	))
	t.Cleanup(srv.Close)

	c := NewLedgerClient(srv.URL, WithHTTPClient(srv.Client()))
	_, err := c.GetAllBookIDs(t.Context())
	require.NoError(t, err)

	_, err = c.GetAllBookIDs(t.Context())
	assert.ErrorIs(t, err, ErrRateLimited)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ledger.CodeRateLimited, remote.Code)
}

func TestLedgerClientEventsWait(t *testing.T) {
	srv, l := newServer(t)
	c := NewLedgerClient(srv.URL, WithHTTPClient(srv.Client()))

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = l.AddBook(owner, "T", "A", 1, 1)
	}()

	events, err := c.Events(t.Context(), ledger.EventQuery{Wait: 5 * time.Second})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].Sequence)
}
