package ledger

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookledger/internal/access"
	"bookledger/internal/eventlog"
)

const ownerToken = "s3cret-owner-token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	*httptest.Server
	ledger *Ledger
}

func newTestServer(t *testing.T, middlewares ...func(http.Handler) http.Handler) *testServer {
	t.Helper()

	creds := access.NewCredentials()
	require.NoError(t, creds.Register(owner, ownerToken))

	l := New(owner)
	mws := append([]func(http.Handler) http.Handler{access.Identify(creds)}, middlewares...)
	srv := httptest.NewServer(NewRouter(NewHandler(NewService(l, discardLogger())), mws...))
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, ledger: l}
}

func (s *testServer) do(t *testing.T, method, path string, caller access.Principal, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, s.URL+path, reader)
	require.NoError(t, err)
	if caller != "" {
		req.Header.Set(access.PrincipalHeader, string(caller))
	}
	if caller == owner {
		req.Header.Set("Authorization", "Bearer "+ownerToken)
	}

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandlerAddAndGetBook(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/books", owner, addBookRequest{Title: "Dune", Author: "Herbert", Price: 100, Stock: 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, addBookResponse{ID: 1}, decode[addBookResponse](t, resp))

	resp = s.do(t, http.MethodGet, "/books/1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, Book{ID: 1, Title: "Dune", Author: "Herbert", Price: 100, Stock: 3, Exists: true}, decode[Book](t, resp))

	resp = s.do(t, http.MethodGet, "/books", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []uint64{1}, decode[[]uint64](t, resp))
}

func TestHandlerErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	_, err := s.ledger.AddBook(owner, "Emma", "Austen", 10, 1)
	require.NoError(t, err)

	tests := []struct {
		name     string
		method   string
		path     string
		caller   access.Principal
		body     any
		status   int
		wantCode string
	}{
		{"non-owner add", http.MethodPost, "/books", alice, addBookRequest{Title: "T", Author: "A", Price: 1}, http.StatusForbidden, CodeUnauthorized},
		{"anonymous add", http.MethodPost, "/books", "", addBookRequest{Title: "T", Author: "A", Price: 1}, http.StatusUnauthorized, CodeUnauthenticated},
		{"zero price", http.MethodPost, "/books", owner, addBookRequest{Title: "T", Author: "A"}, http.StatusBadRequest, CodeInvalidArgument},
		{"missing book", http.MethodGet, "/books/7", "", nil, http.StatusNotFound, CodeBookNotFound},
		{"bad book id", http.MethodGet, "/books/seven", "", nil, http.StatusBadRequest, CodeInvalidArgument},
		{"non-owner restock", http.MethodPut, "/books/1/stock", bob, updateStockRequest{Stock: 9}, http.StatusForbidden, CodeUnauthorized},
		{"anonymous restock", http.MethodPut, "/books/1/stock", "", updateStockRequest{Stock: 9}, http.StatusUnauthorized, CodeUnauthenticated},
		{"anonymous purchase", http.MethodPost, "/books/1/purchase", "", purchaseRequest{Quantity: 1, Payment: 10}, http.StatusUnauthorized, CodeUnauthenticated},
		{"zero quantity", http.MethodPost, "/books/1/purchase", alice, purchaseRequest{Payment: 10}, http.StatusBadRequest, CodeInvalidQuantity},
		{"insufficient stock", http.MethodPost, "/books/1/purchase", alice, purchaseRequest{Quantity: 2, Payment: 20}, http.StatusConflict, CodeInsufficientStock},
		{"wrong payment", http.MethodPost, "/books/1/purchase", alice, purchaseRequest{Quantity: 1, Payment: 9}, http.StatusUnprocessableEntity, CodeInvalidPayment},
		{"bad events cursor", http.MethodGet, "/events?after=-1", "", nil, http.StatusBadRequest, CodeInvalidArgument},
		{"bad events wait", http.MethodGet, "/events?wait=soon", "", nil, http.StatusBadRequest, CodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, resp).Code)
		})
	}

	book, _ := s.ledger.GetBook(1)
	assert.Equal(t, uint64(1), book.Stock)
	assert.Equal(t, uint64(1), s.ledger.Log().Last())
}

func TestHandlerRejectsOwnerWithoutToken(t *testing.T) {
	s := newTestServer(t)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, s.URL+"/books",
		bytes.NewReader([]byte(`{"title":"T","author":"A","price":1}`)))
	require.NoError(t, err)
	req.Header.Set(access.PrincipalHeader, string(owner))

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, CodeUnauthenticated, decode[ErrorResponse](t, resp).Code)
	assert.Empty(t, s.ledger.GetAllBookIDs())
}

func TestHandlerStockAndPurchase(t *testing.T) {
	s := newTestServer(t)
	_, err := s.ledger.AddBook(owner, "Emma", "Austen", 15, 0)
	require.NoError(t, err)

	resp := s.do(t, http.MethodPut, "/books/1/stock", owner, updateStockRequest{Stock: 4})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/books/1/purchase", alice, purchaseRequest{Quantity: 3, Payment: 45})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, Receipt{BookID: 1, Quantity: 3, TotalPaid: 45, Buyer: alice, Sequence: 3}, decode[Receipt](t, resp))

	book, _ := s.ledger.GetBook(1)
	assert.Equal(t, uint64(1), book.Stock)
}

func TestHandlerFavorites(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPut, "/favorites/3", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, favoriteResponse{Principal: alice, BookID: 3, Favorite: true}, decode[favoriteResponse](t, resp))

	resp = s.do(t, http.MethodPut, "/favorites/1", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/principals/0xalice/favorites", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []uint64{1, 3}, decode[[]uint64](t, resp))

	resp = s.do(t, http.MethodDelete, "/favorites/3", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[favoriteResponse](t, resp).Favorite)

	resp = s.do(t, http.MethodGet, "/principals/0xalice/favorites/3", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[favoriteResponse](t, resp).Favorite)

	resp = s.do(t, http.MethodGet, "/principals/0xbob/favorites", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []uint64{}, decode[[]uint64](t, resp))

	resp = s.do(t, http.MethodPut, "/favorites/3", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerEventsPaging(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/events", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]eventlog.Event](t, resp))

	for i := 0; i < 5; i++ {
		_, err := s.ledger.AddBook(owner, "T", "A", 1, 1)
		require.NoError(t, err)
	}

	resp = s.do(t, http.MethodGet, "/events?after=1&limit=2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]eventlog.Event](t, resp)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].Sequence)
	assert.Equal(t, uint64(3), events[1].Sequence)
	assert.Equal(t, KindBookAdded, events[0].Kind)
}

func TestHandlerEventsLongPoll(t *testing.T) {
	s := newTestServer(t)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = s.ledger.AddBook(owner, "Late", "Arrival", 1, 1)
	}()

	start := time.Now()
	resp := s.do(t, http.MethodGet, "/events?after=0&wait=5s", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := decode[[]eventlog.Event](t, resp)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].Sequence)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHandlerEventsWaitTimesOutEmpty(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/events?wait=20ms", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]eventlog.Event](t, resp))
}

func TestHandlerRateLimit(t *testing.T) {
	limiter := access.NewRateLimiter(0.001, 2)
	s := newTestServer(t, limiter.Middleware)

	for _, caller := range []access.Principal{alice, bob} {
		resp := s.do(t, http.MethodGet, "/books", caller, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := s.do(t, http.MethodGet, "/books", "0xcarol", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "claimed principals share the address budget")
	assert.Equal(t, CodeRateLimited, decode[ErrorResponse](t, resp).Code)

	resp = s.do(t, http.MethodGet, "/books", owner, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "verified principals have their own budget")
}

func TestHandlerHealthz(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
