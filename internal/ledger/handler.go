// internal/ledger/handler.go
package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bookledger/internal/access"
)

const maxEventWait = 30 * time.Second

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// NewRouter mounts the ledger routes behind the given middlewares, which run
// after request-id and panic recovery.
func NewRouter(h *Handler, middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middlewares...)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/books", func(r chi.Router) {
		r.Post("/", h.handleAddBook)
		r.Get("/", h.handleListBooks)
		r.Get("/{id}", h.handleGetBook)
		r.Put("/{id}/stock", h.handleUpdateStock)
		r.Post("/{id}/purchase", h.handlePurchase)
	})

	r.Put("/favorites/{id}", h.handleAddFavorite)
	r.Delete("/favorites/{id}", h.handleRemoveFavorite)
	r.Get("/principals/{principal}/favorites", h.handleListFavorites)
	r.Get("/principals/{principal}/favorites/{id}", h.handleIsFavorite)

	r.Get("/events", h.handleEvents)

	return r
}

// ErrorResponse is the body of every non-2xx ledger response, including
// those written by the access middleware.
type ErrorResponse = access.ErrorBody

type addBookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Price  uint64 `json:"price"`
	Stock  uint64 `json:"stock"`
}

type addBookResponse struct {
	ID uint64 `json:"id"`
}

type updateStockRequest struct {
	Stock uint64 `json:"stock"`
}

type purchaseRequest struct {
	Quantity uint64 `json:"quantity"`
	Payment  uint64 `json:"payment"`
}

type favoriteResponse struct {
	Principal access.Principal `json:"principal"`
	BookID    uint64           `json:"book_id"`
	Favorite  bool             `json:"favorite"`
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req addBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, err.Error())
		return
	}

	id, err := h.service.AddBook(r.Context(), caller, req.Title, req.Author, req.Price, req.Stock)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, addBookResponse{ID: id})
}

func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.GetAllBookIDs(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) handleUpdateStock(w http.ResponseWriter, r *http.Request) {
	caller, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	var req updateStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, err.Error())
		return
	}

	if err := h.service.UpdateStock(r.Context(), caller, id, req.Stock); err != nil {
		writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	buyer, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, err.Error())
		return
	}

	receipt, err := h.service.PurchaseBook(r.Context(), buyer, id, req.Quantity, req.Payment)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	if err := h.service.AddFavorite(r.Context(), p, id); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{Principal: p, BookID: id, Favorite: true})
}

func (h *Handler) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveFavorite(r.Context(), p, id); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{Principal: p, BookID: id, Favorite: false})
}

func (h *Handler) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	p := access.Principal(chi.URLParam(r, "principal"))

	ids, err := h.service.ListFavorites(r.Context(), p)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (h *Handler) handleIsFavorite(w http.ResponseWriter, r *http.Request) {
	p := access.Principal(chi.URLParam(r, "principal"))
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	favorite, err := h.service.IsFavorite(r.Context(), p, id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{Principal: p, BookID: id, Favorite: favorite})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	var q EventQuery
	query := r.URL.Query()

	if v := query.Get("after"); v != "" {
		after, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidArgument, "invalid after cursor")
			return
		}
		q.After = after
	}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidArgument, "invalid limit")
			return
		}
		q.Limit = limit
	}
	if v := query.Get("wait"); v != "" {
		wait, err := time.ParseDuration(v)
		if err != nil || wait < 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidArgument, "invalid wait duration")
			return
		}
		q.Wait = min(wait, maxEventWait)
	}

	events, err := h.service.Events(r.Context(), q)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if events == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func bookID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "invalid book ID")
		return 0, false
	}
	return id, true
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (access.Principal, bool) {
	p, ok := access.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "missing "+access.PrincipalHeader+" header")
		return "", false
	}
	return p, true
}

func writeLedgerError(w http.ResponseWriter, err error) {
	code := ErrorCode(err)
	writeError(w, statusFor(err), code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, ErrBookNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidPayment):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
