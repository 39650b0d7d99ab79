// internal/ledger/implementation.go
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"bookledger/internal/access"
	"bookledger/internal/eventlog"
)

const maxEventPage = 1000

// Logger is the logging surface used by the service. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// service implements the Service interface over an in-process Ledger.
type service struct {
	ledger    *Ledger
	logger    Logger
	tracer    trace.Tracer
	purchases metric.Int64Counter
	rejected  metric.Int64Counter
}

// NewService creates a new ledger service instance.
func NewService(l *Ledger, logger Logger) Service {
	meter := otel.Meter("bookledger/ledger")
	purchases, _ := meter.Int64Counter("ledger.purchases",
		metric.WithDescription("Settled purchases"))
	rejected, _ := meter.Int64Counter("ledger.rejections",
		metric.WithDescription("Calls rejected by a ledger rule"))

	return &service{
		ledger:    l,
		logger:    logger,
		tracer:    otel.Tracer("bookledger/ledger"),
		purchases: purchases,
		rejected:  rejected,
	}
}

// AddBook lists a new book in the catalog.
func (s *service) AddBook(ctx context.Context, caller access.Principal, title, author string, price, stock uint64) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.add_book",
		trace.WithAttributes(
			attribute.String("caller", string(caller)),
			attribute.Int64("price", int64(price)),
			attribute.Int64("stock", int64(stock)),
		),
	)
	defer span.End()

	id, err := s.ledger.AddBook(caller, title, author, price, stock)
	if err != nil {
		s.reject(ctx, span, "addBook", err)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("book.id", int64(id)))
	s.logger.Info("book added", "id", id, "title", title, "price", price, "stock", stock)
	return id, nil
}

// GetBook retrieves a book by its id.
func (s *service) GetBook(ctx context.Context, id uint64) (*Book, error) {
	_, span := s.tracer.Start(ctx, "ledger.get_book",
		trace.WithAttributes(attribute.Int64("book.id", int64(id))),
	)
	defer span.End()

	book, ok := s.ledger.GetBook(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrBookNotFound, id)
	}
	return &book, nil
}

// GetAllBookIDs lists every assigned book id.
func (s *service) GetAllBookIDs(ctx context.Context) ([]uint64, error) {
	_, span := s.tracer.Start(ctx, "ledger.get_all_book_ids")
	defer span.End()

	ids := s.ledger.GetAllBookIDs()
	span.SetAttributes(attribute.Int("book.count", len(ids)))
	return ids, nil
}

// UpdateStock overrides the stock count of a book.
func (s *service) UpdateStock(ctx context.Context, caller access.Principal, id, newStock uint64) error {
	ctx, span := s.tracer.Start(ctx, "ledger.update_stock",
		trace.WithAttributes(
			attribute.String("caller", string(caller)),
			attribute.Int64("book.id", int64(id)),
			attribute.Int64("stock", int64(newStock)),
		),
	)
	defer span.End()

	if err := s.ledger.UpdateStock(caller, id, newStock); err != nil {
		s.reject(ctx, span, "updateStock", err)
		return err
	}

	s.logger.Info("stock updated", "id", id, "stock", newStock)
	return nil
}

// PurchaseBook settles a purchase.
func (s *service) PurchaseBook(ctx context.Context, buyer access.Principal, id, quantity, payment uint64) (*Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.purchase_book",
		trace.WithAttributes(
			attribute.String("buyer", string(buyer)),
			attribute.Int64("book.id", int64(id)),
			attribute.Int64("quantity", int64(quantity)),
		),
	)
	defer span.End()

	receipt, err := s.ledger.PurchaseBook(buyer, id, quantity, payment)
	if err != nil {
		s.reject(ctx, span, "purchaseBook", err)
		return nil, err
	}

	s.purchases.Add(ctx, 1, metric.WithAttributes(attribute.Int64("book.id", int64(id))))
	span.SetAttributes(attribute.Int64("event.sequence", int64(receipt.Sequence)))
	s.logger.Info("book purchased", "id", id, "quantity", quantity, "buyer", buyer, "total_paid", payment)
	return &receipt, nil
}

// AddFavorite marks a book as a favorite of p.
func (s *service) AddFavorite(ctx context.Context, p access.Principal, id uint64) error {
	ctx, span := s.tracer.Start(ctx, "ledger.add_favorite",
		trace.WithAttributes(
			attribute.String("principal", string(p)),
			attribute.Int64("book.id", int64(id)),
		),
	)
	defer span.End()

	if err := s.ledger.AddFavorite(p, id); err != nil {
		s.reject(ctx, span, "addFavorite", err)
		return err
	}
	return nil
}

// RemoveFavorite unmarks a book as a favorite of p.
func (s *service) RemoveFavorite(ctx context.Context, p access.Principal, id uint64) error {
	ctx, span := s.tracer.Start(ctx, "ledger.remove_favorite",
		trace.WithAttributes(
			attribute.String("principal", string(p)),
			attribute.Int64("book.id", int64(id)),
		),
	)
	defer span.End()

	if err := s.ledger.RemoveFavorite(p, id); err != nil {
		s.reject(ctx, span, "removeFavorite", err)
		return err
	}
	return nil
}

// IsFavorite reports favorite membership.
func (s *service) IsFavorite(ctx context.Context, p access.Principal, id uint64) (bool, error) {
	_, span := s.tracer.Start(ctx, "ledger.is_favorite")
	defer span.End()

	return s.ledger.IsFavorite(p, id), nil
}

// ListFavorites returns the favorites of p.
func (s *service) ListFavorites(ctx context.Context, p access.Principal) ([]uint64, error) {
	_, span := s.tracer.Start(ctx, "ledger.list_favorites")
	defer span.End()

	return s.ledger.ListFavorites(p), nil
}

// Events reads the event log by cursor, optionally waiting for new entries.
func (s *service) Events(ctx context.Context, q EventQuery) ([]eventlog.Event, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.events",
		trace.WithAttributes(
			attribute.Int64("after", int64(q.After)),
			attribute.Int("limit", q.Limit),
		),
	)
	defer span.End()

	limit := q.Limit
	if limit <= 0 || limit > maxEventPage {
		limit = maxEventPage
	}

	log := s.ledger.Log()
	if q.Wait > 0 && log.Last() <= q.After {
		waitCtx, cancel := context.WithTimeout(ctx, q.Wait)
		defer cancel()
		if err := log.Wait(waitCtx, q.After); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}

	events := log.ReadFrom(q.After, limit)
	span.SetAttributes(attribute.Int("events.read", len(events)))
	return events, nil
}

func (s *service) reject(ctx context.Context, span trace.Span, op string, err error) {
	code := ErrorCode(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("rejection", code))
	s.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("reason", code),
	))
	s.logger.Warn("ledger call rejected", "operation", op, "reason", code, "error", err)
}
