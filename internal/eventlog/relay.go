package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultRelayBatch   = 100
	defaultRelayBackoff = time.Second
)

// Logger is the logging surface used by the relay. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Store is a durable sink for log entries.
type Store interface {
	Append(ctx context.Context, events []Event) error
	LastSequence(ctx context.Context) (uint64, error)
}

// Relay tails a Log and copies new entries into a Store. It runs outside the
// ledger's critical section, so a slow or failing database never blocks
// ledger calls.
type Relay struct {
	log     *Log
	store   Store
	logger  Logger
	batch   int
	backoff time.Duration
	relayed metric.Int64Counter
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithBatchSize caps the number of events per store append.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithBackoff sets the pause after a failed append.
func WithBackoff(d time.Duration) RelayOption {
	return func(r *Relay) {
		r.backoff = d
	}
}

// NewRelay creates a relay from log to store.
func NewRelay(log *Log, store Store, logger Logger, opts ...RelayOption) *Relay {
	relayed, _ := otel.Meter("bookledger/eventlog").Int64Counter(
		"ledger.events.relayed",
		metric.WithDescription("Events copied to the durable store"),
	)
	r := &Relay{
		log:     log,
		store:   store,
		logger:  logger,
		batch:   defaultRelayBatch,
		backoff: defaultRelayBackoff,
		relayed: relayed,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run copies events until ctx ends. The starting cursor is the store's tail.
func (r *Relay) Run(ctx context.Context) error {
	cursor, err := r.store.LastSequence(ctx)
	if err != nil {
		return fmt.Errorf("read store tail: %w", err)
	}
	r.logger.Info("event relay started", "cursor", cursor)

	for {
		if err := r.log.Wait(ctx, cursor); err != nil {
			r.logger.Info("event relay stopped", "cursor", cursor)
			return nil
		}

		next, err := r.push(ctx, cursor)
		if err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				// another writer moved the tail; resynchronise
				if tail, tailErr := r.store.LastSequence(ctx); tailErr == nil {
					next = tail
				}
			}
			r.logger.Error("event relay append failed", "error", err, "cursor", cursor)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.backoff):
			}
		}
		cursor = next
	}
}

// Flush copies everything currently in the log past the store's tail.
func (r *Relay) Flush(ctx context.Context) error {
	cursor, err := r.store.LastSequence(ctx)
	if err != nil {
		return fmt.Errorf("read store tail: %w", err)
	}
	for cursor < r.log.Last() {
		if cursor, err = r.push(ctx, cursor); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) push(ctx context.Context, cursor uint64) (uint64, error) {
	events := r.log.ReadFrom(cursor, r.batch)
	if len(events) == 0 {
		return cursor, nil
	}
	if err := r.store.Append(ctx, events); err != nil {
		return cursor, err
	}

	r.relayed.Add(ctx, int64(len(events)))
	r.logger.Debug("events relayed", "from", events[0].Sequence, "to", events[len(events)-1].Sequence)
	return events[len(events)-1].Sequence, nil
}
