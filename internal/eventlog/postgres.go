package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTable     = "ledger_events"
	dialectPostgres  = "postgres"
	colSequence      = "sequence"
	colID            = "id"
	colKind          = "kind"
	colPayload       = "payload"
	colOccurredAt    = "occurred_at"
	colKey           = "key"
	colValue         = "value"
	metaOwner        = "owner"
	uniqueViolation  = "23505"
	serializeFailure = "40001"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: sequence mismatch")
	ErrEmptyBatch          = errors.New("empty event batch")
	ErrOwnerMismatch       = errors.New("owner does not match the stored ledger")
)

// PostgresStore mirrors the ledger log into a Postgres table so the ledger can
// be rebuilt after a restart. It works with both the lib/pq and pgx drivers.
type PostgresStore struct {
	db        *sql.DB
	table     string
	metaTable string
	tracer    trace.Tracer
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:        db,
		table:     defaultTable,
		metaTable: defaultTable + "_meta",
		tracer:    otel.Tracer("bookledger/eventlog"),
	}
}

// EnsureSchema creates the events and metadata tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				sequence BIGINT PRIMARY KEY,
				id UUID NOT NULL UNIQUE,
				kind TEXT NOT NULL,
				payload JSONB NOT NULL,
				occurred_at TIMESTAMPTZ NOT NULL
			)
		`, s.table),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)
		`, s.metaTable),
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// ClaimOwner records owner as the ledger owner on first use. Later calls
// return ErrOwnerMismatch unless they name the same owner, so a restart
// cannot silently hand the stored ledger to someone else.
func (s *PostgresStore) ClaimOwner(ctx context.Context, owner string) error {
	if owner == "" {
		return fmt.Errorf("%w: empty owner", ErrOwnerMismatch)
	}

	ctx, span := s.tracer.Start(ctx, "eventlog.claim_owner")
	defer span.End()

	dialect := goqu.Dialect(dialectPostgres)
	insert, args, err := dialect.
		Insert(s.metaTable).
		Rows(goqu.Record{colKey: metaOwner, colValue: owner}).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, insert, args...); err != nil {
		return fmt.Errorf("record owner: %w", err)
	}

	query, args, err := dialect.
		From(s.metaTable).
		Select(colValue).
		Where(goqu.C(colKey).Eq(metaOwner)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build select: %w", err)
	}
	var stored string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stored); err != nil {
		return fmt.Errorf("query owner: %w", err)
	}

	span.SetAttributes(attribute.Bool("owner.match", stored == owner))
	return checkOwner(stored, owner)
}

func checkOwner(stored, owner string) error {
	if stored != owner {
		return fmt.Errorf("%w: stored %s, configured %s", ErrOwnerMismatch, stored, owner)
	}
	return nil
}

// Append stores a contiguous batch whose first sequence must directly follow
// the stored tail.
func (s *PostgresStore) Append(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return ErrEmptyBatch
	}

	ctx, span := s.tracer.Start(ctx, "eventlog.append",
		trace.WithAttributes(
			attribute.Int64("first.sequence", int64(events[0].Sequence)),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	last, err := s.lastSequence(ctx, tx)
	if err != nil {
		return err
	}

	if last+1 != events[0].Sequence {
		span.SetAttributes(
			attribute.Int64("stored.sequence", int64(last)),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	rows := make([]interface{}, 0, len(events))
	for i, event := range events {
		if event.Sequence != events[0].Sequence+uint64(i) {
			return fmt.Errorf("%w: batch position %d holds sequence %d", ErrSequenceGap, i, event.Sequence)
		}
		rows = append(rows, goqu.Record{
			colSequence:   int64(event.Sequence),
			colID:         event.ID,
			colKind:       event.Kind,
			colPayload:    string(event.Payload),
			colOccurredAt: event.Timestamp,
		})
	}

	query, args, err := goqu.Dialect(dialectPostgres).
		Insert(s.table).
		Rows(rows...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isConflict(err) {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("insert events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isConflict(err) {
			return ErrConcurrencyConflict
		}
		return fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// Stream provides a cursor-based read of stored events for recovery.
func (s *PostgresStore) Stream(ctx context.Context, after uint64, batchSize int) ([]Event, error) {
	if batchSize <= 0 {
		return nil, ErrInvalidLimit
	}

	ctx, span := s.tracer.Start(ctx, "eventlog.stream",
		trace.WithAttributes(
			attribute.Int64("from.sequence", int64(after)),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	query, args, err := goqu.Dialect(dialectPostgres).
		From(s.table).
		Select(colSequence, colID, colKind, colPayload, colOccurredAt).
		Where(goqu.C(colSequence).Gt(int64(after))).
		Order(goqu.C(colSequence).Asc()).
		Limit(uint(batchSize)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event    Event
			sequence int64
			payload  []byte
		)
		if err := rows.Scan(&sequence, &event.ID, &event.Kind, &payload, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Sequence = uint64(sequence)
		event.Payload = json.RawMessage(payload)
		event.Timestamp = event.Timestamp.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

// LoadAll streams the whole table in batches.
func (s *PostgresStore) LoadAll(ctx context.Context, batchSize int) ([]Event, error) {
	var (
		all    []Event
		cursor uint64
	)
	for {
		batch, err := s.Stream(ctx, cursor, batchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return all, nil
		}
		all = append(all, batch...)
		cursor = batch[len(batch)-1].Sequence
	}
}

// LastSequence returns the newest stored sequence, zero for an empty table.
func (s *PostgresStore) LastSequence(ctx context.Context) (uint64, error) {
	ctx, span := s.tracer.Start(ctx, "eventlog.last_sequence")
	defer span.End()

	last, err := s.lastSequence(ctx, s.db)
	if err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int64("stored.sequence", int64(last)))
	return last, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) lastSequence(ctx context.Context, q queryRower) (uint64, error) {
	query, args, err := goqu.Dialect(dialectPostgres).
		From(s.table).
		Select(goqu.COALESCE(goqu.MAX(colSequence), 0)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build select: %w", err)
	}

	var last int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&last); err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("query last sequence: %w", err)
	}
	return uint64(last), nil
}

func isConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation || pqErr.Code == serializeFailure
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation || pgErr.Code == serializeFailure
	}
	return false
}
