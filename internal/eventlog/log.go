// internal/eventlog/log.go
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSequenceGap  = errors.New("event sequence is not gapless")
	ErrLogNotEmpty  = errors.New("event log already holds entries")
	ErrInvalidLimit = errors.New("invalid read limit")
)

// Event is one immutable entry of the ledger log.
type Event struct {
	Sequence  uint64          `json:"sequence"`
	ID        uuid.UUID       `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Log is an append-only, gapless sequence of events. Readers may run
// concurrently with the single writer and never observe a partial entry.
type Log struct {
	mu     sync.RWMutex
	events []Event
	notify chan struct{}
	now    func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates an empty log.
func New(opts ...Option) *Log {
	l := &Log{
		notify: make(chan struct{}),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records an already encoded payload and returns the stored entry.
// It cannot fail: callers encode first so a failed encoding leaves no trace.
func (l *Log) Append(kind string, payload json.RawMessage) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	event := Event{
		Sequence:  uint64(len(l.events)) + 1,
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   payload,
		Timestamp: l.now(),
	}
	l.events = append(l.events, event)

	close(l.notify)
	l.notify = make(chan struct{})

	return event
}

// Restore loads previously recorded events into an empty log, keeping their
// sequence numbers, ids and timestamps.
func (l *Log) Restore(events []Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) > 0 {
		return ErrLogNotEmpty
	}
	for i, event := range events {
		if event.Sequence != uint64(i)+1 {
			return fmt.Errorf("%w: position %d holds sequence %d", ErrSequenceGap, i+1, event.Sequence)
		}
	}

	l.events = append(make([]Event, 0, len(events)), events...)
	if len(events) > 0 {
		close(l.notify)
		l.notify = make(chan struct{})
	}
	return nil
}

// ReadFrom returns up to limit events whose sequence is greater than after.
// A limit of zero or less returns everything past the cursor.
func (l *Log) ReadFrom(after uint64, limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := uint64(len(l.events))
	if after >= total {
		return nil
	}

	end := total
	if limit > 0 && after+uint64(limit) < total {
		end = after + uint64(limit)
	}

	out := make([]Event, end-after)
	copy(out, l.events[after:end])
	return out
}

// Last returns the sequence number of the newest entry, zero when empty.
func (l *Log) Last() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.events))
}

// Wait blocks until an event with a sequence greater than after exists or the
// context ends.
func (l *Log) Wait(ctx context.Context, after uint64) error {
	for {
		l.mu.RLock()
		ready := uint64(len(l.events)) > after
		notify := l.notify
		l.mu.RUnlock()

		if ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		}
	}
}
