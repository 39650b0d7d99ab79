// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"bookledger/internal/access"
	"bookledger/internal/eventlog"
	"bookledger/internal/ledger"
)

const (
	racePrice    = 1000
	eventPage    = 500
	replayBuyers = 8
)

// RegisterExperiments registers all predefined chaos experiments with the engine.
func (ce *ChaosEngine) RegisterExperiments() {
	ce.RegisterExperiment(ce.ConcurrentPurchaseRaceExperiment(100, 25))
	ce.RegisterExperiment(ce.UnauthorizedAdminFloodExperiment(50))
	ce.RegisterExperiment(ce.ReplayConsistencyExperiment(200))
}

// ConcurrentPurchaseRaceExperiment has buyers race for a book with only
// stock copies and checks that exactly stock purchases settle.
func (ce *ChaosEngine) ConcurrentPurchaseRaceExperiment(buyers int, stock uint64) ChaosExperiment {
	var (
		bookID    uint64
		settled   atomic.Int64
		rejected  atomic.Int64
		unexpects atomic.Int64
	)

	consistency := func(ctx context.Context) (float64, error) {
		book, err := ce.svc.GetBook(ctx, bookID)
		if err != nil {
			return 0, err
		}
		// stock + settled must equal the initial stock
		return float64(book.Stock) + float64(settled.Load()) - float64(stock), nil
	}

	return ChaosExperiment{
		Name:       "concurrent-purchase-race",
		Hypothesis: "Concurrent purchases of a scarce book never oversell and settle exactly the available stock",
		Setup: []Action{
			{
				Type:   "list-book",
				Target: "inventory",
				Execute: func(ctx context.Context) error {
					id, err := ce.svc.AddBook(ctx, ce.owner, "Chaos Race Edition", "Chaos Engine", racePrice, stock)
					if err != nil {
						return fmt.Errorf("listing race book: %w", err)
					}
					bookID = id
					settled.Store(0)
					rejected.Store(0)
					unexpects.Store(0)
					return nil
				},
			},
		},
		SteadyState: []Metric{
			{
				Name:      "stock_drift",
				Query:     consistency,
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "purchase-engine",
				Parameters: map[string]any{
					"concurrency": buyers,
					"stock":       stock,
				},
				Execute: func(ctx context.Context) error {
					var (
						wg   sync.WaitGroup
						mu   sync.Mutex
						errs []error
					)
					start := make(chan struct{})

					for i := 0; i < buyers; i++ {
						wg.Add(1)
						go func(i int) {
							defer wg.Done()
							<-start
							buyer := access.Principal(fmt.Sprintf("0xchaos-buyer-%03d", i))
							_, err := ce.svc.PurchaseBook(ctx, buyer, bookID, 1, racePrice)
							switch {
							case err == nil:
								settled.Add(1)
							case errors.Is(err, ledger.ErrInsufficientStock):
								rejected.Add(1)
							default:
								unexpects.Add(1)
								mu.Lock()
								errs = append(errs, err)
								mu.Unlock()
							}
						}(i)
					}
					close(start)
					wg.Wait()

					ce.logger.Info("purchase race finished",
						"settled", settled.Load(),
						"rejected", rejected.Load(),
						"unexpected", unexpects.Load(),
					)
					return errors.Join(errs...)
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "retire-book",
				Target: "inventory",
				Execute: func(ctx context.Context) error {
					return ce.svc.UpdateStock(ctx, ce.owner, bookID, 0)
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "stock_drift",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Remaining stock plus settled purchases must equal the listed stock",
			},
			{
				Metric: "stock_drift",
				Condition: func(float64) bool {
					want := min(int64(buyers), int64(stock))
					return settled.Load() == want && unexpects.Load() == 0
				},
				Message: "Exactly min(buyers, stock) purchases settle and the rest fail with insufficient stock",
			},
		},
		Duration:    ce.observe,
		BlastRadius: 0.1,
	}
}

// UnauthorizedAdminFloodExperiment floods the owner-only operations from
// non-owner principals and checks nothing changes.
func (ce *ChaosEngine) UnauthorizedAdminFloodExperiment(attackers int) ChaosExperiment {
	var (
		baselineBooks int
		baselineStock uint64
		accepted      atomic.Int64
		target        uint64
	)

	catalogDrift := func(ctx context.Context) (float64, error) {
		ids, err := ce.svc.GetAllBookIDs(ctx)
		if err != nil {
			return 0, err
		}
		drift := float64(len(ids) - baselineBooks)
		if target != 0 {
			book, err := ce.svc.GetBook(ctx, target)
			if err != nil {
				return 0, err
			}
			if book.Stock != baselineStock {
				drift++
			}
		}
		return drift + float64(accepted.Load()), nil
	}

	return ChaosExperiment{
		Name:       "unauthorized-admin-flood",
		Hypothesis: "Non-owner principals can neither list books nor change stock, however many try",
		Setup: []Action{
			{
				Type:   "baseline",
				Target: "inventory",
				Execute: func(ctx context.Context) error {
					id, err := ce.svc.AddBook(ctx, ce.owner, "Chaos Guarded Edition", "Chaos Engine", racePrice, 7)
					if err != nil {
						return fmt.Errorf("listing guarded book: %w", err)
					}
					ids, err := ce.svc.GetAllBookIDs(ctx)
					if err != nil {
						return err
					}
					target, baselineStock, baselineBooks = id, 7, len(ids)
					accepted.Store(0)
					return nil
				},
			},
		},
		SteadyState: []Metric{
			{
				Name:      "catalog_drift",
				Query:     catalogDrift,
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "privilege-escalation",
				Target: "access-control",
				Parameters: map[string]any{
					"concurrency": attackers,
				},
				Execute: func(ctx context.Context) error {
					var wg sync.WaitGroup
					for i := 0; i < attackers; i++ {
						wg.Add(1)
						go func(i int) {
							defer wg.Done()
							attacker := access.Principal(fmt.Sprintf("0xchaos-attacker-%03d", i))
							if _, err := ce.svc.AddBook(ctx, attacker, "Forged", "Mallory", 1, 1_000_000); !errors.Is(err, ledger.ErrUnauthorized) {
								accepted.Add(1)
							}
							if err := ce.svc.UpdateStock(ctx, attacker, target, 1_000_000); !errors.Is(err, ledger.ErrUnauthorized) {
								accepted.Add(1)
							}
						}(i)
					}
					wg.Wait()

					if n := accepted.Load(); n > 0 {
						return fmt.Errorf("%d admin calls were not rejected as unauthorized", n)
					}
					return nil
				},
			},
		},
		Rollback: []Action{},
		Validation: []Assertion{
			{
				Metric:    "catalog_drift",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Catalog and stock must be untouched by non-owner calls",
			},
		},
		Duration:    ce.observe,
		BlastRadius: 0.0,
	}
}

// ReplayConsistencyExperiment generates mixed traffic, then rebuilds a ledger
// from the event log and compares it with the live one.
func (ce *ChaosEngine) ReplayConsistencyExperiment(operations int) ChaosExperiment {
	var bookIDs []uint64

	return ChaosExperiment{
		Name:       "event-log-replay-consistency",
		Hypothesis: "Replaying the event log from the start reproduces the live catalog and favorites exactly",
		Setup: []Action{
			{
				Type:   "list-books",
				Target: "inventory",
				Execute: func(ctx context.Context) error {
					bookIDs = bookIDs[:0]
					for i := 0; i < 3; i++ {
						id, err := ce.svc.AddBook(ctx, ce.owner, fmt.Sprintf("Chaos Replay Vol. %d", i+1), "Chaos Engine", uint64(i+1)*10, 50)
						if err != nil {
							return fmt.Errorf("listing replay book: %w", err)
						}
						bookIDs = append(bookIDs, id)
					}
					return nil
				},
			},
		},
		SteadyState: []Metric{
			{
				Name:      "replay_divergence",
				Query:     ce.replayDivergence,
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "mixed-traffic",
				Target: "ledger",
				Parameters: map[string]any{
					"operations": operations,
					"buyers":     replayBuyers,
				},
				Execute: func(ctx context.Context) error {
					var (
						wg   sync.WaitGroup
						mu   sync.Mutex
						errs []error
					)
					for w := 0; w < replayBuyers; w++ {
						wg.Add(1)
						go func(w int) {
							defer wg.Done()
							p := access.Principal(fmt.Sprintf("0xchaos-reader-%d", w))
							for i := w; i < operations; i += replayBuyers {
								if err := ce.mixedOperation(ctx, p, bookIDs[i%len(bookIDs)], i); err != nil {
									mu.Lock()
									errs = append(errs, err)
									mu.Unlock()
								}
							}
						}(w)
					}
					wg.Wait()
					return errors.Join(errs...)
				},
			},
		},
		Rollback: []Action{},
		Validation: []Assertion{
			{
				Metric:    "replay_divergence",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Replayed state must match the live state",
			},
		},
		Duration:    ce.observe,
		BlastRadius: 0.2,
	}
}

func (ce *ChaosEngine) mixedOperation(ctx context.Context, p access.Principal, id uint64, i int) error {
	switch i % 4 {
	case 0:
		book, err := ce.svc.GetBook(ctx, id)
		if err != nil {
			return err
		}
		_, err = ce.svc.PurchaseBook(ctx, p, id, 1, book.Price)
		if errors.Is(err, ledger.ErrInsufficientStock) {
			return nil
		}
		return err
	case 1:
		return ce.svc.AddFavorite(ctx, p, id)
	case 2:
		return ce.svc.RemoveFavorite(ctx, p, id)
	default:
		return ce.svc.UpdateStock(ctx, ce.owner, id, 50)
	}
}

// replayDivergence counts books and favorites where a ledger replayed from
// the full event log disagrees with the live service. It assumes no writes
// race with the measurement.
func (ce *ChaosEngine) replayDivergence(ctx context.Context) (float64, error) {
	events, err := ce.readAllEvents(ctx)
	if err != nil {
		return 0, err
	}
	replayed, err := ledger.Replay(ce.owner, events)
	if err != nil {
		return 0, err
	}
	state := replayed.Snapshot()

	ids, err := ce.svc.GetAllBookIDs(ctx)
	if err != nil {
		return 0, err
	}

	divergence := len(ids) - len(state.Books)
	if divergence < 0 {
		divergence = -divergence
	}
	for _, want := range state.Books {
		got, err := ce.svc.GetBook(ctx, want.ID)
		if err != nil || *got != want {
			divergence++
		}
	}

	for w := 0; w < replayBuyers; w++ {
		p := access.Principal(fmt.Sprintf("0xchaos-reader-%d", w))
		live, err := ce.svc.ListFavorites(ctx, p)
		if err != nil {
			return 0, err
		}
		if !slices.Equal(live, state.Favorites[p]) {
			divergence++
		}
	}

	return float64(divergence), nil
}

func (ce *ChaosEngine) readAllEvents(ctx context.Context) ([]eventlog.Event, error) {
	var (
		all    []eventlog.Event
		cursor uint64
	)
	for {
		page, err := ce.svc.Events(ctx, ledger.EventQuery{After: cursor, Limit: eventPage})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		cursor = page[len(page)-1].Sequence
	}
}
