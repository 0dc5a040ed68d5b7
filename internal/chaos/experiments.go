// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bookwarehouse/internal/catalog"
	"bookwarehouse/internal/warehouse"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrCatalogUnavailable is returned by FaultyCatalog while its fault is active.
var ErrCatalogUnavailable = errors.New("catalog unavailable (injected)")

// FaultyCatalog wraps a catalog.Lookup and fails every call while Fail is set.
type FaultyCatalog struct {
	next    catalog.Lookup
	failing atomic.Bool
}

func NewFaultyCatalog(next catalog.Lookup) *FaultyCatalog {
	return &FaultyCatalog{next: next}
}

func (c *FaultyCatalog) Fail(on bool) { c.failing.Store(on) }

func (c *FaultyCatalog) GetBook(ctx context.Context, id string) (*catalog.Book, error) {
	if c.failing.Load() {
		return nil, ErrCatalogUnavailable
	}
	return c.next.GetBook(ctx, id)
}

func (c *FaultyCatalog) ListBooks(ctx context.Context) ([]*catalog.Book, error) {
	if c.failing.Load() {
		return nil, ErrCatalogUnavailable
	}
	return c.next.ListBooks(ctx)
}

// Target is the warehouse under test. The service is built over a
// FaultyCatalog so experiments can take the catalog down.
type Target struct {
	Service warehouse.Service
	Ledger  warehouse.ShelfLedger
	Orders  warehouse.OrderStore
	Catalog *FaultyCatalog
}

func NewTarget(lookup catalog.Lookup, ledger warehouse.ShelfLedger, orders warehouse.OrderStore, logger *zap.Logger) *Target {
	faulty := NewFaultyCatalog(lookup)
	return &Target{
		Service: warehouse.NewService(faulty, ledger, orders, nil, logger),
		Ledger:  ledger,
		Orders:  orders,
		Catalog: faulty,
	}
}

// RegisterExperiments registers the warehouse experiments with the engine.
func (e *Engine) RegisterExperiments(t *Target, duration time.Duration) {
	e.RegisterExperiment(ConcurrentFulfilmentOverdraw(t, 10, 100, duration))
	e.RegisterExperiment(CatalogOutage(t, 20, duration))
}

func firstBook(ctx context.Context, t *Target) (string, error) {
	books, err := t.Catalog.ListBooks(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list books: %w", err)
	}
	if len(books) == 0 {
		return "", errors.New("catalog is empty")
	}
	return books[0].ID, nil
}

func shelfCount(ctx context.Context, ledger warehouse.ShelfLedger, bookID, shelfID string) (int, error) {
	locations, err := ledger.Locate(ctx, bookID)
	if err != nil {
		return 0, err
	}
	for _, loc := range locations {
		if loc.ShelfID == shelfID {
			return loc.Count, nil
		}
	}
	return 0, nil
}

// ConcurrentFulfilmentOverdraw races racers single-copy fulfilments, each for
// its own order, against a shelf holding only stock copies.
func ConcurrentFulfilmentOverdraw(t *Target, stock, racers int, duration time.Duration) Experiment {
	var (
		bookID    string
		shelfID   = "chaos-" + uuid.NewString()[:8]
		fulfilled atomic.Int64
		placed    atomic.Int64
	)

	count := func(ctx context.Context) (int, error) {
		if bookID == "" {
			return 0, nil
		}
		return shelfCount(ctx, t.Ledger, bookID, shelfID)
	}

	return Experiment{
		Name:       "concurrent-fulfilment-overdraw",
		Hypothesis: "Racing fulfilments on one shelf never drive it negative and every copy is accounted for",
		SteadyState: []Metric{
			{
				Name: "shelf_count",
				Query: func(ctx context.Context) (float64, error) {
					n, err := count(ctx)
					return float64(n), err
				},
				Threshold: Threshold{Operator: ">=", Value: 0},
			},
			{
				Name: "stock_drift",
				Query: func(ctx context.Context) (float64, error) {
					n, err := count(ctx)
					if err != nil {
						return 0, err
					}
					drift := placed.Load() - fulfilled.Load() - int64(n)
					if drift < 0 {
						drift = -drift
					}
					return float64(drift), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "stock-shelf",
				Target: "shelf-ledger",
				Execute: func(ctx context.Context) error {
					id, err := firstBook(ctx, t)
					if err != nil {
						return err
					}
					bookID = id
					if err := t.Service.PlaceOnShelf(ctx, bookID, stock, shelfID); err != nil {
						return err
					}
					placed.Add(int64(stock))
					return nil
				},
			},
			{
				Type:   "concurrent-requests",
				Target: "warehouse-service",
				Execute: func(ctx context.Context) error {
					if bookID == "" {
						return errors.New("shelf was not stocked")
					}
					orderIDs := make([]string, racers)
					for i := range orderIDs {
						id, err := t.Service.Order(ctx, []string{bookID})
						if err != nil {
							return err
						}
						orderIDs[i] = id
					}

					var (
						wg         sync.WaitGroup
						unexpected atomic.Int64
					)
					line := []warehouse.FulfillmentLine{{BookID: bookID, ShelfID: shelfID, NumberOfBooks: 1}}
					for _, id := range orderIDs {
						wg.Add(1)
						go func(id string) {
							defer wg.Done()
							err := t.Service.Fulfil(ctx, id, line)
							switch {
							case err == nil:
								fulfilled.Add(1)
							case errors.Is(err, warehouse.ErrInsufficientStock):
							default:
								unexpected.Add(1)
							}
						}(id)
					}
					wg.Wait()

					if n := unexpected.Load(); n > 0 {
						return fmt.Errorf("%d fulfilments failed with unexpected errors", n)
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "shelf_count",
				Condition: func(v float64) bool { return v >= 0 },
				Message:   "Shelf count must never go negative",
			},
			{
				Metric:    "stock_drift",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Placed copies minus fulfilled copies must equal the shelf count",
			},
		},
		Duration: duration,
	}
}

// CatalogOutage takes the catalog down and drives placements and orders at
// the warehouse. None of them may mutate the ledger or the order store.
func CatalogOutage(t *Target, attempts int, duration time.Duration) Experiment {
	var (
		bookID         string
		shelfID        = "chaos-" + uuid.NewString()[:8]
		baselineOrders atomic.Int64
		accepted       atomic.Int64
	)

	countOrders := func(ctx context.Context) (int64, error) {
		var n int64
		for _, err := range t.Orders.List(ctx) {
			if err != nil {
				return 0, err
			}
			n++
		}
		return n, nil
	}

	return Experiment{
		Name:       "catalog-outage",
		Hypothesis: "While the catalog is unreachable no placement or order mutates warehouse state",
		SteadyState: []Metric{
			{
				Name: "mutations_during_outage",
				Query: func(ctx context.Context) (float64, error) {
					if bookID == "" {
						return 0, nil
					}
					copies, err := shelfCount(ctx, t.Ledger, bookID, shelfID)
					if err != nil {
						return 0, err
					}
					orders, err := countOrders(ctx)
					if err != nil {
						return 0, err
					}
					return float64(int64(copies) + orders - baselineOrders.Load()), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name: "accepted_during_outage",
				Query: func(context.Context) (float64, error) {
					return float64(accepted.Load()), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "kill-dependency",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					id, err := firstBook(ctx, t)
					if err != nil {
						return err
					}
					bookID = id
					n, err := countOrders(ctx)
					if err != nil {
						return err
					}
					baselineOrders.Store(n)
					t.Catalog.Fail(true)
					return nil
				},
			},
			{
				Type:   "write-traffic",
				Target: "warehouse-service",
				Execute: func(ctx context.Context) error {
					for i := 0; i < attempts; i++ {
						if err := t.Service.PlaceOnShelf(ctx, bookID, 1, shelfID); err == nil {
							accepted.Add(1)
						}
						if _, err := t.Service.Order(ctx, []string{bookID}); err == nil {
							accepted.Add(1)
						}
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "restore-dependency",
				Target: "catalog",
				Execute: func(context.Context) error {
					t.Catalog.Fail(false)
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "mutations_during_outage",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "No ledger or order mutation may happen while the catalog is down",
			},
			{
				Metric:    "accepted_during_outage",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Every write must be rejected while the catalog is down",
			},
		},
		Duration: duration,
	}
}
