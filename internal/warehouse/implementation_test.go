package warehouse

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"bookwarehouse/internal/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	catalog *catalog.MemoryCatalog
	ledger  *MemoryLedger
	orders  *MemoryOrderStore
	events  *recordingPublisher
	service Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		catalog: catalog.NewMemoryCatalog(
			&catalog.Book{ID: "B1", Name: "The Hollow", Author: "Agatha Christie"},
			&catalog.Book{ID: "B2", Name: "Giant's Bread", Author: "Mary Westmacott"},
		),
		ledger: NewMemoryLedger(),
		orders: NewMemoryOrderStore(),
		events: &recordingPublisher{},
	}
	f.service = NewService(f.catalog, f.ledger, f.orders, nil, zap.NewNop(), WithPublisher(f.events))
	return f
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type failingLookup struct{ err error }

func (f failingLookup) GetBook(context.Context, string) (*catalog.Book, error) { return nil, f.err }
func (f failingLookup) ListBooks(context.Context) ([]*catalog.Book, error)    { return nil, f.err }

// brokenMarkStore fails every MarkFulfilled with an infrastructure error.
type brokenMarkStore struct {
	*MemoryOrderStore
}

var errStoreDown = errors.New("store unavailable")

func (brokenMarkStore) MarkFulfilled(context.Context, string) error { return errStoreDown }

// cancellingLedger cancels the caller's context as soon as the decrement starts.
type cancellingLedger struct {
	*MemoryLedger
	cancel context.CancelFunc
}

func (l cancellingLedger) TryDecrement(ctx context.Context, lines []FulfillmentLine) error {
	l.cancel()
	return l.MemoryLedger.TryDecrement(ctx, lines)
}

func TestWarehouseScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.service.PlaceOnShelf(ctx, "B1", 5, "S1"))
	require.NoError(t, f.service.PlaceOnShelf(ctx, "B1", 2, "S1"))

	locations, err := f.service.Locate(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, []ShelfLocation{{ShelfID: "S1", Count: 7}}, locations)

	orderID, err := f.service.Order(ctx, []string{"B1", "B1"})
	require.NoError(t, err)

	order, err := f.service.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"B1": 2}, order.RequestedCounts)
	assert.Equal(t, OrderPending, order.Status)

	require.NoError(t, f.service.Fulfil(ctx, orderID, []FulfillmentLine{{BookID: "B1", ShelfID: "S1", NumberOfBooks: 2}}))
	assert.Equal(t, 5, countOn(t, f.ledger, "B1", "S1"))

	order, err = f.service.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, OrderFulfilled, order.Status)

	err = f.service.Fulfil(ctx, orderID, []FulfillmentLine{{BookID: "B1", ShelfID: "S1", NumberOfBooks: 10}})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "B1", insufficient.BookID)
	assert.Equal(t, "S1", insufficient.ShelfID)
	assert.Equal(t, 5, countOn(t, f.ledger, "B1", "S1"))

	stock, err := f.service.BookWithStock(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, 5, stock.Stock)
	assert.Equal(t, "The Hollow", stock.Book.Name)

	assert.Equal(t, []string{EventBooksPlaced, EventBooksPlaced, EventOrderCreated, EventOrderFulfilled}, f.events.types())
}

func TestFulfilTwiceIsNotPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.service.PlaceOnShelf(ctx, "B1", 5, "S1"))
	orderID, err := f.service.Order(ctx, []string{"B1"})
	require.NoError(t, err)

	line := []FulfillmentLine{{BookID: "B1", ShelfID: "S1", NumberOfBooks: 1}}
	require.NoError(t, f.service.Fulfil(ctx, orderID, line))

	err = f.service.Fulfil(ctx, orderID, line)
	assert.ErrorIs(t, err, ErrOrderNotPending)
	assert.Equal(t, 4, countOn(t, f.ledger, "B1", "S1"))
}

func TestUnknownBookCausesNoMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.service.PlaceOnShelf(ctx, "nope", 3, "S1")
	var unknown *UnknownBookError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nope", unknown.BookID)
	assert.Equal(t, 0, countOn(t, f.ledger, "nope", "S1"))

	_, err = f.service.Order(ctx, []string{"B1", "ghost", "B2", "phantom"})
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.BookID)

	n := 0
	for range f.service.ListOrders(ctx) {
		n++
	}
	assert.Zero(t, n)

	_, err = f.service.Locate(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownBook)

	_, err = f.service.BookWithStock(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownBook)

	assert.Empty(t, f.events.types())
}

func TestFulfilValidationOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.service.PlaceOnShelf(ctx, "B1", 1, "S1"))
	orderID, err := f.service.Order(ctx, []string{"B1"})
	require.NoError(t, err)

	// Unknown order wins over unknown book and missing stock.
	err = f.service.Fulfil(ctx, "order_1_missing", []FulfillmentLine{{BookID: "ghost", ShelfID: "S1", NumberOfBooks: 9}})
	assert.ErrorIs(t, err, ErrUnknownOrder)

	// Unknown book wins over missing stock.
	err = f.service.Fulfil(ctx, orderID, []FulfillmentLine{
		{BookID: "B1", ShelfID: "S1", NumberOfBooks: 9},
		{BookID: "ghost", ShelfID: "S1", NumberOfBooks: 1},
	})
	assert.ErrorIs(t, err, ErrUnknownBook)

	// A shelf the book was never placed on holds nothing.
	err = f.service.Fulfil(ctx, orderID, []FulfillmentLine{{BookID: "B1", ShelfID: "S9", NumberOfBooks: 1}})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "S9", insufficient.ShelfID)

	order, err := f.service.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, OrderPending, order.Status)
	assert.Equal(t, 1, countOn(t, f.ledger, "B1", "S1"))
}

func TestFulfilMultiLineFailureLeavesAllShelvesUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.service.PlaceOnShelf(ctx, "B1", 4, "S1"))
	require.NoError(t, f.service.PlaceOnShelf(ctx, "B2", 1, "S2"))
	orderID, err := f.service.Order(ctx, []string{"B1", "B2"})
	require.NoError(t, err)

	err = f.service.Fulfil(ctx, orderID, []FulfillmentLine{
		{BookID: "B1", ShelfID: "S1", NumberOfBooks: 2},
		{BookID: "B2", ShelfID: "S2", NumberOfBooks: 3},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 4, countOn(t, f.ledger, "B1", "S1"))
	assert.Equal(t, 1, countOn(t, f.ledger, "B2", "S2"))

	// Lines need not match the requested counts.
	require.NoError(t, f.service.Fulfil(ctx, orderID, []FulfillmentLine{{BookID: "B1", ShelfID: "S1", NumberOfBooks: 3}}))
	assert.Equal(t, 1, countOn(t, f.ledger, "B1", "S1"))
	assert.Equal(t, 1, countOn(t, f.ledger, "B2", "S2"))
}

func TestInputValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.ErrorIs(t, f.service.PlaceOnShelf(ctx, "B1", 0, "S1"), ErrInvalidQuantity)
	assert.ErrorIs(t, f.service.PlaceOnShelf(ctx, "B1", 1, " "), ErrInvalidIdentifier)
	assert.ErrorIs(t, f.service.PlaceOnShelf(ctx, "", 1, "S1"), ErrUnknownBook)

	_, err := f.service.Order(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyOrder)

	orderID, err := f.service.Order(ctx, []string{"B1"})
	require.NoError(t, err)
	assert.ErrorIs(t, f.service.Fulfil(ctx, orderID, nil), ErrNoFulfillmentLines)
	assert.ErrorIs(t, f.service.Fulfil(ctx, orderID, []FulfillmentLine{{BookID: "B1", ShelfID: "S1", NumberOfBooks: -1}}), ErrInvalidQuantity)
	assert.ErrorIs(t, f.service.Fulfil(ctx, "", []FulfillmentLine{{BookID: "B1", ShelfID: "S1", NumberOfBooks: 1}}), ErrInvalidIdentifier)

	_, err = f.service.GetOrder(ctx, "order_1_missing")
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestOrderReportsBlankBookAsUnknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Order(context.Background(), []string{"B1", " ", "ghost"})
	var unknown *UnknownBookError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, " ", unknown.BookID)
}

func TestOversizedQuantitiesNeverOverflowStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.service.PlaceOnShelf(ctx, "B1", 5, "S1"))
	orderID, err := f.service.Order(ctx, []string{"B1"})
	require.NoError(t, err)

	err = f.service.Fulfil(ctx, orderID, []FulfillmentLine{
		{BookID: "B1", ShelfID: "S1", NumberOfBooks: math.MaxInt},
		{BookID: "B1", ShelfID: "S1", NumberOfBooks: math.MaxInt},
	})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	err = f.service.Fulfil(ctx, orderID, []FulfillmentLine{
		{BookID: "B1", ShelfID: "S1", NumberOfBooks: MaxShelfCount},
		{BookID: "B1", ShelfID: "S1", NumberOfBooks: MaxShelfCount},
		{BookID: "B1", ShelfID: "S1", NumberOfBooks: MaxShelfCount},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	order, err := f.service.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, OrderPending, order.Status)
	assert.Equal(t, 5, countOn(t, f.ledger, "B1", "S1"))

	assert.ErrorIs(t, f.service.PlaceOnShelf(ctx, "B1", math.MaxInt, "S1"), ErrInvalidQuantity)
	require.NoError(t, f.service.PlaceOnShelf(ctx, "B1", MaxShelfCount-5, "S1"))
	err = f.service.PlaceOnShelf(ctx, "B1", 1, "S1")
	assert.ErrorIs(t, err, ErrShelfFull)
	assert.True(t, IsClientError(err))
	assert.Equal(t, MaxShelfCount, countOn(t, f.ledger, "B1", "S1"))
}

func TestConcurrentFulfilmentsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.service.PlaceOnShelf(ctx, "B1", 10, "S1"))

	const orders = 40
	ids := make([]string, orders)
	for i := range ids {
		id, err := f.service.Order(ctx, []string{"B1"})
		require.NoError(t, err)
		ids[i] = id
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		fulfilled int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := f.service.Fulfil(ctx, id, []FulfillmentLine{{BookID: "B1", ShelfID: "S1", NumberOfBooks: 1}})
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientStock)
				return
			}
			mu.Lock()
			fulfilled++
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 10, fulfilled)
	assert.Equal(t, 0, countOn(t, f.ledger, "B1", "S1"))
}

func TestConcurrentFulfilmentsOfOneOrderSucceedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.service.PlaceOnShelf(ctx, "B1", 100, "S1"))
	orderID, err := f.service.Order(ctx, []string{"B1"})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		fulfilled int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.service.Fulfil(ctx, orderID, []FulfillmentLine{{BookID: "B1", ShelfID: "S1", NumberOfBooks: 1}})
			if err != nil {
				assert.ErrorIs(t, err, ErrOrderNotPending)
				return
			}
			mu.Lock()
			fulfilled++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fulfilled)
	assert.Equal(t, 99, countOn(t, f.ledger, "B1", "S1"))
}

func TestFulfilCompensatesWhenStatusUpdateFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewService(f.catalog, f.ledger, brokenMarkStore{f.orders}, nil, zap.NewNop(), WithPublisher(f.events))

	require.NoError(t, svc.PlaceOnShelf(ctx, "B1", 3, "S1"))
	require.NoError(t, svc.PlaceOnShelf(ctx, "B2", 2, "S2"))
	orderID, err := svc.Order(ctx, []string{"B1", "B2"})
	require.NoError(t, err)

	err = svc.Fulfil(ctx, orderID, []FulfillmentLine{
		{BookID: "B1", ShelfID: "S1", NumberOfBooks: 2},
		{BookID: "B2", ShelfID: "S2", NumberOfBooks: 2},
	})
	require.ErrorIs(t, err, errStoreDown)
	assert.False(t, IsClientError(err))

	assert.Equal(t, 3, countOn(t, f.ledger, "B1", "S1"))
	assert.Equal(t, 2, countOn(t, f.ledger, "B2", "S2"))
	assert.NotContains(t, f.events.types(), EventOrderFulfilled)
}

func TestFulfilCancelledBeforeDecrementDoesNothing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.service.PlaceOnShelf(context.Background(), "B1", 3, "S1"))
	orderID, err := f.service.Order(context.Background(), []string{"B1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = f.service.Fulfil(ctx, orderID, []FulfillmentLine{{BookID: "B1", ShelfID: "S1", NumberOfBooks: 1}})
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 3, countOn(t, f.ledger, "B1", "S1"))
	order, err := f.service.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, OrderPending, order.Status)
}

func TestFulfilCompletesWhenCancelledMidRegion(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger := cancellingLedger{MemoryLedger: f.ledger, cancel: cancel}
	svc := NewService(f.catalog, ledger, f.orders, nil, zap.NewNop())

	require.NoError(t, svc.PlaceOnShelf(ctx, "B1", 3, "S1"))
	orderID, err := svc.Order(ctx, []string{"B1"})
	require.NoError(t, err)

	require.NoError(t, svc.Fulfil(ctx, orderID, []FulfillmentLine{{BookID: "B1", ShelfID: "S1", NumberOfBooks: 2}}))
	require.Error(t, ctx.Err())

	assert.Equal(t, 1, countOn(t, f.ledger, "B1", "S1"))
	order, err := f.orders.Get(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, OrderFulfilled, order.Status)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.events.err = errors.New("broker down")

	require.NoError(t, f.service.PlaceOnShelf(ctx, "B1", 1, "S1"))
	assert.Equal(t, 1, countOn(t, f.ledger, "B1", "S1"))
}

func TestEventsCarryClockTime(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(f.catalog, f.ledger, f.orders, nil, nil, WithPublisher(f.events), WithClock(func() time.Time { return fixed }))

	require.NoError(t, svc.PlaceOnShelf(context.Background(), "B2", 4, "S3"))
	require.Len(t, f.events.events, 1)
	assert.Equal(t, fixed, f.events.events[0].OccurredAt)
	assert.Equal(t, BooksPlacedEvent{BookID: "B2", ShelfID: "S3", Quantity: 4}, f.events.events[0].Data)
}

func TestAllBooksWithStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.service.PlaceOnShelf(ctx, "B2", 2, "S1"))
	require.NoError(t, f.service.PlaceOnShelf(ctx, "B2", 3, "S2"))

	books, err := f.service.AllBooksWithStock(ctx)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "B1", books[0].Book.ID)
	assert.Equal(t, 0, books[0].Stock)
	assert.Equal(t, "B2", books[1].Book.ID)
	assert.Equal(t, 5, books[1].Stock)
}

func TestCatalogFailureIsInfrastructureError(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	svc := NewService(failingLookup{err: errors.New("catalog down")}, ledger, NewMemoryOrderStore(), nil, zap.NewNop())

	err := svc.PlaceOnShelf(ctx, "B1", 1, "S1")
	require.Error(t, err)
	assert.False(t, IsClientError(err))
	assert.Equal(t, 0, countOn(t, ledger, "B1", "S1"))

	_, err = svc.AllBooksWithStock(ctx)
	assert.Error(t, err)
}
