package warehouse

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countOn(t *testing.T, l ShelfLedger, bookID, shelfID string) int {
	t.Helper()
	locations, err := l.Locate(context.Background(), bookID)
	require.NoError(t, err)
	for _, loc := range locations {
		if loc.ShelfID == shelfID {
			return loc.Count
		}
	}
	return 0
}

func TestMemoryLedgerPlaceAccumulates(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	require.NoError(t, l.Place(ctx, "b1", "s1", 5))
	require.NoError(t, l.Place(ctx, "b1", "s1", 2))
	require.NoError(t, l.Place(ctx, "b1", "s2", 1))

	locations, err := l.Locate(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []ShelfLocation{{ShelfID: "s1", Count: 7}, {ShelfID: "s2", Count: 1}}, locations)

	locations, err = l.Locate(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, locations)
}

func TestMemoryLedgerRejectsNonPositiveQuantity(t *testing.T) {
	l := NewMemoryLedger()
	assert.ErrorIs(t, l.Place(context.Background(), "b1", "s1", 0), ErrInvalidQuantity)
	assert.ErrorIs(t, l.Place(context.Background(), "b1", "s1", -3), ErrInvalidQuantity)

	locations, err := l.Locate(context.Background(), "b1")
	require.NoError(t, err)
	assert.Empty(t, locations)
}

func TestMemoryLedgerTryDecrementIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Place(ctx, "b1", "s1", 5))
	require.NoError(t, l.Place(ctx, "b2", "s1", 1))

	err := l.TryDecrement(ctx, []FulfillmentLine{
		{BookID: "b1", ShelfID: "s1", NumberOfBooks: 3},
		{BookID: "b2", ShelfID: "s1", NumberOfBooks: 2},
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "b2", insufficient.BookID)
	assert.Equal(t, "s1", insufficient.ShelfID)
	assert.Equal(t, 2, insufficient.Requested)
	assert.Equal(t, 1, insufficient.Available)

	assert.Equal(t, 5, countOn(t, l, "b1", "s1"))
	assert.Equal(t, 1, countOn(t, l, "b2", "s1"))

	require.NoError(t, l.TryDecrement(ctx, []FulfillmentLine{
		{BookID: "b1", ShelfID: "s1", NumberOfBooks: 3},
		{BookID: "b2", ShelfID: "s1", NumberOfBooks: 1},
	}))
	assert.Equal(t, 2, countOn(t, l, "b1", "s1"))
	assert.Equal(t, 0, countOn(t, l, "b2", "s1"))

	// Records that reach zero stay visible.
	locations, err := l.Locate(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, []ShelfLocation{{ShelfID: "s1", Count: 0}}, locations)
}

func TestMemoryLedgerTryDecrementMergesDuplicateLines(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Place(ctx, "b1", "s1", 3))

	err := l.TryDecrement(ctx, []FulfillmentLine{
		{BookID: "b1", ShelfID: "s1", NumberOfBooks: 2},
		{BookID: "b1", ShelfID: "s1", NumberOfBooks: 2},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 3, countOn(t, l, "b1", "s1"))
}

func TestMemoryLedgerTryDecrementSaturatesMergedAmounts(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Place(ctx, "b1", "s1", 5))

	err := l.TryDecrement(ctx, []FulfillmentLine{
		{BookID: "b1", ShelfID: "s1", NumberOfBooks: math.MaxInt},
		{BookID: "b1", ShelfID: "s1", NumberOfBooks: math.MaxInt},
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, math.MaxInt, insufficient.Requested)
	assert.Equal(t, 5, insufficient.Available)
	assert.Equal(t, 5, countOn(t, l, "b1", "s1"))
}

func TestMemoryLedgerPlaceRejectsOverflow(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	assert.ErrorIs(t, l.Place(ctx, "b1", "s1", math.MaxInt), ErrInvalidQuantity)
	require.NoError(t, l.Place(ctx, "b1", "s1", MaxShelfCount))
	assert.ErrorIs(t, l.Place(ctx, "b1", "s1", 1), ErrShelfFull)
	assert.Equal(t, MaxShelfCount, countOn(t, l, "b1", "s1"))

	require.NoError(t, l.TryDecrement(ctx, []FulfillmentLine{{BookID: "b1", ShelfID: "s1", NumberOfBooks: 1}}))
	require.NoError(t, l.Place(ctx, "b1", "s1", 1))
	assert.Equal(t, MaxShelfCount, countOn(t, l, "b1", "s1"))
}

func TestMemoryLedgerTryDecrementUnknownRecord(t *testing.T) {
	l := NewMemoryLedger()
	err := l.TryDecrement(context.Background(), []FulfillmentLine{{BookID: "b1", ShelfID: "nowhere", NumberOfBooks: 1}})

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0, insufficient.Available)
}

func TestMemoryLedgerConcurrentDecrementsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Place(ctx, "b1", "s1", 50))
	require.NoError(t, l.Place(ctx, "b2", "s2", 50))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Alternate line order so batches would deadlock without sorted locking.
			lines := []FulfillmentLine{
				{BookID: "b1", ShelfID: "s1", NumberOfBooks: 1},
				{BookID: "b2", ShelfID: "s2", NumberOfBooks: 1},
			}
			if i%2 == 1 {
				lines[0], lines[1] = lines[1], lines[0]
			}
			if err := l.TryDecrement(ctx, lines); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInsufficientStock)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, succeeded)
	assert.Equal(t, 0, countOn(t, l, "b1", "s1"))
	assert.Equal(t, 0, countOn(t, l, "b2", "s2"))
}

func TestMemoryLedgerHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewMemoryLedger()
	require.NoError(t, l.Place(ctx, "b1", "s1", 1))
	cancel()

	assert.ErrorIs(t, l.TryDecrement(ctx, []FulfillmentLine{{BookID: "b1", ShelfID: "s1", NumberOfBooks: 1}}), context.Canceled)
	assert.Equal(t, 1, countOn(t, l, "b1", "s1"))
}

func TestMemoryOrderStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOrderStore()

	_, err := s.Create(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyOrder)

	id, err := s.Create(ctx, []string{"b1", "b2", "b1"})
	require.NoError(t, err)
	assert.True(t, ValidOrderID(id))

	order, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"b1": 2, "b2": 1}, order.RequestedCounts)
	assert.Equal(t, OrderPending, order.Status)

	// Returned orders are copies.
	order.RequestedCounts["b1"] = 99
	order, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, order.RequestedCounts["b1"])

	require.NoError(t, s.MarkFulfilled(ctx, id))
	order, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OrderFulfilled, order.Status)

	err = s.MarkFulfilled(ctx, id)
	var notPending *OrderNotPendingError
	require.ErrorAs(t, err, &notPending)
	assert.Equal(t, OrderFulfilled, notPending.Status)

	assert.ErrorIs(t, s.MarkFulfilled(ctx, "order_1_missing"), ErrUnknownOrder)
	_, err = s.Get(ctx, "order_1_missing")
	var unknown *UnknownOrderError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "order_1_missing", unknown.OrderID)
}

func TestMemoryOrderStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOrderStore()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Create(ctx, []string{"b1"})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	var listed []string
	for order, err := range s.List(ctx) {
		require.NoError(t, err)
		listed = append(listed, order.ID)
	}
	assert.ElementsMatch(t, ids, listed)

	// Stopping early is allowed.
	n := 0
	for range s.List(ctx) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestStockAggregator(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Place(ctx, "b1", "s1", 4))
	require.NoError(t, l.Place(ctx, "b1", "s2", 3))
	require.NoError(t, l.Place(ctx, "b2", "s1", 1))

	agg := NewStockAggregator(l)

	total, err := agg.TotalFor(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 7, total)

	total, err = agg.TotalFor(ctx, "untracked")
	require.NoError(t, err)
	assert.Zero(t, total)

	totals, err := agg.TotalsFor(ctx, []string{"b1", "b2", "b1", "b3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"b1": 7, "b2": 1, "b3": 0}, totals)
}
