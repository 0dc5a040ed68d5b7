// internal/warehouse/service.go
package warehouse

import (
	"context"
	"iter"
)

// Service defines the interface for the warehouse service.
type Service interface {
	PlaceOnShelf(ctx context.Context, bookID string, quantity int, shelfID string) error
	Locate(ctx context.Context, bookID string) ([]ShelfLocation, error)
	Order(ctx context.Context, bookIDs []string) (string, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListOrders(ctx context.Context) iter.Seq2[*Order, error]
	Fulfil(ctx context.Context, orderID string, lines []FulfillmentLine) error
	BookWithStock(ctx context.Context, bookID string) (*BookStock, error)
	AllBooksWithStock(ctx context.Context) ([]BookStock, error)
}

// ShelfLedger owns the per-(book, shelf) counts.
type ShelfLedger interface {
	// Place adds quantity copies, creating the record on first placement.
	Place(ctx context.Context, bookID, shelfID string, quantity int) error
	// Locate reports every shelf holding a record for the book, zero counts included.
	Locate(ctx context.Context, bookID string) ([]ShelfLocation, error)
	// TryDecrement applies every line or none. It returns *InsufficientStockError
	// naming the first line that cannot be covered.
	TryDecrement(ctx context.Context, lines []FulfillmentLine) error
}

// OrderStore persists orders.
type OrderStore interface {
	Create(ctx context.Context, bookIDs []string) (string, error)
	// Get returns *UnknownOrderError when the order does not exist.
	Get(ctx context.Context, orderID string) (*Order, error)
	List(ctx context.Context) iter.Seq2[*Order, error]
	// MarkFulfilled flips a pending order. Missing or already fulfilled orders are errors.
	MarkFulfilled(ctx context.Context, orderID string) error
}

// StockAggregator sums shelf counts per book.
type StockAggregator interface {
	TotalFor(ctx context.Context, bookID string) (int, error)
	TotalsFor(ctx context.Context, bookIDs []string) (map[string]int, error)
}

// EventPublisher receives domain events after the mutation they describe has committed.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
