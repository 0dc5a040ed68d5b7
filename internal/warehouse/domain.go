// internal/warehouse/domain.go
package warehouse

import (
	"maps"
	"time"

	"bookwarehouse/internal/catalog"
)

// OrderStatus is the lifecycle state of an order. It only moves pending → fulfilled.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFulfilled OrderStatus = "fulfilled"
)

// ShelfRecord is the count of one book on one shelf.
type ShelfRecord struct {
	BookID  string `json:"bookId"`
	ShelfID string `json:"shelf"`
	Count   int    `json:"count"`
}

// ShelfLocation is one entry of a Locate result.
type ShelfLocation struct {
	ShelfID string `json:"shelf"`
	Count   int    `json:"count"`
}

// Order is a request for books. RequestedCounts is the original tally and never changes.
type Order struct {
	ID              string         `json:"orderId"`
	RequestedCounts map[string]int `json:"books"`
	Status          OrderStatus    `json:"status"`
	CreatedAt       time.Time      `json:"createdAt"`
}

func (o *Order) clone() *Order {
	cp := *o
	cp.RequestedCounts = maps.Clone(o.RequestedCounts)
	return &cp
}

// FulfillmentLine debits NumberOfBooks copies of BookID from ShelfID.
type FulfillmentLine struct {
	BookID        string `json:"book"`
	ShelfID       string `json:"shelf"`
	NumberOfBooks int    `json:"numberOfBooks"`
}

// BookStock pairs a catalog book with its stock across all shelves.
type BookStock struct {
	Book  *catalog.Book
	Stock int
}

// Tally counts book ids; duplicates add up.
func Tally(bookIDs []string) map[string]int {
	counts := make(map[string]int, len(bookIDs))
	for _, id := range bookIDs {
		counts[id]++
	}
	return counts
}

// Event represents a warehouse domain event.
type Event struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

const (
	EventBooksPlaced    = "BooksPlaced"
	EventOrderCreated   = "OrderCreated"
	EventOrderFulfilled = "OrderFulfilled"
)

// BooksPlacedEvent is published when copies are put on a shelf.
type BooksPlacedEvent struct {
	BookID   string `json:"book_id"`
	ShelfID  string `json:"shelf_id"`
	Quantity int    `json:"quantity"`
}

// OrderCreatedEvent is published when an order is accepted.
type OrderCreatedEvent struct {
	OrderID string         `json:"order_id"`
	Books   map[string]int `json:"books"`
}

// OrderFulfilledEvent is published when an order's lines were debited.
type OrderFulfilledEvent struct {
	OrderID string            `json:"order_id"`
	Lines   []FulfillmentLine `json:"lines"`
}
