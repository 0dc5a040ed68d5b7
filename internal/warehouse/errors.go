package warehouse

import (
	"errors"
	"fmt"
	"math"
)

// MaxShelfCount is the most copies a single shelf record can hold. It matches
// the range of the shelves.count column.
const MaxShelfCount = math.MaxInt32

var (
	ErrUnknownBook        = errors.New("unknown book")
	ErrUnknownOrder       = errors.New("unknown order")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrOrderNotPending    = errors.New("order is not pending")
	ErrInvalidQuantity    = errors.New("quantity must be between 1 and 2147483647")
	ErrShelfFull          = errors.New("shelf record cannot hold that many copies")
	ErrInvalidIdentifier  = errors.New("identifier must not be blank")
	ErrEmptyOrder         = errors.New("order must reference at least one book")
	ErrNoFulfillmentLines = errors.New("fulfilment must contain at least one line")
)

// UnknownBookError names a book the catalog does not know.
type UnknownBookError struct {
	BookID string
}

func (e *UnknownBookError) Error() string {
	return fmt.Sprintf("book with ID %s does not exist", e.BookID)
}

func (e *UnknownBookError) Unwrap() error { return ErrUnknownBook }

// UnknownOrderError names an order the store does not hold.
type UnknownOrderError struct {
	OrderID string
}

func (e *UnknownOrderError) Error() string {
	return fmt.Sprintf("order with ID %s does not exist", e.OrderID)
}

func (e *UnknownOrderError) Unwrap() error { return ErrUnknownOrder }

// InsufficientStockError names the (book, shelf) pair that cannot cover a debit.
type InsufficientStockError struct {
	BookID    string
	ShelfID   string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for book %s on shelf %s: available %d, requested %d",
		e.BookID, e.ShelfID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// OrderNotPendingError is returned when fulfilling an order twice.
type OrderNotPendingError struct {
	OrderID string
	Status  OrderStatus
}

func (e *OrderNotPendingError) Error() string {
	return fmt.Sprintf("order %s is %s, not pending", e.OrderID, e.Status)
}

func (e *OrderNotPendingError) Unwrap() error { return ErrOrderNotPending }

// IsClientError reports whether err was caused by caller input rather than infrastructure.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrUnknownBook,
		ErrUnknownOrder,
		ErrInsufficientStock,
		ErrOrderNotPending,
		ErrInvalidQuantity,
		ErrShelfFull,
		ErrInvalidIdentifier,
		ErrEmptyOrder,
		ErrNoFulfillmentLines,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
