// internal/catalog/service.go
package catalog

import (
	"context"
	"errors"
)

// Lookup is the read-only view of the catalog consumed by the warehouse.
type Lookup interface {
	GetBook(ctx context.Context, id string) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
}

// Exists reports whether the catalog knows the book. Lookup failures other
// than ErrBookNotFound are returned as errors.
func Exists(ctx context.Context, l Lookup, id string) (bool, error) {
	_, err := l.GetBook(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrBookNotFound):
		return false, nil
	default:
		return false, err
	}
}
