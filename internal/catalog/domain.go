// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"
)

// ErrBookNotFound is returned by a Lookup when no book has the requested ID.
var ErrBookNotFound = errors.New("book not found")

// Book is a catalog entry. The warehouse only cares that it exists.
type Book struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Author      string    `json:"author"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Image       string    `json:"image"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}
