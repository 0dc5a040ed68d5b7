// internal/catalog/memory.go
package catalog

import (
	"context"
	"sync"
)

// MemoryCatalog is an in-process Lookup, used for local runs and tests.
type MemoryCatalog struct {
	mu    sync.RWMutex
	books map[string]*Book
	order []string
}

// NewMemoryCatalog returns a catalog holding the given books.
func NewMemoryCatalog(books ...*Book) *MemoryCatalog {
	c := &MemoryCatalog{books: make(map[string]*Book)}
	for _, b := range books {
		c.Add(b)
	}
	return c
}

// Add inserts or replaces a book. Books without an ID are ignored.
func (c *MemoryCatalog) Add(book *Book) {
	if book == nil || book.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.books[book.ID]; !ok {
		c.order = append(c.order, book.ID)
	}
	cp := *book
	c.books[book.ID] = &cp
}

func (c *MemoryCatalog) GetBook(_ context.Context, id string) (*Book, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.books[id]
	if !ok {
		return nil, ErrBookNotFound
	}
	cp := *b
	return &cp, nil
}

func (c *MemoryCatalog) ListBooks(_ context.Context) ([]*Book, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Book, 0, len(c.order))
	for _, id := range c.order {
		cp := *c.books[id]
		out = append(out, &cp)
	}
	return out, nil
}
