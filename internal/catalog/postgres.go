// internal/catalog/postgres.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Schema creates the books table read by PostgresCatalog.
const Schema = `
	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		author TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price NUMERIC(10, 2) NOT NULL DEFAULT 0,
		image TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// PostgresCatalog reads books from the books table.
type PostgresCatalog struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewPostgresCatalog creates a catalog over an open pool.
func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{
		db:     db,
		tracer: otel.Tracer("bookwarehouse/catalog"),
	}
}

// GetBook retrieves a book by its ID.
func (c *PostgresCatalog) GetBook(ctx context.Context, id string) (*Book, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.get_book",
		trace.WithAttributes(attribute.String("book.id", id)),
	)
	defer span.End()

	query := `
		SELECT id, name, author, description, price, image, created_at
		FROM books
		WHERE id = $1
	`
	book := &Book{}
	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&book.ID,
		&book.Name,
		&book.Author,
		&book.Description,
		&book.Price,
		&book.Image,
		&book.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to get book %s: %w", id, err)
	}
	return book, nil
}

// ListBooks returns every book ordered by name.
func (c *PostgresCatalog) ListBooks(ctx context.Context) ([]*Book, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.list_books")
	defer span.End()

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, author, description, price, image, created_at
		FROM books
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		book := &Book{}
		if err := rows.Scan(&book.ID, &book.Name, &book.Author, &book.Description, &book.Price, &book.Image, &book.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate books: %w", err)
	}

	span.SetAttributes(attribute.Int("books.count", len(books)))
	return books, nil
}

// Seed inserts books when the table is empty. Books without an ID get a fresh UUID.
// Rows another instance seeded concurrently are skipped.
func (c *PostgresCatalog) Seed(ctx context.Context, books []*Book) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count books: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, b := range books {
		id := b.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO books (id, name, author, description, price, image)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, id, b.Name, b.Author, b.Description, b.Price, b.Image)
		if err != nil {
			return fmt.Errorf("failed to seed book %q: %w", b.Name, err)
		}
	}

	return tx.Commit()
}
