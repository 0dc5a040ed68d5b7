package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"bookwarehouse/pkg/eventstore"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Schema holds the DDL for the shelf and order tables.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS shelves (
		id UUID PRIMARY KEY,
		book_id TEXT NOT NULL,
		shelf_id TEXT NOT NULL,
		count INT NOT NULL CHECK (count >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (book_id, shelf_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shelves_book_id ON shelves(book_id)`,
	`CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		books JSONB NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'fulfilled')),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at)`,
}

const (
	orderAggregateType  = "order"
	createOrderAttempts = 3
	pqUniqueViolation   = "23505"
	pqNumericOutOfRange = "22003"
)

// PostgresLedger stores shelf records in the shelves table.
type PostgresLedger struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{
		db:     db,
		tracer: otel.Tracer("bookwarehouse/ledger"),
	}
}

// Place upserts the record; the increment happens inside a single statement.
func (l *PostgresLedger) Place(ctx context.Context, bookID, shelfID string, quantity int) error {
	ctx, span := l.tracer.Start(ctx, "ledger.place",
		trace.WithAttributes(
			attribute.String("book.id", bookID),
			attribute.String("shelf.id", shelfID),
			attribute.Int("quantity", quantity),
		),
	)
	defer span.End()

	if quantity <= 0 || quantity > MaxShelfCount {
		return ErrInvalidQuantity
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO shelves (id, book_id, shelf_id, count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (book_id, shelf_id) DO UPDATE
		SET count = shelves.count + EXCLUDED.count,
		    updated_at = NOW()
	`, uuid.New(), bookID, shelfID, quantity)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqNumericOutOfRange {
			return ErrShelfFull
		}
		span.RecordError(err)
		return fmt.Errorf("failed to place books on shelf: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Locate(ctx context.Context, bookID string) ([]ShelfLocation, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.locate",
		trace.WithAttributes(attribute.String("book.id", bookID)),
	)
	defer span.End()

	rows, err := l.db.QueryContext(ctx, `
		SELECT shelf_id, count
		FROM shelves
		WHERE book_id = $1
		ORDER BY created_at ASC, shelf_id ASC
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query shelves: %w", err)
	}
	defer rows.Close()

	locations := []ShelfLocation{}
	for rows.Next() {
		var loc ShelfLocation
		if err := rows.Scan(&loc.ShelfID, &loc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan shelf: %w", err)
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shelves: %w", err)
	}
	return locations, nil
}

// TryDecrement locks every affected row with SELECT ... FOR UPDATE in sorted
// key order, validates the whole batch, then applies it in the same transaction.
func (l *PostgresLedger) TryDecrement(ctx context.Context, lines []FulfillmentLine) error {
	ctx, span := l.tracer.Start(ctx, "ledger.try_decrement",
		trace.WithAttributes(attribute.Int("lines", len(lines))),
	)
	defer span.End()

	for _, line := range lines {
		if line.NumberOfBooks <= 0 {
			return ErrInvalidQuantity
		}
	}
	debits := collectDebits(lines)
	if len(debits) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, d := range debits {
		var count int
		err := tx.QueryRowContext(ctx, `
			SELECT count
			FROM shelves
			WHERE book_id = $1 AND shelf_id = $2
			FOR UPDATE
		`, d.key.bookID, d.key.shelfID).Scan(&count)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to lock shelf %s/%s: %w", d.key.bookID, d.key.shelfID, err)
		}
		if count < d.amount {
			span.SetAttributes(attribute.Bool("insufficient", true))
			return &InsufficientStockError{
				BookID:    d.key.bookID,
				ShelfID:   d.key.shelfID,
				Requested: d.amount,
				Available: count,
			}
		}
	}

	for _, d := range debits {
		_, err := tx.ExecContext(ctx, `
			UPDATE shelves
			SET count = count - $3, updated_at = NOW()
			WHERE book_id = $1 AND shelf_id = $2
		`, d.key.bookID, d.key.shelfID, d.amount)
		if err != nil {
			return fmt.Errorf("failed to decrement shelf %s/%s: %w", d.key.bookID, d.key.shelfID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PostgresOrderStore stores orders in the orders table and records their
// lifecycle in the event store within the same transaction.
type PostgresOrderStore struct {
	db         *sql.DB
	eventStore *eventstore.EventStore
	tracer     trace.Tracer
	now        func() time.Time
}

func NewPostgresOrderStore(db *sql.DB, es *eventstore.EventStore) *PostgresOrderStore {
	return &PostgresOrderStore{
		db:         db,
		eventStore: es,
		tracer:     otel.Tracer("bookwarehouse/orders"),
		now:        time.Now,
	}
}

func (s *PostgresOrderStore) Create(ctx context.Context, bookIDs []string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "orders.create",
		trace.WithAttributes(attribute.Int("books", len(bookIDs))),
	)
	defer span.End()

	if len(bookIDs) == 0 {
		return "", ErrEmptyOrder
	}

	counts := Tally(bookIDs)
	books, err := json.Marshal(counts)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requested counts: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < createOrderAttempts; attempt++ {
		now := s.now().UTC()
		id := NewOrderID(now)
		err := s.insertOrder(ctx, id, books, counts, now)
		if err == nil {
			span.SetAttributes(attribute.String("order.id", id))
			return id, nil
		}
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("failed to allocate a unique order id: %w", lastErr)
}

func (s *PostgresOrderStore) insertOrder(ctx context.Context, id string, books []byte, counts map[string]int, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (order_id, books, status, created_at)
		VALUES ($1, $2, $3, $4)
	`, id, string(books), string(OrderPending), now)
	if err != nil {
		return err
	}

	data, err := json.Marshal(OrderCreatedEvent{OrderID: id, Books: counts})
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	event := eventstore.Event{
		AggregateID:   id,
		AggregateType: orderAggregateType,
		EventType:     EventOrderCreated,
		EventData:     data,
		Version:       1,
	}
	if err := s.eventStore.AppendEventsTx(ctx, tx, id, orderAggregateType, 0, []eventstore.Event{event}); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresOrderStore) Get(ctx context.Context, orderID string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.get",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer span.End()

	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, books, status, created_at
		FROM orders
		WHERE order_id = $1
	`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &UnknownOrderError{OrderID: orderID}
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// List streams orders from an open cursor; the rows are released when
// iteration ends or the consumer stops early.
func (s *PostgresOrderStore) List(ctx context.Context) iter.Seq2[*Order, error] {
	return func(yield func(*Order, error) bool) {
		ctx, span := s.tracer.Start(ctx, "orders.list")
		defer span.End()

		rows, err := s.db.QueryContext(ctx, `
			SELECT order_id, books, status, created_at
			FROM orders
			ORDER BY created_at ASC, order_id ASC
		`)
		if err != nil {
			yield(nil, fmt.Errorf("failed to list orders: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			order, err := scanOrder(rows)
			if err != nil {
				yield(nil, fmt.Errorf("failed to scan order: %w", err))
				return
			}
			if !yield(order, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to iterate orders: %w", err))
		}
	}
}

func (s *PostgresOrderStore) MarkFulfilled(ctx context.Context, orderID string) error {
	ctx, span := s.tracer.Start(ctx, "orders.mark_fulfilled",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2
		WHERE order_id = $1 AND status = $3
	`, orderID, string(OrderFulfilled), string(OrderPending))
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE order_id = $1`, orderID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return &UnknownOrderError{OrderID: orderID}
		}
		if err != nil {
			return fmt.Errorf("failed to read order status: %w", err)
		}
		return &OrderNotPendingError{OrderID: orderID, Status: OrderStatus(status)}
	}

	data, err := json.Marshal(OrderFulfilledEvent{OrderID: orderID})
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	event := eventstore.Event{
		AggregateID:   orderID,
		AggregateType: orderAggregateType,
		EventType:     EventOrderFulfilled,
		EventData:     data,
		Version:       2,
	}
	if err := s.eventStore.AppendEventsTx(ctx, tx, orderID, orderAggregateType, 1, []eventstore.Event{event}); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return &OrderNotPendingError{OrderID: orderID, Status: OrderFulfilled}
		}
		return fmt.Errorf("failed to append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		order  Order
		books  []byte
		status string
	)
	if err := row.Scan(&order.ID, &books, &status, &order.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(books, &order.RequestedCounts); err != nil {
		return nil, fmt.Errorf("failed to decode requested counts: %w", err)
	}
	order.Status = OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	return &order, nil
}
