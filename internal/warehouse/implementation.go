// internal/warehouse/implementation.go
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"bookwarehouse/internal/catalog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// service implements the Service interface.
type service struct {
	catalog    catalog.Lookup
	ledger     ShelfLedger
	orders     OrderStore
	stock      StockAggregator
	publisher  EventPublisher
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *metrics
	orderLocks stripedLocks
	now        func() time.Time
}

// Option configures optional collaborators of the service.
type Option func(*service)

// WithPublisher sends domain events to p after each successful mutation.
func WithPublisher(p EventPublisher) Option {
	return func(s *service) { s.publisher = p }
}

// WithClock overrides the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new warehouse service instance. A nil stock aggregator
// defaults to one summing over the ledger.
func NewService(lookup catalog.Lookup, ledger ShelfLedger, orders OrderStore, stock StockAggregator, logger *zap.Logger, opts ...Option) Service {
	if stock == nil {
		stock = NewStockAggregator(ledger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &service{
		catalog: lookup,
		ledger:  ledger,
		orders:  orders,
		stock:   stock,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		metrics: newMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// requireBooks checks every distinct id against the catalog in input order
// and reports the first one that does not exist.
func (s *service) requireBooks(ctx context.Context, bookIDs []string) error {
	seen := make(map[string]struct{}, len(bookIDs))
	for _, id := range bookIDs {
		if blank(id) {
			return &UnknownBookError{BookID: id}
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		ok, err := catalog.Exists(ctx, s.catalog, id)
		if err != nil {
			return fmt.Errorf("failed to look up book %s: %w", id, err)
		}
		if !ok {
			return &UnknownBookError{BookID: id}
		}
	}
	return nil
}

func (s *service) PlaceOnShelf(ctx context.Context, bookID string, quantity int, shelfID string) error {
	ctx, span := s.tracer.Start(ctx, "warehouse.place_on_shelf",
		trace.WithAttributes(
			attribute.String("book.id", bookID),
			attribute.String("shelf.id", shelfID),
			attribute.Int("quantity", quantity),
		),
	)
	defer span.End()

	if blank(shelfID) {
		return ErrInvalidIdentifier
	}
	if quantity <= 0 || quantity > MaxShelfCount {
		return ErrInvalidQuantity
	}
	if err := s.requireBooks(ctx, []string{bookID}); err != nil {
		return err
	}

	if err := s.ledger.Place(ctx, bookID, shelfID, quantity); err != nil {
		if errors.Is(err, ErrShelfFull) {
			return err
		}
		s.fail(span, "failed to place books", err, zap.String("book_id", bookID), zap.String("shelf_id", shelfID))
		return fmt.Errorf("failed to place books: %w", err)
	}

	s.metrics.booksPlaced.Add(ctx, int64(quantity))
	s.publish(ctx, EventBooksPlaced, BooksPlacedEvent{BookID: bookID, ShelfID: shelfID, Quantity: quantity})
	return nil
}

func (s *service) Locate(ctx context.Context, bookID string) ([]ShelfLocation, error) {
	ctx, span := s.tracer.Start(ctx, "warehouse.locate",
		trace.WithAttributes(attribute.String("book.id", bookID)),
	)
	defer span.End()

	if err := s.requireBooks(ctx, []string{bookID}); err != nil {
		return nil, err
	}
	locations, err := s.ledger.Locate(ctx, bookID)
	if err != nil {
		s.fail(span, "failed to locate book", err, zap.String("book_id", bookID))
		return nil, fmt.Errorf("failed to locate book: %w", err)
	}
	return locations, nil
}

func (s *service) Order(ctx context.Context, bookIDs []string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "warehouse.order",
		trace.WithAttributes(attribute.Int("books", len(bookIDs))),
	)
	defer span.End()

	if len(bookIDs) == 0 {
		return "", ErrEmptyOrder
	}
	if err := s.requireBooks(ctx, bookIDs); err != nil {
		return "", err
	}

	orderID, err := s.orders.Create(ctx, bookIDs)
	if err != nil {
		s.fail(span, "failed to create order", err)
		return "", fmt.Errorf("failed to create order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	s.metrics.ordersCreated.Add(ctx, 1)
	s.publish(ctx, EventOrderCreated, OrderCreatedEvent{OrderID: orderID, Books: Tally(bookIDs)})
	return orderID, nil
}

func (s *service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "warehouse.get_order",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer span.End()

	if blank(orderID) {
		return nil, ErrInvalidIdentifier
	}
	return s.orders.Get(ctx, orderID)
}

func (s *service) ListOrders(ctx context.Context) iter.Seq2[*Order, error] {
	return s.orders.List(ctx)
}

// Fulfil debits the given lines and marks the order fulfilled. Fulfilments of
// one order are serialised; the decrement and status flip run to completion
// even if ctx is cancelled once they have started.
func (s *service) Fulfil(ctx context.Context, orderID string, lines []FulfillmentLine) error {
	ctx, span := s.tracer.Start(ctx, "warehouse.fulfil",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.Int("lines", len(lines)),
		),
	)
	defer span.End()

	err := s.fulfil(ctx, orderID, lines)
	switch {
	case err == nil:
		s.metrics.ordersFulfilled.Add(ctx, 1)
	case IsClientError(err):
		span.SetAttributes(attribute.String("rejection", rejectionReason(err)))
		s.metrics.rejected(ctx, rejectionReason(err))
		s.logger.Info("fulfilment rejected", zap.String("order_id", orderID), zap.Error(err))
	default:
		s.fail(span, "fulfilment failed", err, zap.String("order_id", orderID))
	}
	return err
}

func (s *service) fulfil(ctx context.Context, orderID string, lines []FulfillmentLine) error {
	if blank(orderID) {
		return ErrInvalidIdentifier
	}
	if len(lines) == 0 {
		return ErrNoFulfillmentLines
	}
	bookIDs := make([]string, 0, len(lines))
	for _, l := range lines {
		if blank(l.ShelfID) {
			return ErrInvalidIdentifier
		}
		if l.NumberOfBooks <= 0 || l.NumberOfBooks > MaxShelfCount {
			return ErrInvalidQuantity
		}
		bookIDs = append(bookIDs, l.BookID)
	}

	unlock := s.orderLocks.lock(orderID)
	defer unlock()

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := s.requireBooks(ctx, bookIDs); err != nil {
		return err
	}
	debits := collectDebits(lines)
	if err := s.checkStock(ctx, debits); err != nil {
		return err
	}
	if order.Status != OrderPending {
		return &OrderNotPendingError{OrderID: orderID, Status: order.Status}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	dctx := context.WithoutCancel(ctx)

	if err := s.ledger.TryDecrement(dctx, lines); err != nil {
		var insufficient *InsufficientStockError
		if errors.As(err, &insufficient) {
			return err
		}
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	if err := s.orders.MarkFulfilled(dctx, orderID); err != nil {
		s.compensate(dctx, orderID, debits)
		if IsClientError(err) {
			return err
		}
		return fmt.Errorf("failed to mark order fulfilled: %w", err)
	}

	s.publish(dctx, EventOrderFulfilled, OrderFulfilledEvent{OrderID: orderID, Lines: lines})
	return nil
}

// checkStock compares each debit with the current count of its exact shelf.
// The ledger repeats the check under its own locks.
func (s *service) checkStock(ctx context.Context, debits []debit) error {
	counts := make(map[shelfKey]int)
	located := make(map[string]bool)
	for _, d := range debits {
		if !located[d.key.bookID] {
			locations, err := s.ledger.Locate(ctx, d.key.bookID)
			if err != nil {
				return fmt.Errorf("failed to locate book %s: %w", d.key.bookID, err)
			}
			for _, loc := range locations {
				counts[shelfKey{bookID: d.key.bookID, shelfID: loc.ShelfID}] = loc.Count
			}
			located[d.key.bookID] = true
		}
		if available := counts[d.key]; available < d.amount {
			return &InsufficientStockError{
				BookID:    d.key.bookID,
				ShelfID:   d.key.shelfID,
				Requested: d.amount,
				Available: available,
			}
		}
	}
	return nil
}

// compensate puts debited copies back after the order could not be marked fulfilled.
func (s *service) compensate(ctx context.Context, orderID string, debits []debit) {
	s.logger.Warn("compensating failed fulfilment: restoring shelf stock",
		zap.String("order_id", orderID),
		zap.Int("records", len(debits)),
	)
	for _, d := range debits {
		if err := s.ledger.Place(ctx, d.key.bookID, d.key.shelfID, d.amount); err != nil {
			s.logger.Error("failed to restore shelf stock",
				zap.String("order_id", orderID),
				zap.String("book_id", d.key.bookID),
				zap.String("shelf_id", d.key.shelfID),
				zap.Int("quantity", d.amount),
				zap.Error(err),
			)
		}
	}
}

func (s *service) BookWithStock(ctx context.Context, bookID string) (*BookStock, error) {
	ctx, span := s.tracer.Start(ctx, "warehouse.book_with_stock",
		trace.WithAttributes(attribute.String("book.id", bookID)),
	)
	defer span.End()

	if blank(bookID) {
		return nil, ErrInvalidIdentifier
	}
	book, err := s.catalog.GetBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, catalog.ErrBookNotFound) {
			return nil, &UnknownBookError{BookID: bookID}
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	total, err := s.stock.TotalFor(ctx, bookID)
	if err != nil {
		s.fail(span, "failed to aggregate stock", err, zap.String("book_id", bookID))
		return nil, fmt.Errorf("failed to aggregate stock: %w", err)
	}
	return &BookStock{Book: book, Stock: total}, nil
}

func (s *service) AllBooksWithStock(ctx context.Context) ([]BookStock, error) {
	ctx, span := s.tracer.Start(ctx, "warehouse.all_books_with_stock")
	defer span.End()

	books, err := s.catalog.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	ids := make([]string, len(books))
	for i, b := range books {
		ids[i] = b.ID
	}
	totals, err := s.stock.TotalsFor(ctx, ids)
	if err != nil {
		s.fail(span, "failed to aggregate stock", err)
		return nil, fmt.Errorf("failed to aggregate stock: %w", err)
	}

	out := make([]BookStock, len(books))
	for i, b := range books {
		out[i] = BookStock{Book: b, Stock: totals[b.ID]}
	}
	span.SetAttributes(attribute.Int("books", len(out)))
	return out, nil
}

func (s *service) publish(ctx context.Context, eventType string, data any) {
	if s.publisher == nil {
		return
	}
	event := Event{Type: eventType, OccurredAt: s.now().UTC(), Data: data}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (s *service) fail(span trace.Span, msg string, err error, fields ...zap.Field) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.logger.Error(msg, append(fields, zap.Error(err))...)
}
