package warehouse

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "bookwarehouse/warehouse"

type metrics struct {
	booksPlaced         metric.Int64Counter
	ordersCreated       metric.Int64Counter
	ordersFulfilled     metric.Int64Counter
	fulfilmentsRejected metric.Int64Counter
}

// newMetrics registers the warehouse counters on the global meter provider.
// Registration failures fall back to no-op instruments.
func newMetrics() *metrics {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	return &metrics{
		booksPlaced:         counter("warehouse.books.placed", "Copies placed on shelves", "{book}"),
		ordersCreated:       counter("warehouse.orders.created", "Orders accepted", "{order}"),
		ordersFulfilled:     counter("warehouse.orders.fulfilled", "Orders fulfilled", "{order}"),
		fulfilmentsRejected: counter("warehouse.fulfilments.rejected", "Fulfilment attempts rejected", "{attempt}"),
	}
}

func (m *metrics) rejected(ctx context.Context, reason string) {
	m.fulfilmentsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// rejectionReason names the domain error class for the rejection counter.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownOrder):
		return "unknown_order"
	case errors.Is(err, ErrUnknownBook):
		return "unknown_book"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrOrderNotPending):
		return "not_pending"
	default:
		return "invalid_input"
	}
}
