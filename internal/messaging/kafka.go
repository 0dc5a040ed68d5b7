// internal/messaging/kafka.go
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bookwarehouse/internal/warehouse"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes warehouse events as JSON, keyed by the
// aggregate they concern so one order's events stay in one partition.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
	tracer trace.Tracer
}

// NewKafkaWriter builds a writer tuned for low-latency single events.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		BatchSize:              100,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(writer MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		topic:  topic,
		tracer: otel.Tracer("bookwarehouse/messaging"),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event warehouse.Event) error {
	ctx, span := p.tracer.Start(ctx, "messaging.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", p.topic),
			attribute.String("event.type", event.Type),
		),
	)
	defer span.End()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := headerCarrier{{Key: "event-type", Value: []byte(event.Type)}}
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	msg := kafka.Message{
		Key:     []byte(eventKey(event)),
		Value:   payload,
		Headers: headers,
		Time:    event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func eventKey(event warehouse.Event) string {
	switch data := event.Data.(type) {
	case warehouse.OrderCreatedEvent:
		return data.OrderID
	case warehouse.OrderFulfilledEvent:
		return data.OrderID
	case warehouse.BooksPlacedEvent:
		return data.BookID
	default:
		return event.Type
	}
}

// headerCarrier adapts Kafka headers to a propagation.TextMapCarrier.
type headerCarrier []kafka.Header

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(*c))
	for i, h := range *c {
		keys[i] = h.Key
	}
	return keys
}
