package events

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/tanvir/tenantbook/internal/otelx"
)

// Publisher ships appointment lifecycle events to Kafka asynchronously.
// Publishing is best effort: request handling never blocks on the broker,
// and a full queue drops the event with a warning rather than stalling.
type Publisher struct {
	logger  *slog.Logger
	brokers []string
	queue   chan queued
}

type queued struct {
	evt         Event
	eventID     string
	traceparent string
	tracestate  string
}

func NewPublisher(brokers string, logger *slog.Logger) *Publisher {
	return &Publisher{
		logger:  logger,
		brokers: SplitBrokers(brokers),
		queue:   make(chan queued, 256),
	}
}

// Enabled is nil-safe so callers can hold an unconfigured publisher.
func (p *Publisher) Enabled() bool {
	return p != nil && len(p.brokers) > 0
}

// Publish captures the trace context at call time and queues the event for
// the writer goroutine.
func (p *Publisher) Publish(ctx context.Context, evt Event) {
	if !p.Enabled() {
		return
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	q := queued{
		evt:         evt,
		eventID:     uuid.NewString(),
		traceparent: traceparent,
		tracestate:  tracestate,
	}
	select {
	case p.queue <- q:
	default:
		p.logger.Warn("event queue full; dropping event", "type", evt.Type, "appointment_id", evt.AppointmentID)
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if !p.Enabled() {
		if p != nil && p.logger != nil {
			p.logger.Warn("event publisher disabled (no kafka brokers configured)")
		}
		return
	}

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  p.brokers,
		Balancer: &kafka.Hash{},
	})
	defer writer.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case q := <-p.queue:
			msgCtx := otelx.ContextWithTraceContext(ctx, q.traceparent, q.tracestate)
			msg := kafka.Message{
				Topic: q.evt.Type,
				Key:   []byte(q.evt.AppointmentID),
				Value: q.evt.Payload,
				Headers: []kafka.Header{
					{Key: "event_id", Value: []byte(q.eventID)},
					{Key: "event_type", Value: []byte(q.evt.Type)},
					{Key: "tenant_id", Value: []byte(q.evt.TenantID)},
				},
			}
			msg.Headers = injectTraceHeaders(msgCtx, msg.Headers)
			if err := writer.WriteMessages(ctx, msg); err != nil {
				p.logger.Error("event publish failed", "err", err, "type", q.evt.Type)
			}
		}
	}
}
