package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"VeilPerp/internal/event"
	"VeilPerp/internal/observability"
)

// OutboundPublisher publishes committed audit envelopes to NATS for
// downstream consumers. Subjects follow the pattern
// veil.ledger.events.{event_type}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan chan event.Envelope
	metrics   *observability.Metrics
}

func NewOutboundPublisher(js jetstream.JetStream, buffer int, metrics *observability.Metrics) *OutboundPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &OutboundPublisher{
		js:        js,
		inputChan: make(chan event.Envelope, buffer),
		metrics:   metrics,
	}
}

// Sink returns an audit sink feeding this publisher. The send never
// blocks a settlement: when the buffer is full the envelope is dropped
// and counted, and downstream consumers fall back to the event log.
func (op *OutboundPublisher) Sink() event.AuditLog {
	return publishSink{op}
}

type publishSink struct{ op *OutboundPublisher }

func (s publishSink) Append(_ context.Context, env event.Envelope) error {
	select {
	case s.op.inputChan <- env:
		return nil
	default:
		if s.op.metrics != nil {
			s.op.metrics.PublishDrops.Inc()
		}
		return nil
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, env); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", env.Sequence, err)
				// Non-fatal: downstream consumers can query the event log directly
			}
		}
	}
}

// wireEnvelope is the outbound JSON shape.
type wireEnvelope struct {
	Sequence  int64       `json:"sequence"`
	EventType string      `json:"event_type"`
	Position  string      `json:"position,omitempty"`
	Pool      string      `json:"pool,omitempty"`
	Custody   string      `json:"custody,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

func (op *OutboundPublisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(wireEnvelope{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Position:  env.Position,
		Pool:      env.Pool,
		Custody:   env.Custody,
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("veil.ledger.events.%s", env.EventType.String())
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VEIL_LEDGER_EVENTS",
		Subjects:  []string{"veil.ledger.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream VEIL_LEDGER_EVENTS")
	return nil
}
