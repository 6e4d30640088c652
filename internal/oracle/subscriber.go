package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"VeilPerp/internal/observability"
)

// PriceSubscriber feeds a CachedFeed from veil.prices.{feed} messages.
// The feed ID is the subject suffix; the payload is a JSON Price.
type PriceSubscriber struct {
	js       jetstream.JetStream
	feed     *CachedFeed
	metrics  *observability.Metrics
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, feed *CachedFeed, metrics *observability.Metrics) *PriceSubscriber {
	return &PriceSubscriber{js: js, feed: feed, metrics: metrics}
}

func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, "VEIL_PRICES", jetstream.ConsumerConfig{
		Durable:       "veil-prices",
		FilterSubject: "veil.prices.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		// Only the latest observation matters.
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var p Price
		if err := json.Unmarshal(msg.Data(), &p); err != nil {
			log.Printf("WARN: unparseable price on %s: %v", msg.Subject(), err)
			msg.Ack()
			return
		}
		feedID := strings.TrimPrefix(msg.Subject(), "veil.prices.")
		ps.feed.SetPrice(feedID, p)
		if ps.metrics != nil {
			ps.metrics.OraclePriceUpdates.WithLabelValues(feedID).Inc()
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	ps.consumer = cc
	log.Println("INFO: subscribed to veil.prices.>")
	return nil
}

func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
}

// EnsurePriceStream creates the price stream if missing.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VEIL_PRICES",
		Subjects:  []string{"veil.prices.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create price stream: %w", err)
	}
	return nil
}
