package mpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// RemoteCluster is the NATS-backed cluster transport: requests are
// published to the compute stream and results consumed from the result
// subjects. Used when the confidential cluster runs out of process.
type RemoteCluster struct {
	js jetstream.JetStream
}

func NewRemoteCluster(js jetstream.JetStream) *RemoteCluster {
	return &RemoteCluster{js: js}
}

// Submit publishes the request to veil.mpc.requests.{circuit}.
func (rc *RemoteCluster) Submit(ctx context.Context, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	subject := fmt.Sprintf("veil.mpc.requests.%s", req.Circuit)
	if _, err := rc.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// ResultSubscriber consumes cluster results from veil.mpc.results.> and
// hands them to the ledger's callback handler. Explicit ACK after the
// handler returns; a result that fails to parse is ACKed and dropped, it
// would never parse on redelivery either.
type ResultSubscriber struct {
	js       jetstream.JetStream
	handler  Handler
	consumer jetstream.ConsumeContext
}

func NewResultSubscriber(js jetstream.JetStream, handler Handler) *ResultSubscriber {
	return &ResultSubscriber{js: js, handler: handler}
}

func (rs *ResultSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := rs.js.CreateOrUpdateConsumer(ctx, "VEIL_MPC_RESULTS", jetstream.ConsumerConfig{
		Durable:       "veil-mpc-results",
		FilterSubject: "veil.mpc.results.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create results consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var res Result
		if err := json.Unmarshal(msg.Data(), &res); err != nil {
			log.Printf("WARN: unparseable result on %s: %v", msg.Subject(), err)
			msg.Ack()
			return
		}
		rs.handler(ctx, res)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume results: %w", err)
	}

	rs.consumer = cc
	log.Println("INFO: subscribed to veil.mpc.results.>")
	return nil
}

func (rs *ResultSubscriber) Stop() {
	if rs.consumer != nil {
		rs.consumer.Stop()
	}
}

// EnsureComputeStreams creates the request and result streams if missing.
func EnsureComputeStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "VEIL_MPC_REQUESTS",
			Subjects:  []string{"veil.mpc.requests.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VEIL_MPC_RESULTS",
			Subjects:  []string{"veil.mpc.results.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}
	return nil
}
