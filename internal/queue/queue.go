// Package queue provides an at-least-once work queue over NATS JetStream (C3).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/HariharanV1992/crawlweave/internal/retry"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Message wraps one delivered crawl task envelope with its underlying
// JetStream handle so the worker can ack/nak it once processing finishes.
type Message struct {
	TaskID uuid.UUID
	UserID string
	raw    *nats.Msg
}

// envelope is the wire format published for each task (§6 Queue message format).
// Extra fields are tolerated on decode; only task_id and user_id are required.
type envelope struct {
	TaskID uuid.UUID `json:"task_id"`
	UserID string    `json:"user_id"`
}

// Ack marks the message as successfully processed; it will not be redelivered.
func (m *Message) Ack() error {
	if err := m.raw.Ack(); err != nil {
		return domain.NewTransientBackendError("queue.ack", err)
	}
	return nil
}

// Nak makes the message immediately eligible for redelivery instead of
// waiting out the full AckWait visibility timeout.
func (m *Message) Nak() error {
	if err := m.raw.Nak(); err != nil {
		return domain.NewTransientBackendError("queue.nak", err)
	}
	return nil
}

// DeliveryCount reports how many times this message has been (re)delivered,
// used to detect the dead-letter threshold.
func (m *Message) DeliveryCount() int {
	meta, err := m.raw.Metadata()
	if err != nil {
		return 0
	}
	return int(meta.NumDelivered)
}

// Config configures the JetStream-backed queue.
type Config struct {
	URL         string
	StreamName  string // also used as the subject
	AckWait     time.Duration
	MaxDeliver  int
	DurableName string
}

// Queue is the message queue adapter contract (C3): enqueue producer-side,
// receive/ack consumer-side, giving at-least-once delivery.
type Queue struct {
	cfg  Config
	nc   *nats.Conn
	js   nats.JetStreamContext
	sub  *nats.Subscription
}

// Connect establishes the NATS connection, ensures the backing stream and a
// durable pull consumer exist, and returns a ready-to-use Queue.
func Connect(cfg Config) (*Queue, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.StreamName},
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	durable := cfg.DurableName
	if durable == "" {
		durable = cfg.StreamName + "-workers"
	}

	sub, err := js.PullSubscribe(cfg.StreamName, durable, nats.AckExplicit(),
		nats.AckWait(cfg.AckWait), nats.MaxDeliver(cfg.MaxDeliver))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create pull consumer: %w", err)
	}

	return &Queue{cfg: cfg, nc: nc, js: js, sub: sub}, nil
}

// Enqueue publishes a task envelope for workers to pick up, retrying
// transient publish failures per the shared retry policy.
func (q *Queue) Enqueue(ctx context.Context, taskID uuid.UUID, userID string) error {
	payload, err := marshalEnvelope(taskID, userID)
	if err != nil {
		return fmt.Errorf("failed to marshal task envelope: %w", err)
	}
	return retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		if _, err := q.js.Publish(q.cfg.StreamName, payload); err != nil {
			return domain.NewTransientBackendError("queue.enqueue", err)
		}
		return nil
	})
}

func marshalEnvelope(id uuid.UUID, userID string) ([]byte, error) {
	return json.Marshal(envelope{TaskID: id, UserID: userID})
}

func unmarshalEnvelope(payload []byte) (envelope, error) {
	var e envelope
	err := json.Unmarshal(payload, &e)
	return e, err
}

// Receive pulls up to batchSize messages, waiting up to wait for at least one.
// Returns an empty slice (not an error) on a timed-out empty pull.
func (q *Queue) Receive(ctx context.Context, batchSize int, wait time.Duration) ([]*Message, error) {
	msgs, err := q.sub.Fetch(batchSize, nats.MaxWait(wait))
	if err != nil {
		if err == nats.ErrTimeout {
			return nil, nil
		}
		return nil, domain.NewTransientBackendError("queue.receive", err)
	}

	out := make([]*Message, 0, len(msgs))
	for _, raw := range msgs {
		e, err := unmarshalEnvelope(raw.Data)
		if err != nil {
			// malformed payload: ack it away so it never blocks the stream
			_ = raw.Ack()
			continue
		}
		out = append(out, &Message{TaskID: e.TaskID, UserID: e.UserID, raw: raw})
	}
	return out, nil
}

// Close drains the subscription and closes the underlying connection.
func (q *Queue) Close() error {
	if q.sub != nil {
		_ = q.sub.Unsubscribe()
	}
	q.nc.Close()
	return nil
}
