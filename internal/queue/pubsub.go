package queue

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/metrics"
)

// PubSubQueue implements Queue on Google Cloud Pub/Sub. Topics and their
// subscriptions are expected to exist; subscription IDs equal topic names.
type PubSubQueue struct {
	client *pubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[Topic]*pubsub.Topic
}

// NewPubSubQueue connects to the project using Application Default
// Credentials.
func NewPubSubQueue(ctx context.Context, projectID string, logger *zap.Logger) (*PubSubQueue, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSubQueue{
		client: client,
		logger: logger,
		topics: make(map[Topic]*pubsub.Topic),
	}, nil
}

func (q *PubSubQueue) topic(name Topic) *pubsub.Topic {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.topics[name]
	if !ok {
		t = q.client.Topic(string(name))
		q.topics[name] = t
	}
	return t
}

// Publish sends the task and waits for server acknowledgement. Task
// publishes are low volume; losing one silently costs a whole stage run.
func (q *PubSubQueue) Publish(ctx context.Context, topic Topic, task Task) error {
	data, err := task.Encode()
	if err != nil {
		return err
	}

	result := q.topic(topic).Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish task %s to %s: %w", task.ID, topic, err)
	}
	metrics.ObserveTask(string(topic), "published")
	return nil
}

// Receive pulls tasks one at a time until ctx is canceled. The message is
// acked only after h returns nil.
func (q *PubSubQueue) Receive(ctx context.Context, topic Topic, h Handler) error {
	sub := q.client.Subscription(string(topic))
	sub.ReceiveSettings.Synchronous = true
	sub.ReceiveSettings.MaxOutstandingMessages = 1

	err := sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		task, err := DecodeTask(msg.Data)
		if err != nil {
			// A permanently undecodable message would redeliver forever.
			q.logger.Error("dropping undecodable task", zap.String("topic", string(topic)), zap.Error(err))
			msg.Ack()
			return
		}
		if err := h(msgCtx, task); err != nil {
			q.logger.Warn("task handler failed",
				zap.String("topic", string(topic)),
				zap.String("task_id", task.ID),
				zap.Error(err),
			)
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive on %s: %w", topic, err)
	}
	return nil
}

// Close stops all topic publishers and the underlying client.
func (q *PubSubQueue) Close() error {
	q.mu.Lock()
	for _, t := range q.topics {
		t.Stop()
	}
	q.mu.Unlock()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
