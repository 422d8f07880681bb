package queue

import (
	"context"
	"fmt"
	"sync"
)

const memoryTopicDepth = 1024

// MemoryQueue implements Queue on in-process channels, for tests and local
// runs without a broker. Failed tasks are requeued at the back of the topic.
type MemoryQueue struct {
	mu     sync.Mutex
	topics map[Topic]chan Task
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{topics: make(map[Topic]chan Task)}
}

func (q *MemoryQueue) channel(topic Topic) chan Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.topics[topic]
	if !ok {
		ch = make(chan Task, memoryTopicDepth)
		q.topics[topic] = ch
	}
	return ch
}

func (q *MemoryQueue) Publish(_ context.Context, topic Topic, task Task) error {
	select {
	case q.channel(topic) <- task:
		return nil
	default:
		return fmt.Errorf("topic %s is full", topic)
	}
}

// Receive processes tasks until ctx is canceled.
func (q *MemoryQueue) Receive(ctx context.Context, topic Topic, h Handler) error {
	ch := q.channel(topic)
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-ch:
			if err := h(ctx, task); err != nil {
				select {
				case ch <- task:
				default:
					return fmt.Errorf("requeue task %s on %s: topic full", task.ID, topic)
				}
			}
		}
	}
}

// ReceiveOne processes at most one task and reports whether one was
// available. Tests drive stages step by step with it.
func (q *MemoryQueue) ReceiveOne(ctx context.Context, topic Topic, h Handler) (bool, error) {
	select {
	case task := <-q.channel(topic):
		if err := h(ctx, task); err != nil {
			return true, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// Len reports the number of queued tasks on a topic.
func (q *MemoryQueue) Len(topic Topic) int {
	return len(q.channel(topic))
}
