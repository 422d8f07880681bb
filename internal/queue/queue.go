package queue

import "context"

// Handler processes one task. Returning nil acknowledges the task; returning
// an error negatively acknowledges it for redelivery.
type Handler func(ctx context.Context, task Task) error

// Queue is a durable at-least-once task transport. Receive delivers tasks
// one at a time and blocks until ctx is canceled; acknowledgement follows
// the handler result, so a consumer crash before the handler returns leaves
// the task in flight for redelivery.
type Queue interface {
	Publish(ctx context.Context, topic Topic, task Task) error
	Receive(ctx context.Context, topic Topic, h Handler) error
}
