package worker

import (
	"context"
	"strings"

	"budgetbuddy/internal/amqp"
	"budgetbuddy/internal/log"
)

// Consumer delivers invalidation messages until its context ends.
type Consumer interface {
	ConsumeInvalidations(ctx context.Context, handler func(context.Context, *amqp.InvalidationMessage) error) error
}

// Invalidator drops cached entries for whole resources.
type Invalidator interface {
	InvalidateResources(resources ...string) int
}

// InvalidationListener applies invalidations broadcast by other instances
// to the local cache.
type InvalidationListener struct {
	consumer Consumer
	cache    Invalidator
	origin   string
	logger   *log.Logger
}

// NewInvalidationListener creates a listener that ignores messages stamped
// with origin, the identifier this instance publishes under.
func NewInvalidationListener(consumer Consumer, cache Invalidator, origin string, logger *log.Logger) *InvalidationListener {
	if logger == nil {
		logger = log.Discard()
	}
	return &InvalidationListener{
		consumer: consumer,
		cache:    cache,
		origin:   origin,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Run blocks until ctx is done.
func (l *InvalidationListener) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "Starting invalidation listener", log.FieldOrigin, l.origin)
	err := l.consumer.ConsumeInvalidations(ctx, l.Handle)
	if ctx.Err() != nil {
		l.logger.InfoContext(ctx, "Invalidation listener stopped")
		return nil
	}
	return err
}

// Handle processes a single invalidation message
func (l *InvalidationListener) Handle(ctx context.Context, msg *amqp.InvalidationMessage) error {
	if msg.Origin == l.origin {
		return nil
	}
	n := l.cache.InvalidateResources(msg.Resources...)
	l.logger.DebugContext(ctx, "Applied remote invalidation",
		log.FieldOrigin, msg.Origin,
		log.FieldResource, strings.Join(msg.Resources, ","),
		log.FieldCount, n)
	return nil
}
