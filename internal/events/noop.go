package events

import "context"

// NoopPublisher discards events. Used when LENDBUS_NATS_URL is unset.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (NoopPublisher) Close() error { return nil }
