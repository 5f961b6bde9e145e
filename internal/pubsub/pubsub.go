package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Message metadata keys shared by publishers and consumers.
const (
	MetadataTenantID  = "tenant_id"
	MetadataEventName = "event_name"
)

// Publisher publishes billing events and usage notifications
type Publisher interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
	Close() error
}

// Subscriber consumes messages of a topic. It matches watermill's
// message.Subscriber so it can feed a router directly.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	Close() error
}

// PubSub combines both Publisher and Subscriber interfaces
type PubSub interface {
	Publisher
	Subscriber
}
