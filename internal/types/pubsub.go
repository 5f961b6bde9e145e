package types

import (
	"fmt"

	"github.com/samber/lo"
)

// PubSubType selects the transport behind the webhook and call-usage topics.
type PubSubType string

const (
	// MemoryPubSub keeps messages in process. Used for local mode and tests.
	MemoryPubSub PubSubType = "memory"

	// KafkaPubSub publishes through the configured Kafka brokers.
	KafkaPubSub PubSubType = "kafka"
)

// Validate rejects transports the server cannot build. Empty means memory.
func (p PubSubType) Validate() error {
	if p == "" || lo.Contains([]PubSubType{MemoryPubSub, KafkaPubSub}, p) {
		return nil
	}
	return fmt.Errorf("unsupported pubsub type %q", p)
}
