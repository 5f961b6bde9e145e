package service

import (
	"github.com/ThreeDotsLabs/watermill/message"
	jsoniter "github.com/json-iterator/go"
	"github.com/voxbill/voxbill/internal/api/dto"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/pubsub"
	pubsubRouter "github.com/voxbill/voxbill/internal/pubsub/router"
	"github.com/voxbill/voxbill/internal/types"
)

// UsagePubSub carries call completion events from the telephony platform.
// It is a distinct type so it does not collide with the webhook pubsub.
type UsagePubSub pubsub.PubSub

// UsageConsumer turns call completion events into call minute usage
type UsageConsumer interface {
	RegisterHandler(router *pubsubRouter.Router)
}

type usageConsumer struct {
	ServiceParams
	subscriber UsagePubSub
	usage      UsageService
}

func NewUsageConsumer(params ServiceParams, subscriber UsagePubSub) UsageConsumer {
	return &usageConsumer{
		ServiceParams: params,
		subscriber:    subscriber,
		usage:         NewUsageService(params),
	}
}

func (c *usageConsumer) RegisterHandler(router *pubsubRouter.Router) {
	router.AddNoPublishHandler(
		"call_usage_consumer",
		c.Config.Kafka.UsageTopic,
		c.subscriber,
		c.processMessage,
	)
	c.Logger.Infow("registered call usage consumer", "topic", c.Config.Kafka.UsageTopic)
}

// processMessage records one call.completed event. Malformed events and
// events the ledger rejects are dropped, anything else is retried.
func (c *usageConsumer) processMessage(msg *message.Message) error {
	var event dto.CallCompletedEvent
	if err := jsoniter.Unmarshal(msg.Payload, &event); err != nil {
		c.Logger.Errorw("failed to unmarshal call completed event",
			"error", err,
			"message_uuid", msg.UUID,
		)
		return nil
	}
	if err := event.Validate(); err != nil {
		c.Logger.Warnw("dropping invalid call completed event",
			"error", err,
			"message_uuid", msg.UUID,
		)
		return nil
	}

	ctx := types.WithTenant(msg.Context(), event.TenantID)
	span, ctx := c.Sentry.StartKafkaConsumerSpan(ctx, c.Config.Kafka.UsageTopic)
	if span != nil {
		defer span.Finish()
	}

	record, err := c.usage.RecordCallUsage(ctx, event.TenantID, event.CallID, event.DurationSeconds)
	if err != nil {
		if ierr.IsValidation(err) {
			c.Logger.Warnw("call usage rejected",
				"error", err,
				"tenant_id", event.TenantID,
				"call_id", event.CallID,
			)
			return nil
		}
		return err
	}

	c.Logger.Debugw("recorded call usage",
		"tenant_id", event.TenantID,
		"call_id", event.CallID,
		"usage_id", record.ID,
		"minutes", record.Quantity,
	)
	return nil
}
