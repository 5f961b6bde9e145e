package publisher

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	jsoniter "github.com/json-iterator/go"
	"github.com/voxbill/voxbill/internal/config"
	ierr "github.com/voxbill/voxbill/internal/errors"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/pubsub"
	"github.com/voxbill/voxbill/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebhookPublisher puts billing events on the webhook topic. Delivery to
// tenant endpoints happens asynchronously in the webhook handler.
type WebhookPublisher interface {
	PublishWebhook(ctx context.Context, event *types.WebhookEvent) error
	Close() error
}

type webhookPublisher struct {
	pubSub pubsub.PubSub
	topic  string
	on     bool
	logger *logger.Logger
}

func NewPublisher(
	pubSub pubsub.PubSub,
	cfg *config.Configuration,
	logger *logger.Logger,
) (WebhookPublisher, error) {
	if cfg.Webhook.Enabled && cfg.Webhook.Topic == "" {
		return nil, ierr.NewError("webhook topic is empty").
			WithHint("Set webhook.topic or disable webhooks").
			Mark(ierr.ErrValidation)
	}

	return &webhookPublisher{
		pubSub: pubSub,
		topic:  cfg.Webhook.Topic,
		on:     cfg.Webhook.Enabled,
		logger: logger,
	}, nil
}

func (p *webhookPublisher) PublishWebhook(ctx context.Context, event *types.WebhookEvent) error {
	if !p.on {
		return nil
	}
	// an empty tenant marks a platform wide event such as an all-tenant cycle summary
	if event.EventName == "" {
		return ierr.NewError("webhook event has no name").
			WithHint("Billing events must be named").
			WithReportableDetails(map[string]interface{}{
				"event_id":  event.ID,
				"tenant_id": event.TenantID,
			}).
			Mark(ierr.ErrValidation)
	}
	if event.ID == "" {
		event.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_EVENT)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode webhook event").
			Mark(ierr.ErrSystem)
	}

	// the event id doubles as the message id so redeliveries are recognisable downstream
	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set(pubsub.MetadataTenantID, event.TenantID)
	msg.Metadata.Set(pubsub.MetadataEventName, event.EventName)

	if err := p.pubSub.Publish(ctx, p.topic, msg); err != nil {
		p.logger.Errorw("failed to publish billing event",
			"error", err,
			"event_id", event.ID,
			"event_name", event.EventName,
			"tenant_id", event.TenantID,
		)
		return ierr.WithError(err).
			WithHintf("Failed to publish %s event", event.EventName).
			Mark(ierr.ErrSystem)
	}

	p.logger.Debugw("published billing event",
		"event_id", event.ID,
		"event_name", event.EventName,
		"tenant_id", event.TenantID,
		"topic", p.topic,
	)
	return nil
}

func (p *webhookPublisher) Close() error {
	return p.pubSub.Close()
}
