package handler

import (
	"context"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"github.com/voxbill/voxbill/internal/config"
	"github.com/voxbill/voxbill/internal/httpclient"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/pubsub"
	pubsubRouter "github.com/voxbill/voxbill/internal/pubsub/router"
	"github.com/voxbill/voxbill/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler delivers published billing events to tenant endpoints
type Handler interface {
	RegisterHandler(router *pubsubRouter.Router)
}

type handler struct {
	subscriber pubsub.Subscriber
	config     *config.Webhook
	client     httpclient.Client
	logger     *logger.Logger
}

// NewHandler creates a new delivery handler reading from the webhook topic
func NewHandler(
	subscriber pubsub.Subscriber,
	cfg *config.Configuration,
	client httpclient.Client,
	logger *logger.Logger,
) Handler {
	return &handler{
		subscriber: subscriber,
		config:     &cfg.Webhook,
		client:     client,
		logger:     logger,
	}
}

func (h *handler) RegisterHandler(router *pubsubRouter.Router) {
	router.AddNoPublishHandler(
		"webhook_handler",
		h.config.Topic,
		h.subscriber,
		h.processMessage,
	)
}

// processMessage processes a single webhook message
func (h *handler) processMessage(msg *message.Message) error {
	var event types.WebhookEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		h.logger.Errorw("failed to unmarshal webhook event",
			"error", err,
			"message_uuid", msg.UUID,
		)
		return nil // Don't retry on unmarshal errors
	}

	ctx := types.SetTenantID(msg.Context(), event.TenantID)
	ctx = types.SetUserID(ctx, event.UserID)

	return h.deliver(ctx, &event, msg.UUID, msg.Payload)
}

func (h *handler) deliver(ctx context.Context, event *types.WebhookEvent, messageUUID string, body []byte) error {
	tenantCfg, ok := h.config.Tenants[event.TenantID]
	if !ok {
		h.logger.Debugw("no webhook endpoint configured for tenant",
			"tenant_id", event.TenantID,
			"message_uuid", messageUUID,
		)
		return nil
	}

	if !tenantCfg.Enabled || tenantCfg.Endpoint == "" {
		h.logger.Debugw("webhooks disabled for tenant",
			"tenant_id", event.TenantID,
			"message_uuid", messageUUID,
		)
		return nil
	}

	if lo.Contains(tenantCfg.ExcludedEvents, event.EventName) {
		h.logger.Debugw("event excluded for tenant",
			"tenant_id", event.TenantID,
			"event", event.EventName,
		)
		return nil
	}

	headers := lo.Assign(map[string]string{
		"Content-Type":    "application/json",
		"X-Voxbill-Event": event.EventName,
	}, tenantCfg.Headers)

	resp, err := h.client.Send(ctx, &httpclient.Request{
		Method:  http.MethodPost,
		URL:     tenantCfg.Endpoint,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		h.logger.Errorw("failed to send webhook",
			"error", err,
			"message_uuid", messageUUID,
			"tenant_id", event.TenantID,
			"event", event.EventName,
		)
		return err
	}

	h.logger.Infow("webhook sent successfully",
		"message_uuid", messageUUID,
		"tenant_id", event.TenantID,
		"event", event.EventName,
		"status_code", resp.StatusCode,
	)

	return nil
}
