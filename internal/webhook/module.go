package webhook

import (
	"github.com/voxbill/voxbill/internal/config"
	"github.com/voxbill/voxbill/internal/httpclient"
	"github.com/voxbill/voxbill/internal/logger"
	"github.com/voxbill/voxbill/internal/pubsub"
	"github.com/voxbill/voxbill/internal/pubsub/kafka"
	"github.com/voxbill/voxbill/internal/pubsub/memory"
	"github.com/voxbill/voxbill/internal/types"
	"github.com/voxbill/voxbill/internal/webhook/handler"
	"github.com/voxbill/voxbill/internal/webhook/publisher"
	"go.uber.org/fx"
)

// PubSub carries billing events from the publisher to the delivery handler.
// It is a distinct type so it does not collide with the usage consumer's pubsub.
type PubSub pubsub.PubSub

// Module provides all webhook-related dependencies
var Module = fx.Options(
	fx.Provide(
		providePubSub,
		providePublisher,
		provideHandler,
	),
)

func providePubSub(cfg *config.Configuration, logger *logger.Logger) (PubSub, error) {
	switch cfg.Webhook.PubSub {
	case types.KafkaPubSub:
		return kafka.NewPubSub(cfg, logger)
	default:
		return memory.NewPubSub(logger), nil
	}
}

func providePublisher(ps PubSub, cfg *config.Configuration, logger *logger.Logger) (publisher.WebhookPublisher, error) {
	return publisher.NewPublisher(ps, cfg, logger)
}

func provideHandler(ps PubSub, cfg *config.Configuration, logger *logger.Logger) handler.Handler {
	client := httpclient.NewDefaultClient(httpclient.DefaultClientConfig(), logger)
	return handler.NewHandler(ps, cfg, client, logger)
}
