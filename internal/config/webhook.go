package config

import "github.com/voxbill/voxbill/internal/types"

// Webhook represents the configuration for outbound billing events
type Webhook struct {
	Enabled bool             `mapstructure:"enabled"`
	Topic   string           `mapstructure:"topic"`
	PubSub  types.PubSubType `mapstructure:"pubsub"`
	// Tenants maps a tenant id to the endpoint its events are delivered to
	Tenants map[string]TenantWebhookConfig `mapstructure:"tenants"`
}

// TenantWebhookConfig represents webhook configuration for a specific tenant
type TenantWebhookConfig struct {
	Endpoint       string            `mapstructure:"endpoint"`
	Headers        map[string]string `mapstructure:"headers"`
	Enabled        bool              `mapstructure:"enabled"`
	ExcludedEvents []string          `mapstructure:"excluded_events"`
}
