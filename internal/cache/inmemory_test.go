package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/voxbill/voxbill/internal/config"
	"github.com/voxbill/voxbill/internal/logger"
)

func newTestCache(enabled bool) Cache {
	cfg := config.GetDefaultConfig()
	cfg.Cache.Enabled = enabled
	return NewInMemoryCache(cfg, logger.NewNopLogger())
}

func TestInMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(true)

	key := GenerateKey(PrefixPlan, "plan_basic")
	assert.Equal(t, "plan:v1::plan_basic", key)

	_, found := c.Get(ctx, key)
	assert.False(t, found)

	c.Set(ctx, key, "basic", 0)
	value, found := c.Get(ctx, key)
	assert.True(t, found)
	assert.Equal(t, "basic", value)

	c.Set(ctx, GenerateKey(PrefixPlan, "plan_pro"), "pro", time.Minute)
	c.Set(ctx, "other:tenant_1", "methods", time.Minute)
	c.DeleteByPrefix(ctx, PrefixPlan)

	_, found = c.Get(ctx, key)
	assert.False(t, found)
	_, found = c.Get(ctx, "other:tenant_1")
	assert.True(t, found)

	c.Flush(ctx)
	_, found = c.Get(ctx, "other:tenant_1")
	assert.False(t, found)
}

func TestDisabledCacheAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(false)

	c.Set(ctx, "k", "v", time.Minute)
	_, found := c.Get(ctx, "k")
	assert.False(t, found)
}
