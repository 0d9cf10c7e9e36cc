package entitlement

import (
	"time"

	"github.com/HollandStone/PlugPort/internal/pkg/cache"
)

// Store is the small cache surface the checker needs. A nil Store disables
// caching entirely (used by tests).
type Store interface {
	Get(key string) (string, error)
	Set(key string, value any, ttl time.Duration) error
}

// redisStore delegates to the shared cache package.
type redisStore struct{}

// NewRedisStore returns the production cache store.
func NewRedisStore() Store {
	return redisStore{}
}

func (redisStore) Get(key string) (string, error) {
	return cache.Get(key)
}

func (redisStore) Set(key string, value any, ttl time.Duration) error {
	return cache.Set(key, value, ttl)
}

// InvalidateAccess drops every cached access answer for a plugin/tenant pair.
// Call it after any write to subscriptions or enablements for that pair.
func InvalidateAccess(pluginID, tenantID string) error {
	return cache.DeleteByPrefix(accessKeyPrefix(pluginID, tenantID))
}
