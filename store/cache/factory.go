package cache

import (
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/dualstore/internal/profile"
)

const cleanupInterval = time.Minute

// NewFromProfile creates the cache store selected by profile.CacheDriver. now overrides
// the clock when non-nil.
func NewFromProfile(p *profile.Profile, now func() time.Time) (Store, error) {
	config := Config{
		KeyPrefix:      p.CacheKeyPrefix,
		DefaultTTL:     p.CacheTTL,
		StaleRetention: p.CacheStaleRetention,
		Now:            now,
	}

	switch p.CacheDriver {
	case profile.CacheDriverRedis:
		redisConfig := DefaultRedisConfig()
		redisConfig.Addr = p.CacheAddr
		redisConfig.Password = p.CachePassword
		redisConfig.DB = p.CacheDB
		redisConfig.Config = config
		c, err := NewRedisCache(redisConfig)
		if err != nil {
			return nil, err
		}
		return c, nil
	case profile.CacheDriverMemory:
		return NewMemoryCache(p.CacheMaxItems, config, cleanupInterval), nil
	case profile.CacheDriverPebble:
		c, err := NewPebbleCache(p.CachePath, config, cleanupInterval)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, errors.Errorf("unknown cache driver %q", p.CacheDriver)
	}
}
