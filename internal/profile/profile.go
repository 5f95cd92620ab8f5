package profile

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	derrors "github.com/hrygo/dualstore/internal/errors"
)

// BackendMode selects which persistence backend serves the process.
type BackendMode string

const (
	// ModeHybridCached fronts the durable store with a short-lived read cache.
	ModeHybridCached BackendMode = "HYBRID_CACHED"
	// ModeDirectOnly sends every operation to the durable store.
	ModeDirectOnly BackendMode = "DIRECT_ONLY"
)

// Cache drivers.
const (
	CacheDriverRedis  = "redis"
	CacheDriverMemory = "memory"
	CacheDriverPebble = "pebble"
)

const (
	// DefaultCacheTTL is the validity window of a cache entry.
	DefaultCacheTTL = 10 * time.Minute
	// DefaultStaleRetention is how long an expired entry stays around for degraded reads.
	DefaultStaleRetention = 24 * time.Hour
	// DefaultCacheMaxItems bounds the in-process cache.
	DefaultCacheMaxItems = 10000
	// DefaultRequestTimeout bounds a single HTTP request, backend calls included.
	DefaultRequestTimeout = 5 * time.Second
)

// Profile is the configuration to start the service. It is read once at startup and never
// mutated afterwards.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Version is the current version of server
	Version string

	// Driver is the durable store driver (postgres or sqlite)
	Driver string
	// DSN points to the durable store (Supabase Postgres in production)
	DSN string

	// UseDirectOnly disables the cache layer (USE_SUPABASE_ONLY).
	UseDirectOnly bool

	CacheDriver         string        // CACHE_DRIVER (default: redis)
	CacheAddr           string        // REDIS_ADDR or REDIS_URL
	CachePassword       string        // REDIS_PASSWORD
	CacheDB             int           // REDIS_DB
	CacheKeyPrefix      string        // CACHE_KEY_PREFIX (default: dualstore:)
	CacheTTL            time.Duration // CACHE_TTL (default: 10m)
	CacheStaleRetention time.Duration // CACHE_STALE_RETENTION (default: 24h)
	CachePath           string        // CACHE_PATH, pebble directory
	CacheMaxItems       int           // CACHE_MAX_ITEMS, memory driver capacity

	RequestTimeout time.Duration // DUALSTORE_REQUEST_TIMEOUT (default: 5s)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// BackendMode returns the backend mode this profile selects.
func (p *Profile) BackendMode() BackendMode {
	if p.UseDirectOnly {
		return ModeDirectOnly
	}
	return ModeHybridCached
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getFirstEnv returns the first non-empty value among keys.
func getFirstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

// FromEnv loads configuration from environment variables for every field that is still
// unset. Supports both DUALSTORE_* names and the unprefixed names used by existing
// deployments (USE_SUPABASE_ONLY, SUPABASE_DB_URL, REDIS_ADDR...).
func (p *Profile) FromEnv() {
	setString := func(field *string, keys ...string) {
		if *field == "" {
			*field = getFirstEnv(keys...)
		}
	}
	setInt := func(field *int, keys ...string) {
		if *field != 0 {
			return
		}
		if raw := getFirstEnv(keys...); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil {
				*field = v
			} else {
				slog.Warn("ignoring invalid integer env", slog.String("keys", strings.Join(keys, ",")), slog.String("value", raw))
			}
		}
	}
	setDuration := func(field *time.Duration, keys ...string) {
		if *field != 0 {
			return
		}
		if raw := getFirstEnv(keys...); raw != "" {
			if v, err := time.ParseDuration(raw); err == nil {
				*field = v
			} else {
				slog.Warn("ignoring invalid duration env", slog.String("keys", strings.Join(keys, ",")), slog.String("value", raw))
			}
		}
	}

	setString(&p.Mode, "DUALSTORE_MODE")
	setString(&p.Addr, "DUALSTORE_ADDR")
	setInt(&p.Port, "DUALSTORE_PORT", "PORT")
	setString(&p.Driver, "DUALSTORE_DRIVER")
	setString(&p.DSN, "DUALSTORE_DSN", "SUPABASE_DB_URL", "DATABASE_URL")

	if !p.UseDirectOnly {
		p.UseDirectOnly = parseBool(getFirstEnv("DUALSTORE_DIRECT_ONLY", "USE_SUPABASE_ONLY", "USE_DIRECT_ONLY"))
	}

	setString(&p.CacheDriver, "DUALSTORE_CACHE_DRIVER", "CACHE_DRIVER")
	setString(&p.CacheAddr, "DUALSTORE_CACHE_ADDR", "REDIS_ADDR", "REDIS_URL")
	setString(&p.CachePassword, "DUALSTORE_CACHE_PASSWORD", "REDIS_PASSWORD")
	setInt(&p.CacheDB, "DUALSTORE_CACHE_DB", "REDIS_DB")
	setString(&p.CacheKeyPrefix, "DUALSTORE_CACHE_KEY_PREFIX", "CACHE_KEY_PREFIX")
	setDuration(&p.CacheTTL, "DUALSTORE_CACHE_TTL", "CACHE_TTL")
	setDuration(&p.CacheStaleRetention, "DUALSTORE_CACHE_STALE_RETENTION", "CACHE_STALE_RETENTION")
	setString(&p.CachePath, "DUALSTORE_CACHE_PATH", "CACHE_PATH")
	setInt(&p.CacheMaxItems, "DUALSTORE_CACHE_MAX_ITEMS", "CACHE_MAX_ITEMS")
	setDuration(&p.RequestTimeout, "DUALSTORE_REQUEST_TIMEOUT")
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}

// Validate fills defaults and checks that the parameters the selected mode needs are
// present. Any failure is a CONFIGURATION error and must abort startup.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.Addr == "" {
		p.Addr = "0.0.0.0"
	}
	if p.Port == 0 {
		p.Port = 8080
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = DefaultRequestTimeout
	}

	if p.Driver == "" {
		p.Driver = "postgres"
	}
	switch p.Driver {
	case "postgres", "sqlite":
	default:
		return derrors.Configuration(fmt.Sprintf("unknown store driver %q: only 'postgres' and 'sqlite' are supported", p.Driver))
	}
	if strings.TrimSpace(p.DSN) == "" {
		return derrors.Configuration("persistent store DSN is required (DUALSTORE_DSN or SUPABASE_DB_URL)")
	}
	if p.Driver == "postgres" && postgresHost(p.DSN) == "" {
		return derrors.Configuration("persistent store DSN has no host")
	}

	if p.UseDirectOnly {
		return nil
	}

	if p.CacheDriver == "" {
		p.CacheDriver = CacheDriverRedis
	}
	if p.CacheKeyPrefix == "" {
		p.CacheKeyPrefix = "dualstore:"
	}
	if p.CacheTTL <= 0 {
		p.CacheTTL = DefaultCacheTTL
	}
	if p.CacheStaleRetention < 0 {
		return derrors.Configuration("cache stale retention must not be negative")
	}
	if p.CacheStaleRetention == 0 {
		p.CacheStaleRetention = DefaultStaleRetention
	}
	if p.CacheMaxItems <= 0 {
		p.CacheMaxItems = DefaultCacheMaxItems
	}

	switch p.CacheDriver {
	case CacheDriverRedis:
		if strings.TrimSpace(p.CacheAddr) == "" {
			return derrors.Configuration("cache store address is required in hybrid mode (REDIS_ADDR)")
		}
	case CacheDriverPebble:
		if strings.TrimSpace(p.CachePath) == "" {
			return derrors.Configuration("cache path is required for the pebble cache driver (CACHE_PATH)")
		}
	case CacheDriverMemory:
	default:
		return derrors.Configuration(fmt.Sprintf("unknown cache driver %q", p.CacheDriver))
	}

	return nil
}

// postgresHost extracts the host from either URL ("postgres://u:p@host:5432/db") or
// keyword/value ("host=... dbname=...") connection strings.
func postgresHost(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		if host := u.Hostname(); host != "" {
			return host
		}
		// Unix socket form: postgres:///db?host=/var/run/postgresql
		return u.Query().Get("host")
	}
	for _, field := range strings.Fields(dsn) {
		if value, ok := strings.CutPrefix(field, "host="); ok {
			return strings.Trim(value, "'")
		}
	}
	return ""
}
