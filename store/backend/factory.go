package backend

import (
	"context"
	"log/slog"
	"time"

	derrors "github.com/hrygo/dualstore/internal/errors"
	"github.com/hrygo/dualstore/internal/profile"
	"github.com/hrygo/dualstore/store"
	"github.com/hrygo/dualstore/store/cache"
	"github.com/hrygo/dualstore/store/db"
)

type options struct {
	driver  store.Driver
	cache   cache.Store
	now     func() time.Time
	metrics *Metrics
}

// Option customizes New.
type Option func(*options)

// WithDriver uses driver instead of opening one from the profile. The backend takes
// ownership and closes it.
func WithDriver(driver store.Driver) Option {
	return func(o *options) { o.driver = driver }
}

// WithCache uses c as the hybrid backend's cache instead of opening one from the profile.
// It is ignored in direct-only mode.
func WithCache(c cache.Store) Option {
	return func(o *options) { o.cache = c }
}

// WithClock replaces time.Now for cache freshness decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics records metrics on m instead of a private instance.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New validates the profile and builds the backend it selects. A missing or malformed
// parameter fails with a CONFIGURATION error before any connection is attempted; the mode
// is fixed for the lifetime of the returned backend.
func New(ctx context.Context, p *profile.Profile, opts ...Option) (Backend, error) {
	if p == nil {
		return nil, derrors.Configuration("profile is required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.metrics == nil {
		o.metrics = NewMetrics("")
	}

	driver := o.driver
	if driver == nil {
		var err error
		driver, err = db.NewDBDriver(p)
		if err != nil {
			return nil, derrors.BackendUnavailable(derrors.ReasonUnreachable, "failed to open durable store", err)
		}
	}
	s := store.New(driver, p)

	if err := s.Ping(ctx); err != nil {
		// Not fatal: calls fail with BACKEND_UNAVAILABLE (or fall back) until it comes up.
		slog.Warn("durable store not reachable at startup", slog.String("driver", p.Driver), slog.String("error", err.Error()))
	}

	mode := p.BackendMode()
	if mode == profile.ModeDirectOnly {
		slog.Info("persistence backend selected", slog.String("mode", string(mode)), slog.String("driver", p.Driver))
		return NewDirectBackend(s, o.metrics), nil
	}

	c := o.cache
	if c == nil {
		var err error
		c, err = cache.NewFromProfile(p, o.now)
		if err != nil {
			_ = s.Close()
			return nil, derrors.BackendUnavailable(derrors.ReasonUnreachable, "failed to open cache", err)
		}
	}

	slog.Info("persistence backend selected",
		slog.String("mode", string(mode)),
		slog.String("driver", p.Driver),
		slog.String("cache", p.CacheDriver),
		slog.Duration("ttl", p.CacheTTL),
	)
	return NewHybridBackend(s, c, HybridConfig{
		TTL:         p.CacheTTL,
		Now:         o.now,
		FillTimeout: p.RequestTimeout,
		Metrics:     o.metrics,
	}), nil
}
