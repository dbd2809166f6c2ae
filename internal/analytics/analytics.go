// Package analytics implements the read-side projections over the
// Creative Memory Graph: identity fingerprints, recurring motifs,
// cross-surface drift, and time-bucketed timelines. All queries operate
// on a snapshot of the graph as of invocation and may run concurrently
// with merges; they honor caller deadlines and degrade to the most
// recent cached result rather than hang.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/creative-memory-graph/internal/cache"
	"github.com/creative-memory-graph/internal/graph"
	"github.com/creative-memory-graph/internal/jsonx"
)

// ErrUnavailable is returned when a query's deadline expired (or the
// store was unreachable) and no cached projection exists. Callers render
// a neutral empty state; nothing in this package panics or hangs.
var ErrUnavailable = errors.New("analytics: unavailable")

const (
	// DefaultWindow is the rolling lookback for all projections.
	DefaultWindow = 90 * 24 * time.Hour

	// DefaultTopN is how many nodes per kind a fingerprint keeps.
	DefaultTopN = 5

	// DefaultCacheTTL is the staleness budget for cached projections.
	// Invalidation is purely TTL-based: merges do not invalidate, a
	// projection may lag the graph by at most this long.
	DefaultCacheTTL = 10 * time.Minute
)

// Service computes analytics projections over a graph.Store.
type Service struct {
	store    graph.Store
	cache    *cache.Tiered
	logger   *zap.Logger
	topN     int
	halfLife time.Duration
	cacheTTL time.Duration
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTopN overrides how many nodes per kind fingerprints keep.
func WithTopN(n int) Option {
	return func(s *Service) { s.topN = n }
}

// WithHalfLife overrides the decay half-life used for effective weights.
// It should match the merge engine's half-life.
func WithHalfLife(d time.Duration) Option {
	return func(s *Service) { s.halfLife = d }
}

// WithCacheTTL overrides the projection staleness budget.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) { s.cacheTTL = d }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an analytics service. cache may be nil, in which
// case every query recomputes and deadline expiry yields ErrUnavailable.
func NewService(store graph.Store, c *cache.Tiered, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		cache:    c,
		logger:   logger.Named("analytics"),
		topN:     DefaultTopN,
		halfLife: graph.DefaultHalfLife,
		cacheTTL: DefaultCacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// effectiveWeight applies lazy decay to a stored weight as of now.
func (s *Service) effectiveWeight(weight float64, lastSeen, now time.Time) float64 {
	elapsed := now.Sub(lastSeen)
	if elapsed <= 0 {
		return weight
	}
	return weight * math.Exp2(-elapsed.Hours()/s.halfLife.Hours())
}

// cachedOrUnavailable is the degraded path shared by all queries: the
// most recent cached projection if one exists, ErrUnavailable otherwise.
func cachedOrUnavailable[T any](ctx context.Context, s *Service, key string, cause error) (*T, error) {
	if s.cache != nil {
		// Read the cache with a detached context: the caller's deadline
		// is already gone and the L1 lookup is purely in-process.
		if data, ok := s.cache.Get(context.WithoutCancel(ctx), key); ok {
			var out T
			if err := jsonx.Unmarshal(data, &out); err == nil {
				return &out, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, cause)
}

// fetchCached returns the cached projection for key if present.
func fetchCached[T any](ctx context.Context, s *Service, key string) (*T, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var out T
	if err := jsonx.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return &out, true
}

// storeCached writes a projection for owner under key.
func storeCached(ctx context.Context, s *Service, owner, key string, v interface{}) {
	if s.cache == nil {
		return
	}
	data, err := jsonx.Marshal(v)
	if err != nil {
		s.logger.Warn("Failed to serialize projection for cache", zap.String("key", key), zap.Error(err))
		return
	}
	s.cache.Set(ctx, owner, key, data, s.cacheTTL)
}

// PurgeUser drops every cached projection for userID. Part of the
// user-data-erasure cascade.
func (s *Service) PurgeUser(ctx context.Context, userID string) {
	if s.cache != nil {
		s.cache.PurgeOwner(ctx, userID)
	}
}

// windowKey renders a window duration compactly for cache keys.
func windowKey(window time.Duration) string {
	if window%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", int(window.Hours())/24)
	}
	return window.String()
}

// ParseWindow parses a lookback window such as "90d", "12w", or "36h".
// An empty string yields the default window.
func ParseWindow(raw string) (time.Duration, error) {
	if raw == "" {
		return DefaultWindow, nil
	}
	var value int
	var unit rune
	if _, err := fmt.Sscanf(raw, "%d%c", &value, &unit); err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid window %q", raw)
	}
	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid window unit %q", raw)
	}
}
