package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/creative-memory-graph/internal/graph"
)

// DefaultBucketSize is the bucket granularity when none is requested.
const DefaultBucketSize = 24 * time.Hour

// Bucket is one fixed-size slice of the timeline with per-kind node
// counts. Every windowed node lands in exactly one bucket.
type Bucket struct {
	Start        time.Time              `json:"start"`
	End          time.Time              `json:"end"`
	CountsByKind map[graph.NodeKind]int `json:"counts_by_kind"`
	Total        int                    `json:"total"`
}

// BucketByActivity groups the user's nodes into fixed-size buckets by
// when they were last observed. This is the "what was I working with"
// view of the timeline.
func (s *Service) BucketByActivity(ctx context.Context, userID string, window, bucketSize time.Duration) ([]Bucket, error) {
	return s.bucketTimeline(ctx, userID, window, bucketSize, "activity",
		func(n *graph.MemoryNode) time.Time { return n.LastSeenAt })
}

// BucketByFirstSeen groups the user's nodes into fixed-size buckets by
// when they first appeared. This is the "when did new ideas arrive"
// view, distinct from BucketByActivity by design.
func (s *Service) BucketByFirstSeen(ctx context.Context, userID string, window, bucketSize time.Duration) ([]Bucket, error) {
	return s.bucketTimeline(ctx, userID, window, bucketSize, "first-seen",
		func(n *graph.MemoryNode) time.Time { return n.FirstSeenAt })
}

func (s *Service) bucketTimeline(ctx context.Context, userID string, window, bucketSize time.Duration, view string, at func(*graph.MemoryNode) time.Time) ([]Bucket, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	if bucketSize > window {
		bucketSize = window
	}
	key := fmt.Sprintf("tl:%s:%s:%s:%s", userID, view, windowKey(window), bucketSize)

	if cached, ok := fetchCached[[]Bucket](ctx, s, key); ok {
		return *cached, nil
	}

	now := s.now()
	start := now.Add(-window)

	// Query by last activity regardless of view: a node first seen in
	// the window is necessarily active in it too.
	nodes, err := s.store.QueryNodes(ctx, userID, start)
	if err != nil {
		if cached, cErr := cachedOrUnavailable[[]Bucket](ctx, s, key, err); cErr == nil {
			return *cached, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		if cached, cErr := cachedOrUnavailable[[]Bucket](ctx, s, key, err); cErr == nil {
			return *cached, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	count := int(window / bucketSize)
	if window%bucketSize != 0 {
		count++
	}
	buckets := make([]Bucket, count)
	for i := range buckets {
		buckets[i] = Bucket{
			Start:        start.Add(time.Duration(i) * bucketSize),
			End:          start.Add(time.Duration(i+1) * bucketSize),
			CountsByKind: make(map[graph.NodeKind]int),
		}
	}
	buckets[count-1].End = now

	for _, n := range nodes {
		t := at(n)
		if t.Before(start) || t.After(now) {
			continue
		}
		idx := int(t.Sub(start) / bucketSize)
		// The window's closing instant belongs to the final bucket.
		if idx >= count {
			idx = count - 1
		}
		buckets[idx].CountsByKind[n.Kind]++
		buckets[idx].Total++
	}

	storeCached(ctx, s, userID, key, buckets)
	return buckets, nil
}
