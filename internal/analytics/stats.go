package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/creative-memory-graph/internal/graph"
)

// GraphStats is a derived snapshot of a user's graph shape inside the
// window: raw counts, never decayed weights. It backs the stats endpoint
// used by admin and product dashboards.
type GraphStats struct {
	UserID           string                     `json:"user_id"`
	Window           string                     `json:"window"`
	NodeCount        int                        `json:"node_count"`
	EdgeCount        int                        `json:"edge_count"`
	NodesByKind      map[graph.NodeKind]int     `json:"nodes_by_kind"`
	EdgesByRelation  map[graph.EdgeRelation]int `json:"edges_by_relation"`
	TotalRecurrence  int                        `json:"total_recurrence"`
	OldestFirstSeen  *time.Time                 `json:"oldest_first_seen,omitempty"`
	NewestActivityAt *time.Time                 `json:"newest_activity_at,omitempty"`
	ComputedAt       time.Time                  `json:"computed_at"`
}

// ComputeStats counts the user's windowed nodes and edges by kind and
// relation. Same caching and degradation behavior as the other queries.
func (s *Service) ComputeStats(ctx context.Context, userID string, window time.Duration) (*GraphStats, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	key := fmt.Sprintf("st:%s:%s", userID, windowKey(window))

	if cached, ok := fetchCached[GraphStats](ctx, s, key); ok {
		return cached, nil
	}

	now := s.now()
	since := now.Add(-window)

	nodes, err := s.store.QueryNodes(ctx, userID, since)
	if err != nil {
		return cachedOrUnavailable[GraphStats](ctx, s, key, err)
	}
	edges, err := s.store.QueryEdges(ctx, userID, since)
	if err != nil {
		return cachedOrUnavailable[GraphStats](ctx, s, key, err)
	}
	if err := ctx.Err(); err != nil {
		return cachedOrUnavailable[GraphStats](ctx, s, key, err)
	}

	stats := &GraphStats{
		UserID:          userID,
		Window:          windowKey(window),
		NodeCount:       len(nodes),
		EdgeCount:       len(edges),
		NodesByKind:     make(map[graph.NodeKind]int),
		EdgesByRelation: make(map[graph.EdgeRelation]int),
		ComputedAt:      now,
	}
	for _, n := range nodes {
		stats.NodesByKind[n.Kind]++
		stats.TotalRecurrence += n.RecurrenceCount
		if stats.OldestFirstSeen == nil || n.FirstSeenAt.Before(*stats.OldestFirstSeen) {
			first := n.FirstSeenAt
			stats.OldestFirstSeen = &first
		}
		if stats.NewestActivityAt == nil || n.LastSeenAt.After(*stats.NewestActivityAt) {
			last := n.LastSeenAt
			stats.NewestActivityAt = &last
		}
	}
	for _, e := range edges {
		stats.EdgesByRelation[e.Relation]++
	}

	storeCached(ctx, s, userID, key, stats)
	return stats, nil
}
