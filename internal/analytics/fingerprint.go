package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/creative-memory-graph/internal/graph"
)

// RankedNode is one entry in a fingerprint's per-kind ranking. Weight is
// the effective (decay-applied) weight as of computation time.
type RankedNode struct {
	NodeID          string    `json:"node_id"`
	Label           string    `json:"label"`
	Weight          float64   `json:"weight"`
	RecurrenceCount int       `json:"recurrence_count"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

// Fingerprint is the windowed, ranked summary of a user's dominant
// nodes per kind. It is a cached projection, never a source of truth.
type Fingerprint struct {
	UserID         string                          `json:"user_id"`
	Window         string                          `json:"window"`
	TopNodesByKind map[graph.NodeKind][]RankedNode `json:"top_nodes_by_kind"`
	TotalWeight    float64                         `json:"total_weight"`
	NodeCount      int                             `json:"node_count"`
	EdgeCount      int                             `json:"edge_count"`
	ComputedAt     time.Time                       `json:"computed_at"`
}

// ComputeFingerprint ranks the user's windowed nodes by kind. An empty
// graph yields an empty fingerprint, not an error. Results are cached
// per (userID, window) for the staleness budget; on deadline expiry the
// most recent cached fingerprint is returned if one exists.
func (s *Service) ComputeFingerprint(ctx context.Context, userID string, window time.Duration) (*Fingerprint, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	key := fmt.Sprintf("fp:%s:%s", userID, windowKey(window))

	if fp, ok := fetchCached[Fingerprint](ctx, s, key); ok {
		return fp, nil
	}

	now := s.now()
	since := now.Add(-window)

	nodes, err := s.store.QueryNodes(ctx, userID, since)
	if err != nil {
		s.logger.Warn("Fingerprint store read failed",
			zap.String("user_id", userID), zap.Error(err))
		return cachedOrUnavailable[Fingerprint](ctx, s, key, err)
	}
	edges, err := s.store.QueryEdges(ctx, userID, since)
	if err != nil {
		return cachedOrUnavailable[Fingerprint](ctx, s, key, err)
	}
	if err := ctx.Err(); err != nil {
		return cachedOrUnavailable[Fingerprint](ctx, s, key, err)
	}

	fp := s.buildFingerprint(userID, window, now, nodes)
	fp.EdgeCount = len(edges)

	storeCached(ctx, s, userID, key, fp)
	return fp, nil
}

// buildFingerprint ranks nodes into a fingerprint. Shared with the
// drift analyzer, which ranks surface-restricted node sets.
func (s *Service) buildFingerprint(userID string, window time.Duration, now time.Time, nodes []*graph.MemoryNode) *Fingerprint {
	fp := &Fingerprint{
		UserID:         userID,
		Window:         windowKey(window),
		TopNodesByKind: make(map[graph.NodeKind][]RankedNode),
		NodeCount:      len(nodes),
		ComputedAt:     now,
	}

	byKind := make(map[graph.NodeKind][]RankedNode)
	for _, n := range nodes {
		ranked := RankedNode{
			NodeID:          n.ID,
			Label:           n.Label,
			Weight:          s.effectiveWeight(n.Weight, n.LastSeenAt, now),
			RecurrenceCount: n.RecurrenceCount,
			FirstSeenAt:     n.FirstSeenAt,
			LastSeenAt:      n.LastSeenAt,
		}
		byKind[n.Kind] = append(byKind[n.Kind], ranked)
		fp.TotalWeight += ranked.Weight
	}

	for kind, ranked := range byKind {
		// Weight descending, then recurrence descending, then oldest
		// first: established patterns win ties over novelty.
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].Weight != ranked[j].Weight {
				return ranked[i].Weight > ranked[j].Weight
			}
			if ranked[i].RecurrenceCount != ranked[j].RecurrenceCount {
				return ranked[i].RecurrenceCount > ranked[j].RecurrenceCount
			}
			return ranked[i].FirstSeenAt.Before(ranked[j].FirstSeenAt)
		})
		if len(ranked) > s.topN {
			ranked = ranked[:s.topN]
		}
		fp.TopNodesByKind[kind] = ranked
	}

	return fp
}
