package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/creative-memory-graph/internal/graph"
)

// MaxMotifs bounds how many motifs a single detection returns.
const MaxMotifs = 25

// Motif is a set of two or more nodes that recur together above the
// recurrence threshold inside the window. RecurrenceCount is the
// weakest pairwise co-occurrence count among its members, so every
// internal pair individually satisfies the threshold.
type Motif struct {
	ID              string    `json:"id"`
	NodeIDs         []string  `json:"node_ids"`
	Labels          []string  `json:"labels"`
	RecurrenceCount int       `json:"recurrence_count"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	WindowSpan      string    `json:"window_span"`
}

// DetectMotifs finds recurring co-occurrence patterns. Pairwise counts
// come from co-occurs-with edge recurrence (one increment per batch the
// pair appeared in together). Larger motifs grow from size-2 candidates
// by conservative agglomeration: a node joins only if its pairwise count
// with every current member meets minRecurrence. The growth loop is an
// explicit worklist with a visited set, so pathological co-occurrence
// graphs cannot recurse or cycle.
func (s *Service) DetectMotifs(ctx context.Context, userID string, window time.Duration, minRecurrence int) ([]Motif, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if minRecurrence < 2 {
		minRecurrence = 2
	}
	key := fmt.Sprintf("motif:%s:%s:%d", userID, windowKey(window), minRecurrence)

	if cached, ok := fetchCached[[]Motif](ctx, s, key); ok {
		return *cached, nil
	}

	now := s.now()
	since := now.Add(-window)

	nodes, err := s.store.QueryNodes(ctx, userID, since)
	if err != nil {
		if cached, cErr := cachedOrUnavailable[[]Motif](ctx, s, key, err); cErr == nil {
			return *cached, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	edges, err := s.store.QueryEdges(ctx, userID, since)
	if err != nil {
		if cached, cErr := cachedOrUnavailable[[]Motif](ctx, s, key, err); cErr == nil {
			return *cached, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		if cached, cErr := cachedOrUnavailable[[]Motif](ctx, s, key, err); cErr == nil {
			return *cached, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	nodeByID := make(map[string]*graph.MemoryNode, len(nodes))
	for _, n := range nodes {
		nodeByID[n.ID] = n
	}

	// Adjacency restricted to qualifying co-occurrence pairs whose
	// endpoints are both inside the window.
	adj := make(map[string]map[string]*graph.MemoryEdge)
	var qualifying []*graph.MemoryEdge
	for _, e := range edges {
		if e.Relation != graph.RelationCoOccursWith || e.RecurrenceCount < minRecurrence {
			continue
		}
		if nodeByID[e.FromNodeID] == nil || nodeByID[e.ToNodeID] == nil {
			continue
		}
		qualifying = append(qualifying, e)
		addAdj(adj, e.FromNodeID, e.ToNodeID, e)
		addAdj(adj, e.ToNodeID, e.FromNodeID, e)
	}

	// Strongest pairs seed motifs first.
	sort.Slice(qualifying, func(i, j int) bool {
		if qualifying[i].RecurrenceCount != qualifying[j].RecurrenceCount {
			return qualifying[i].RecurrenceCount > qualifying[j].RecurrenceCount
		}
		if !qualifying[i].LastSeenAt.Equal(qualifying[j].LastSeenAt) {
			return qualifying[i].LastSeenAt.After(qualifying[j].LastSeenAt)
		}
		return qualifying[i].ID < qualifying[j].ID
	})

	covered := make(map[string]bool)
	var motifs []Motif
	for _, seed := range qualifying {
		if covered[pairKey(seed.FromNodeID, seed.ToNodeID)] {
			continue
		}

		members := []string{seed.FromNodeID, seed.ToNodeID}
		memberSet := map[string]bool{seed.FromNodeID: true, seed.ToNodeID: true}

		worklist := neighborsOf(adj, members...)
		visited := make(map[string]bool)
		for len(worklist) > 0 {
			candidate := worklist[0]
			worklist = worklist[1:]
			if visited[candidate] || memberSet[candidate] {
				continue
			}
			visited[candidate] = true

			if !connectedToAll(adj, candidate, members, minRecurrence) {
				continue
			}
			members = append(members, candidate)
			memberSet[candidate] = true
			worklist = append(worklist, neighborsOf(adj, candidate)...)
		}

		motifs = append(motifs, s.finalizeMotif(window, members, nodeByID, adj, covered))
	}

	// Rank: higher recurrence first, then more recent activity.
	sort.Slice(motifs, func(i, j int) bool {
		if motifs[i].RecurrenceCount != motifs[j].RecurrenceCount {
			return motifs[i].RecurrenceCount > motifs[j].RecurrenceCount
		}
		return motifs[i].LastSeenAt.After(motifs[j].LastSeenAt)
	})
	if len(motifs) > MaxMotifs {
		motifs = motifs[:MaxMotifs]
	}

	storeCached(ctx, s, userID, key, motifs)
	return motifs, nil
}

// finalizeMotif computes the motif's summary fields and marks its
// internal pairs as covered so weaker sub-pairs do not reseed it.
func (s *Service) finalizeMotif(window time.Duration, members []string, nodeByID map[string]*graph.MemoryNode, adj map[string]map[string]*graph.MemoryEdge, covered map[string]bool) Motif {
	sort.Strings(members)

	motif := Motif{
		NodeIDs:    members,
		WindowSpan: windowKey(window),
	}
	for _, id := range members {
		motif.Labels = append(motif.Labels, nodeByID[id].Label)
	}

	minCount := 0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			edge := adj[members[i]][members[j]]
			if edge == nil {
				continue
			}
			covered[pairKey(members[i], members[j])] = true
			if minCount == 0 || edge.RecurrenceCount < minCount {
				minCount = edge.RecurrenceCount
			}
			if motif.FirstSeenAt.IsZero() || edge.CreatedAt.Before(motif.FirstSeenAt) {
				motif.FirstSeenAt = edge.CreatedAt
			}
			if edge.LastSeenAt.After(motif.LastSeenAt) {
				motif.LastSeenAt = edge.LastSeenAt
			}
		}
	}
	motif.RecurrenceCount = minCount

	sum := sha256.Sum256([]byte(strings.Join(members, "|")))
	motif.ID = hex.EncodeToString(sum[:8])
	return motif
}

func addAdj(adj map[string]map[string]*graph.MemoryEdge, from, to string, e *graph.MemoryEdge) {
	m, ok := adj[from]
	if !ok {
		m = make(map[string]*graph.MemoryEdge)
		adj[from] = m
	}
	m[to] = e
}

// neighborsOf returns the sorted union of the given nodes' neighbors,
// keeping agglomeration deterministic.
func neighborsOf(adj map[string]map[string]*graph.MemoryEdge, ids ...string) []string {
	set := make(map[string]bool)
	for _, id := range ids {
		for neighbor := range adj[id] {
			set[neighbor] = true
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// connectedToAll reports whether candidate has a qualifying pairwise
// count with every member.
func connectedToAll(adj map[string]map[string]*graph.MemoryEdge, candidate string, members []string, minRecurrence int) bool {
	for _, m := range members {
		edge := adj[candidate][m]
		if edge == nil || edge.RecurrenceCount < minRecurrence {
			return false
		}
	}
	return true
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
