package graph

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultHalfLife is the decay half-life applied to node and edge
	// weights: a weight halves every 30 days without reinforcement.
	DefaultHalfLife = 30 * 24 * time.Hour

	// DefaultReinforcementIncrement is added to a decayed weight on each
	// re-observation, and is the starting weight of a new node or edge.
	DefaultReinforcementIncrement = 0.3
)

// MergeResult reports what a merge call did, per candidate.
type MergeResult struct {
	NewNodes        []*MemoryNode `json:"new_nodes"`
	ReinforcedNodes []*MemoryNode `json:"reinforced_nodes"`
	NewEdges        []*MemoryEdge `json:"new_edges"`
	ReinforcedEdges []*MemoryEdge `json:"reinforced_edges"`
	Dropped         int           `json:"dropped"`
}

// Merger is the identity-resolution core. All graph mutation goes
// through it; merges for a single user are serialized so concurrent
// ingestion cannot create two live nodes for one identity key.
type Merger struct {
	store     Store
	halfLife  time.Duration
	increment float64
	logger    *zap.Logger

	lockMu    sync.Mutex
	userLocks map[string]*sync.Mutex
}

// MergerOption configures a Merger.
type MergerOption func(*Merger)

// WithHalfLife overrides the decay half-life.
func WithHalfLife(d time.Duration) MergerOption {
	return func(m *Merger) { m.halfLife = d }
}

// WithReinforcementIncrement overrides the reinforcement increment.
func WithReinforcementIncrement(inc float64) MergerOption {
	return func(m *Merger) { m.increment = inc }
}

// NewMerger creates a merge engine over the given store.
func NewMerger(store Store, logger *zap.Logger, opts ...MergerOption) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Merger{
		store:     store,
		halfLife:  DefaultHalfLife,
		increment: DefaultReinforcementIncrement,
		logger:    logger.Named("merge"),
		userLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lockFor returns the mutex serializing mutation for one user,
// creating it on first use.
func (m *Merger) lockFor(userID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	mu, ok := m.userLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		m.userLocks[userID] = mu
	}
	return mu
}

// DecayFactor returns the multiplicative decay for the elapsed time
// since last observation: 0.5^(elapsed/halfLife). Negative elapsed
// (clock skew, out-of-order events) decays nothing.
func (m *Merger) DecayFactor(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1.0
	}
	return math.Exp2(-elapsed.Hours() / m.halfLife.Hours())
}

// Merge resolves candidate nodes and edges against the user's live
// graph as of observedAt. Existing identities are reinforced, new ones
// created. Malformed candidates are dropped individually with a warning;
// the rest of the batch proceeds. Edges commit only when both endpoints
// resolved in this call.
func (m *Merger) Merge(ctx context.Context, userID string, observedAt time.Time, nodes []CandidateNode, edges []CandidateEdge) (*MergeResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("merge: userID is required")
	}
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	mu := m.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := m.store.QueryNodes(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("merge: loading nodes: %w", err)
	}
	byKey := make(map[NodeKey]*MemoryNode, len(existing))
	for _, n := range existing {
		byKey[n.Key()] = n
	}

	result := &MergeResult{}

	// Step 1: resolve nodes.
	resolved := make(map[NodeKey]*MemoryNode, len(nodes))
	for _, cand := range nodes {
		label := NormalizeLabel(cand.Label)
		if label == "" || !cand.Kind.Valid() {
			result.Dropped++
			m.logger.Warn("Dropping malformed node candidate",
				zap.String("user_id", userID),
				zap.String("kind", string(cand.Kind)),
				zap.String("label", cand.Label))
			continue
		}

		key := NodeKey{UserID: userID, Kind: cand.Kind, NormalizedLabel: label}
		if node, ok := byKey[key]; ok {
			alreadyTouched := m.containsNode(resolved, key)
			node.Weight = clamp01(node.Weight*m.DecayFactor(observedAt.Sub(node.LastSeenAt)) + m.increment)
			node.RecurrenceCount++
			if observedAt.After(node.LastSeenAt) {
				node.LastSeenAt = observedAt
			}
			if err := m.store.UpsertNode(ctx, node); err != nil {
				return nil, fmt.Errorf("merge: upserting node %q: %w", node.Label, err)
			}
			resolved[key] = node
			if !alreadyTouched {
				result.ReinforcedNodes = append(result.ReinforcedNodes, node)
			}
			continue
		}

		node := &MemoryNode{
			ID:              uuid.New().String(),
			UserID:          userID,
			Kind:            cand.Kind,
			Label:           cand.Label,
			NormalizedLabel: label,
			SourceType:      cand.SourceType,
			Weight:          clamp01(m.increment),
			RecurrenceCount: 1,
			FirstSeenAt:     observedAt,
			LastSeenAt:      observedAt,
		}
		if err := m.store.UpsertNode(ctx, node); err != nil {
			return nil, fmt.Errorf("merge: creating node %q: %w", node.Label, err)
		}
		byKey[key] = node
		resolved[key] = node
		result.NewNodes = append(result.NewNodes, node)
	}

	// Step 2: resolve edges against nodes from this call or the store.
	existingEdges, err := m.store.QueryEdges(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("merge: loading edges: %w", err)
	}
	edgesByKey := make(map[EdgeKey]*MemoryEdge, len(existingEdges))
	for _, e := range existingEdges {
		edgesByKey[e.Key()] = e
	}

	touchedEdges := make(map[EdgeKey]bool, len(edges))
	for _, cand := range edges {
		if !cand.Relation.Valid() {
			result.Dropped++
			m.logger.Warn("Dropping edge candidate with unknown relation",
				zap.String("user_id", userID),
				zap.String("relation", string(cand.Relation)))
			continue
		}

		from := m.lookupEndpoint(byKey, userID, cand.FromKind, cand.FromLabel)
		to := m.lookupEndpoint(byKey, userID, cand.ToKind, cand.ToLabel)
		if from == nil || to == nil || from.ID == to.ID {
			result.Dropped++
			m.logger.Warn("Dropping edge candidate with unresolved endpoint",
				zap.String("user_id", userID),
				zap.String("from", cand.FromLabel),
				zap.String("to", cand.ToLabel))
			continue
		}

		probe := MemoryEdge{UserID: userID, FromNodeID: from.ID, ToNodeID: to.ID, Relation: cand.Relation}
		key := probe.Key()
		if edge, ok := edgesByKey[key]; ok {
			already := touchedEdges[key]
			edge.Weight = clamp01(edge.Weight*m.DecayFactor(observedAt.Sub(edge.LastSeenAt)) + m.increment)
			edge.RecurrenceCount++
			if observedAt.After(edge.LastSeenAt) {
				edge.LastSeenAt = observedAt
			}
			if err := m.store.UpsertEdge(ctx, edge); err != nil {
				return nil, fmt.Errorf("merge: upserting edge: %w", err)
			}
			touchedEdges[key] = true
			if !already {
				result.ReinforcedEdges = append(result.ReinforcedEdges, edge)
			}
			continue
		}

		edge := &MemoryEdge{
			ID:              uuid.New().String(),
			UserID:          userID,
			FromNodeID:      key.FromNodeID,
			ToNodeID:        key.ToNodeID,
			Relation:        cand.Relation,
			Weight:          clamp01(m.increment),
			RecurrenceCount: 1,
			CreatedAt:       observedAt,
			LastSeenAt:      observedAt,
		}
		if err := m.store.UpsertEdge(ctx, edge); err != nil {
			return nil, fmt.Errorf("merge: creating edge: %w", err)
		}
		edgesByKey[key] = edge
		touchedEdges[key] = true
		result.NewEdges = append(result.NewEdges, edge)
	}

	m.logger.Debug("Merge completed",
		zap.String("user_id", userID),
		zap.Int("new_nodes", len(result.NewNodes)),
		zap.Int("reinforced_nodes", len(result.ReinforcedNodes)),
		zap.Int("new_edges", len(result.NewEdges)),
		zap.Int("reinforced_edges", len(result.ReinforcedEdges)),
		zap.Int("dropped", result.Dropped))

	return result, nil
}

// EraseUser removes the user's entire graph. Runs under the user's
// merge lock so no in-flight merge can resurrect half a graph.
func (m *Merger) EraseUser(ctx context.Context, userID string) error {
	mu := m.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := m.store.DeleteAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("erase: %w", err)
	}
	m.logger.Info("Erased user graph", zap.String("user_id", userID))
	return nil
}

func (m *Merger) lookupEndpoint(byKey map[NodeKey]*MemoryNode, userID string, kind NodeKind, label string) *MemoryNode {
	normalized := NormalizeLabel(label)
	if normalized == "" {
		return nil
	}
	if kind.Valid() {
		return byKey[NodeKey{UserID: userID, Kind: kind, NormalizedLabel: normalized}]
	}
	// Kind omitted: match on label alone if unambiguous.
	var found *MemoryNode
	for key, node := range byKey {
		if key.NormalizedLabel == normalized {
			if found != nil {
				return nil
			}
			found = node
		}
	}
	return found
}

func (m *Merger) containsNode(resolved map[NodeKey]*MemoryNode, key NodeKey) bool {
	_, ok := resolved[key]
	return ok
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
