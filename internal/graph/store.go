package graph

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the persistence capability the merge engine and analytics
// read paths depend on. Implementations must be safe for concurrent use.
// A zero since time means "everything for this user".
type Store interface {
	UpsertNode(ctx context.Context, node *MemoryNode) error
	UpsertEdge(ctx context.Context, edge *MemoryEdge) error
	// QueryNodes returns nodes with LastSeenAt >= since.
	QueryNodes(ctx context.Context, userID string, since time.Time) ([]*MemoryNode, error)
	// QueryEdges returns edges with LastSeenAt >= since.
	QueryEdges(ctx context.Context, userID string, since time.Time) ([]*MemoryEdge, error)
	// DeleteAllForUser removes every node and edge owned by userID.
	DeleteAllForUser(ctx context.Context, userID string) error
}

// MemoryStore is an in-process Store backed by maps. It is the default
// for tests and single-node deployments without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]map[string]*MemoryNode // userID -> nodeID -> node
	edges map[string]map[string]*MemoryEdge // userID -> edgeID -> edge
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]map[string]*MemoryNode),
		edges: make(map[string]map[string]*MemoryEdge),
	}
}

// UpsertNode inserts or replaces a node by ID.
func (s *MemoryStore) UpsertNode(ctx context.Context, node *MemoryNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userNodes, ok := s.nodes[node.UserID]
	if !ok {
		userNodes = make(map[string]*MemoryNode)
		s.nodes[node.UserID] = userNodes
	}
	cp := *node
	userNodes[node.ID] = &cp
	return nil
}

// UpsertEdge inserts or replaces an edge by ID.
func (s *MemoryStore) UpsertEdge(ctx context.Context, edge *MemoryEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userEdges, ok := s.edges[edge.UserID]
	if !ok {
		userEdges = make(map[string]*MemoryEdge)
		s.edges[edge.UserID] = userEdges
	}
	cp := *edge
	userEdges[edge.ID] = &cp
	return nil
}

// QueryNodes returns a snapshot of the user's nodes active since the
// given time, ordered by LastSeenAt ascending for deterministic reads.
func (s *MemoryStore) QueryNodes(ctx context.Context, userID string, since time.Time) ([]*MemoryNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*MemoryNode
	for _, n := range s.nodes[userID] {
		if since.IsZero() || !n.LastSeenAt.Before(since) {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastSeenAt.Before(out[j].LastSeenAt)
	})
	return out, nil
}

// QueryEdges returns a snapshot of the user's edges active since the
// given time.
func (s *MemoryStore) QueryEdges(ctx context.Context, userID string, since time.Time) ([]*MemoryEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*MemoryEdge
	for _, e := range s.edges[userID] {
		if since.IsZero() || !e.LastSeenAt.Before(since) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastSeenAt.Before(out[j].LastSeenAt)
	})
	return out, nil
}

// DeleteAllForUser drops the user's entire graph.
func (s *MemoryStore) DeleteAllForUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nodes, userID)
	delete(s.edges, userID)
	return nil
}
