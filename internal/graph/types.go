// Package graph owns the Creative Memory Graph: the per-user node/edge
// model, the persistence capability interface, and the merge engine that
// performs identity resolution, reinforcement, and decay.
package graph

import (
	"strings"
	"time"

	"github.com/creative-memory-graph/internal/event"
)

// NodeKind is the closed vocabulary of semantic entities extracted from
// creative content.
type NodeKind string

const (
	KindTheme        NodeKind = "theme"
	KindMotifSeed    NodeKind = "motif-seed"
	KindEmotion      NodeKind = "emotion"
	KindTechnique    NodeKind = "technique"
	KindCollaborator NodeKind = "collaborator"
	KindGoal         NodeKind = "goal"
	KindGenre        NodeKind = "genre"
	KindInstrument   NodeKind = "instrument"
	KindVisualMotif  NodeKind = "visual-motif"
	KindValue        NodeKind = "value"
	KindSkill        NodeKind = "skill"
	KindAudience     NodeKind = "audience"
)

// AllNodeKinds lists every valid node kind.
var AllNodeKinds = []NodeKind{
	KindTheme, KindMotifSeed, KindEmotion, KindTechnique,
	KindCollaborator, KindGoal, KindGenre, KindInstrument,
	KindVisualMotif, KindValue, KindSkill, KindAudience,
}

// Valid reports whether k is a known node kind.
func (k NodeKind) Valid() bool {
	for _, kind := range AllNodeKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// EdgeRelation is the closed vocabulary of relationships between nodes.
type EdgeRelation string

const (
	RelationCoOccursWith EdgeRelation = "co-occurs-with"
	RelationEvolvesInto  EdgeRelation = "evolves-into"
	RelationContradicts  EdgeRelation = "contradicts"
	RelationReinforces   EdgeRelation = "reinforces"
)

// Valid reports whether r is a known edge relation.
func (r EdgeRelation) Valid() bool {
	switch r {
	case RelationCoOccursWith, RelationEvolvesInto, RelationContradicts, RelationReinforces:
		return true
	}
	return false
}

// Directional reports whether the relation distinguishes its endpoints.
// Undirected relations store their endpoints in canonical order so that
// mirrored observations resolve to the same edge identity.
func (r EdgeRelation) Directional() bool {
	switch r {
	case RelationEvolvesInto, RelationContradicts:
		return true
	}
	return false
}

// MemoryNode is a live semantic entity in a user's graph. There is at
// most one live node per (UserID, Kind, NormalizedLabel).
type MemoryNode struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Kind            NodeKind         `json:"kind"`
	Label           string           `json:"label"`
	NormalizedLabel string           `json:"normalized_label"`
	SourceType      event.SourceType `json:"source_type"`
	Weight          float64          `json:"weight"`
	RecurrenceCount int              `json:"recurrence_count"`
	FirstSeenAt     time.Time        `json:"first_seen_at"`
	LastSeenAt      time.Time        `json:"last_seen_at"`
}

// Key returns the node's identity key.
func (n *MemoryNode) Key() NodeKey {
	return NodeKey{UserID: n.UserID, Kind: n.Kind, NormalizedLabel: n.NormalizedLabel}
}

// NodeKey is the identity key for node deduplication.
type NodeKey struct {
	UserID          string
	Kind            NodeKind
	NormalizedLabel string
}

// MemoryEdge is a live relationship between two nodes in a user's graph.
// Identity key is (UserID, FromNodeID, ToNodeID, Relation) after
// canonical ordering for undirected relations.
type MemoryEdge struct {
	ID              string       `json:"id"`
	UserID          string       `json:"user_id"`
	FromNodeID      string       `json:"from_node_id"`
	ToNodeID        string       `json:"to_node_id"`
	Relation        EdgeRelation `json:"relation"`
	Weight          float64      `json:"weight"`
	RecurrenceCount int          `json:"recurrence_count"`
	CreatedAt       time.Time    `json:"created_at"`
	LastSeenAt      time.Time    `json:"last_seen_at"`
}

// Key returns the edge's identity key with canonical endpoint ordering
// applied for undirected relations.
func (e *MemoryEdge) Key() EdgeKey {
	from, to := e.FromNodeID, e.ToNodeID
	if !e.Relation.Directional() && from > to {
		from, to = to, from
	}
	return EdgeKey{UserID: e.UserID, FromNodeID: from, ToNodeID: to, Relation: e.Relation}
}

// EdgeKey is the identity key for edge deduplication.
type EdgeKey struct {
	UserID     string
	FromNodeID string
	ToNodeID   string
	Relation   EdgeRelation
}

// CandidateNode is a node proposal produced by an extraction adapter.
type CandidateNode struct {
	Kind       NodeKind         `json:"kind"`
	Label      string           `json:"label"`
	SourceType event.SourceType `json:"source_type"`
}

// CandidateEdge is an edge proposal produced by an extraction adapter.
// Endpoints are referenced by kind and label and must resolve within the
// same merge call, either to existing nodes or to same-batch candidates.
type CandidateEdge struct {
	FromKind  NodeKind     `json:"from_kind"`
	FromLabel string       `json:"from_label"`
	ToKind    NodeKind     `json:"to_kind"`
	ToLabel   string       `json:"to_label"`
	Relation  EdgeRelation `json:"relation"`
}

// NormalizeLabel lower-cases a label and collapses internal whitespace.
// The result is the node identity component.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}
