// Package sqlite implements the graph.Store capability on SQLite.
// It backs single-node deployments where the graph must survive
// restarts without an external database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/creative-memory-graph/internal/event"
	"github.com/creative-memory-graph/internal/graph"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_node (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	label TEXT NOT NULL,
	normalized_label TEXT NOT NULL,
	source_type TEXT NOT NULL,
	weight REAL NOT NULL,
	recurrence_count INTEGER NOT NULL,
	first_seen_at INTEGER NOT NULL,
	last_seen_at INTEGER NOT NULL,
	UNIQUE (user_id, kind, normalized_label)
);
CREATE INDEX IF NOT EXISTS idx_memory_node_user_seen ON memory_node (user_id, last_seen_at);

CREATE TABLE IF NOT EXISTS memory_edge (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	from_node_id TEXT NOT NULL,
	to_node_id TEXT NOT NULL,
	relation TEXT NOT NULL,
	weight REAL NOT NULL,
	recurrence_count INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	last_seen_at INTEGER NOT NULL,
	UNIQUE (user_id, from_node_id, to_node_id, relation)
);
CREATE INDEX IF NOT EXISTS idx_memory_edge_user_seen ON memory_edge (user_id, last_seen_at);
`

// Store is a SQLite-backed graph.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// The merge engine serializes writers per user; a single connection
	// keeps SQLite's own locking out of the picture.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertNode inserts or replaces a node keyed by its identity.
func (s *Store) UpsertNode(ctx context.Context, node *graph.MemoryNode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_node
			(id, user_id, kind, label, normalized_label, source_type, weight, recurrence_count, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, kind, normalized_label) DO UPDATE SET
			label = excluded.label,
			source_type = excluded.source_type,
			weight = excluded.weight,
			recurrence_count = excluded.recurrence_count,
			last_seen_at = excluded.last_seen_at`,
		node.ID, node.UserID, string(node.Kind), node.Label, node.NormalizedLabel,
		string(node.SourceType), node.Weight, node.RecurrenceCount,
		node.FirstSeenAt.UnixMilli(), node.LastSeenAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: upsert node: %w", err)
	}
	return nil
}

// UpsertEdge inserts or replaces an edge keyed by its identity.
func (s *Store) UpsertEdge(ctx context.Context, edge *graph.MemoryEdge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_edge
			(id, user_id, from_node_id, to_node_id, relation, weight, recurrence_count, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, from_node_id, to_node_id, relation) DO UPDATE SET
			weight = excluded.weight,
			recurrence_count = excluded.recurrence_count,
			last_seen_at = excluded.last_seen_at`,
		edge.ID, edge.UserID, edge.FromNodeID, edge.ToNodeID, string(edge.Relation),
		edge.Weight, edge.RecurrenceCount,
		edge.CreatedAt.UnixMilli(), edge.LastSeenAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlite: upsert edge: %w", err)
	}
	return nil
}

// QueryNodes returns nodes with last_seen_at >= since, oldest first.
func (s *Store) QueryNodes(ctx context.Context, userID string, since time.Time) ([]*graph.MemoryNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, label, normalized_label, source_type, weight, recurrence_count, first_seen_at, last_seen_at
		FROM memory_node
		WHERE user_id = ? AND last_seen_at >= ?
		ORDER BY last_seen_at ASC, id ASC`,
		userID, sinceMilli(since))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query nodes: %w", err)
	}
	defer rows.Close()

	var out []*graph.MemoryNode
	for rows.Next() {
		var n graph.MemoryNode
		var kind, sourceType string
		var firstSeen, lastSeen int64
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.Label, &n.NormalizedLabel,
			&sourceType, &n.Weight, &n.RecurrenceCount, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("sqlite: scan node: %w", err)
		}
		n.Kind = graph.NodeKind(kind)
		n.SourceType = event.SourceType(sourceType)
		n.FirstSeenAt = time.UnixMilli(firstSeen).UTC()
		n.LastSeenAt = time.UnixMilli(lastSeen).UTC()
		out = append(out, &n)
	}
	return out, rows.Err()
}

// QueryEdges returns edges with last_seen_at >= since, oldest first.
func (s *Store) QueryEdges(ctx context.Context, userID string, since time.Time) ([]*graph.MemoryEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, from_node_id, to_node_id, relation, weight, recurrence_count, created_at, last_seen_at
		FROM memory_edge
		WHERE user_id = ? AND last_seen_at >= ?
		ORDER BY last_seen_at ASC, id ASC`,
		userID, sinceMilli(since))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query edges: %w", err)
	}
	defer rows.Close()

	var out []*graph.MemoryEdge
	for rows.Next() {
		var e graph.MemoryEdge
		var relation string
		var createdAt, lastSeen int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.FromNodeID, &e.ToNodeID, &relation,
			&e.Weight, &e.RecurrenceCount, &createdAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("sqlite: scan edge: %w", err)
		}
		e.Relation = graph.EdgeRelation(relation)
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		e.LastSeenAt = time.UnixMilli(lastSeen).UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteAllForUser removes every row owned by userID in one transaction.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin erase: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_edge WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: erase edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_node WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: erase nodes: %w", err)
	}
	return tx.Commit()
}

func sinceMilli(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return since.UnixMilli()
}
