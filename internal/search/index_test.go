package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/creative-memory-graph/internal/event"
	"github.com/creative-memory-graph/internal/graph"
)

func memIndex(t *testing.T) *LabelIndex {
	t.Helper()
	li, err := NewLabelIndex(Config{InMemory: true, Fuzziness: 2}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { li.Close() })
	return li
}

func node(id, userID, label string, kind graph.NodeKind) *graph.MemoryNode {
	return &graph.MemoryNode{
		ID:              id,
		UserID:          userID,
		Kind:            kind,
		Label:           label,
		NormalizedLabel: graph.NormalizeLabel(label),
		SourceType:      event.SourceJournal,
		Weight:          0.3,
		RecurrenceCount: 1,
		FirstSeenAt:     time.Now().UTC(),
		LastSeenAt:      time.Now().UTC(),
	}
}

func TestSearchFindsFuzzyMatch(t *testing.T) {
	li := memIndex(t)
	ctx := context.Background()

	require.NoError(t, li.IndexNodes(ctx, []*graph.MemoryNode{
		node("n1", "u1", "nostalgia", graph.KindTheme),
		node("n2", "u1", "melancholic", graph.KindEmotion),
	}))

	hits, err := li.Search(ctx, "u1", "nostalgai", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "n1", hits[0].NodeID)
	assert.Equal(t, "nostalgia", hits[0].Label)
	assert.Equal(t, string(graph.KindTheme), hits[0].Kind)
}

func TestSearchScopedToUser(t *testing.T) {
	li := memIndex(t)
	ctx := context.Background()

	require.NoError(t, li.IndexNodes(ctx, []*graph.MemoryNode{
		node("n1", "u1", "nostalgia", graph.KindTheme),
		node("n2", "u2", "nostalgia", graph.KindTheme),
	}))

	hits, err := li.Search(ctx, "u1", "nostalgia", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "n1", hits[0].NodeID)
}

func TestDeleteUserRemovesOnlyThatUser(t *testing.T) {
	li := memIndex(t)
	ctx := context.Background()

	require.NoError(t, li.IndexNodes(ctx, []*graph.MemoryNode{
		node("n1", "u1", "nostalgia", graph.KindTheme),
		node("n2", "u1", "lo-fi hip hop", graph.KindGenre),
		node("n3", "u2", "nostalgia", graph.KindTheme),
	}))

	require.NoError(t, li.DeleteUser(ctx, "u1"))

	gone, err := li.Search(ctx, "u1", "nostalgia", 10)
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := li.Search(ctx, "u2", "nostalgia", 10)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestIndexNodesEmptyBatchIsNoop(t *testing.T) {
	li := memIndex(t)
	assert.NoError(t, li.IndexNodes(context.Background(), nil))
}
