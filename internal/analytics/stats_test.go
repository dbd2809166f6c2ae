package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/creative-memory-graph/internal/event"
	"github.com/creative-memory-graph/internal/graph"
)

func TestStatsCountsByKindAndRelation(t *testing.T) {
	store := graph.NewMemoryStore()
	m := graph.NewMerger(store, zaptest.NewLogger(t))

	mergeDaily(t, m, "u1", 3, event.SourceJournal, map[graph.NodeKind]string{
		graph.KindTheme:      "nostalgia",
		graph.KindInstrument: "acoustic guitar",
	})
	mergeDaily(t, m, "u1", 1, event.SourceJournal, map[graph.NodeKind]string{
		graph.KindEmotion: "mellow",
	})

	svc := testService(t, store)
	stats, err := svc.ComputeStats(context.Background(), "u1", DefaultWindow)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.NodeCount)
	assert.Equal(t, 1, stats.EdgeCount)
	assert.Equal(t, 1, stats.NodesByKind[graph.KindTheme])
	assert.Equal(t, 1, stats.NodesByKind[graph.KindInstrument])
	assert.Equal(t, 1, stats.NodesByKind[graph.KindEmotion])
	assert.Equal(t, 1, stats.EdgesByRelation[graph.RelationCoOccursWith])
	// Two nodes merged 3 times plus one merged once.
	assert.Equal(t, 7, stats.TotalRecurrence)
	require.NotNil(t, stats.OldestFirstSeen)
	require.NotNil(t, stats.NewestActivityAt)
	assert.True(t, stats.OldestFirstSeen.Before(*stats.NewestActivityAt) ||
		stats.OldestFirstSeen.Equal(*stats.NewestActivityAt))
}

func TestStatsEmptyGraph(t *testing.T) {
	svc := testService(t, graph.NewMemoryStore())

	stats, err := svc.ComputeStats(context.Background(), "nobody", DefaultWindow)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.NodeCount)
	assert.Equal(t, 0, stats.EdgeCount)
	assert.Nil(t, stats.OldestFirstSeen)
	assert.Nil(t, stats.NewestActivityAt)
}
