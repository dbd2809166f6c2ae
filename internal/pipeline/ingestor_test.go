package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/creative-memory-graph/internal/event"
	"github.com/creative-memory-graph/internal/extract"
	"github.com/creative-memory-graph/internal/graph"
)

func testIngestor(t *testing.T, store graph.Store) *Ingestor {
	t.Helper()
	logger := zaptest.NewLogger(t)
	extractor := extract.NewExtractor(nil, logger)
	merger := graph.NewMerger(store, logger)
	return NewIngestor(extractor, merger, nil, logger)
}

func rawJournal(userID, text string, tags ...interface{}) event.RawEvent {
	return event.RawEvent{
		UserID:     userID,
		SourceType: "journal",
		Timestamp:  "2026-08-01T10:00:00Z",
		Text:       text,
		StructuredFields: map[string]interface{}{
			"tags": tags,
		},
	}
}

// waitForNodes polls the store until the user has want nodes or the
// deadline passes.
func waitForNodes(t *testing.T, store graph.Store, userID string, want int) []*graph.MemoryNode {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		nodes, err := store.QueryNodes(context.Background(), userID, time.Time{})
		require.NoError(t, err)
		if len(nodes) >= want {
			return nodes
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %s never reached %d nodes", userID, want)
	return nil
}

func TestEnqueueRejectsMalformedEvent(t *testing.T) {
	in := testIngestor(t, graph.NewMemoryStore())

	err := in.Enqueue(event.RawEvent{SourceType: "journal", Timestamp: "2026-08-01T10:00:00Z"})
	require.Error(t, err)
	assert.True(t, event.IsMalformed(err))
}

func TestEnqueueProcessesEventThroughPipeline(t *testing.T) {
	store := graph.NewMemoryStore()
	in := testIngestor(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in.Start(ctx)
	defer in.Stop()

	require.NoError(t, in.Enqueue(rawJournal("u1", "late night session", "acoustic", "mellow")))

	nodes := waitForNodes(t, store, "u1", 2)
	labels := []string{nodes[0].NormalizedLabel, nodes[1].NormalizedLabel}
	assert.ElementsMatch(t, []string{"acoustic", "mellow"}, labels)
}

func TestEnqueueDeduplicatesRedelivery(t *testing.T) {
	store := graph.NewMemoryStore()
	in := testIngestor(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in.Start(ctx)

	raw := rawJournal("u1", "same delivery twice", "acoustic")
	require.NoError(t, in.Enqueue(raw))
	require.NoError(t, in.Enqueue(raw))

	in.Stop()

	nodes, err := store.QueryNodes(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, 1, nodes[0].RecurrenceCount, "duplicate delivery must not reinforce")
}

func TestDistinctEventsBothProcess(t *testing.T) {
	store := graph.NewMemoryStore()
	in := testIngestor(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in.Start(ctx)

	first := rawJournal("u1", "morning entry", "acoustic")
	second := rawJournal("u1", "evening entry", "acoustic")
	second.Timestamp = "2026-08-01T20:00:00Z"
	require.NoError(t, in.Enqueue(first))
	require.NoError(t, in.Enqueue(second))

	in.Stop()

	nodes, err := store.QueryNodes(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, 2, nodes[0].RecurrenceCount)
}

func TestStopDrainsQueue(t *testing.T) {
	store := graph.NewMemoryStore()
	in := testIngestor(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in.Start(ctx)

	for i := 0; i < 10; i++ {
		raw := rawJournal("u1", "entry", "acoustic")
		raw.Timestamp = time.Date(2026, 8, 1, 10, i, 0, 0, time.UTC).Format(time.RFC3339)
		require.NoError(t, in.Enqueue(raw))
	}

	in.Stop()

	nodes, err := store.QueryNodes(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, 10, nodes[0].RecurrenceCount)
}

func TestFingerprintIdentifiesDistinctDeliveries(t *testing.T) {
	a, err := event.Normalize(rawJournal("u1", "text a", "x"))
	require.NoError(t, err)
	b, err := event.Normalize(rawJournal("u1", "text b", "x"))
	require.NoError(t, err)
	c, err := event.Normalize(rawJournal("u2", "text a", "x"))
	require.NoError(t, err)

	assert.NotEqual(t, fingerprint(a), fingerprint(b))
	assert.NotEqual(t, fingerprint(a), fingerprint(c))
	assert.Equal(t, fingerprint(a), fingerprint(a))
}
