package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/creative-memory-graph/internal/cache"
	"github.com/creative-memory-graph/internal/event"
	"github.com/creative-memory-graph/internal/graph"
)

var testNow = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)

func testService(t *testing.T, store graph.Store, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewService(store, nil, zaptest.NewLogger(t), opts...)
}

// mergeDaily runs one merge per day for the given labels, ending the
// day before testNow.
func mergeDaily(t *testing.T, m *graph.Merger, userID string, days int, source event.SourceType, labels map[graph.NodeKind]string) {
	t.Helper()
	ctx := context.Background()

	var nodes []graph.CandidateNode
	var edges []graph.CandidateEdge
	var keys []graph.CandidateNode
	for kind, label := range labels {
		keys = append(keys, graph.CandidateNode{Kind: kind, Label: label, SourceType: source})
	}
	nodes = keys
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			edges = append(edges, graph.CandidateEdge{
				FromKind: keys[i].Kind, FromLabel: keys[i].Label,
				ToKind: keys[j].Kind, ToLabel: keys[j].Label,
				Relation: graph.RelationCoOccursWith,
			})
		}
	}

	for d := days; d >= 1; d-- {
		_, err := m.Merge(ctx, userID, testNow.Add(-time.Duration(d)*24*time.Hour), nodes, edges)
		require.NoError(t, err)
	}
}

func TestFingerprintEmptyGraph(t *testing.T) {
	svc := testService(t, graph.NewMemoryStore())

	fp, err := svc.ComputeFingerprint(context.Background(), "nobody", DefaultWindow)
	require.NoError(t, err)

	assert.Equal(t, 0, fp.NodeCount)
	assert.Equal(t, 0, fp.EdgeCount)
	assert.Empty(t, fp.TopNodesByKind)
	assert.Zero(t, fp.TotalWeight)
}

func TestFingerprintRankingAndTruncation(t *testing.T) {
	store := graph.NewMemoryStore()
	m := graph.NewMerger(store, zaptest.NewLogger(t))
	ctx := context.Background()

	// "steady" reinforced three times outweighs one-shot themes.
	for d := 3; d >= 1; d-- {
		_, err := m.Merge(ctx, "u1", testNow.Add(-time.Duration(d)*24*time.Hour),
			[]graph.CandidateNode{{Kind: graph.KindTheme, Label: "steady", SourceType: event.SourceJournal}}, nil)
		require.NoError(t, err)
	}
	for _, label := range []string{"one", "two", "three"} {
		_, err := m.Merge(ctx, "u1", testNow.Add(-24*time.Hour),
			[]graph.CandidateNode{{Kind: graph.KindTheme, Label: label, SourceType: event.SourceJournal}}, nil)
		require.NoError(t, err)
	}

	svc := testService(t, store, WithTopN(2))
	fp, err := svc.ComputeFingerprint(ctx, "u1", DefaultWindow)
	require.NoError(t, err)

	themes := fp.TopNodesByKind[graph.KindTheme]
	require.Len(t, themes, 2)
	assert.Equal(t, "steady", themes[0].Label)
	assert.Equal(t, 4, fp.NodeCount)
}

func TestFingerprintAppliesReadTimeDecay(t *testing.T) {
	store := graph.NewMemoryStore()
	m := graph.NewMerger(store, zaptest.NewLogger(t))
	ctx := context.Background()

	// Observed once, 30 days ago: effective weight halves at read time.
	_, err := m.Merge(ctx, "u1", testNow.Add(-30*24*time.Hour),
		[]graph.CandidateNode{{Kind: graph.KindTheme, Label: "fading", SourceType: event.SourceJournal}}, nil)
	require.NoError(t, err)

	svc := testService(t, store)
	fp, err := svc.ComputeFingerprint(ctx, "u1", 90*24*time.Hour)
	require.NoError(t, err)

	themes := fp.TopNodesByKind[graph.KindTheme]
	require.Len(t, themes, 1)
	assert.InDelta(t, 0.15, themes[0].Weight, 1e-9)
}

func TestFingerprintWindowExcludesStaleNodes(t *testing.T) {
	store := graph.NewMemoryStore()
	m := graph.NewMerger(store, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := m.Merge(ctx, "u1", testNow.Add(-120*24*time.Hour),
		[]graph.CandidateNode{{Kind: graph.KindTheme, Label: "ancient", SourceType: event.SourceJournal}}, nil)
	require.NoError(t, err)
	_, err = m.Merge(ctx, "u1", testNow.Add(-24*time.Hour),
		[]graph.CandidateNode{{Kind: graph.KindTheme, Label: "current", SourceType: event.SourceJournal}}, nil)
	require.NoError(t, err)

	svc := testService(t, store)
	fp, err := svc.ComputeFingerprint(ctx, "u1", 90*24*time.Hour)
	require.NoError(t, err)

	require.Len(t, fp.TopNodesByKind[graph.KindTheme], 1)
	assert.Equal(t, "current", fp.TopNodesByKind[graph.KindTheme][0].Label)
}

func TestFingerprintCacheIsTTLOnly(t *testing.T) {
	// Invalidation is purely TTL-based: a merge inside the staleness
	// budget does not refresh an already-cached fingerprint.
	store := graph.NewMemoryStore()
	m := graph.NewMerger(store, zaptest.NewLogger(t))
	ctx := context.Background()

	tiered, err := cache.NewTiered(1000, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	svc := NewService(store, tiered, zaptest.NewLogger(t),
		WithClock(func() time.Time { return testNow }))

	_, err = m.Merge(ctx, "u1", testNow.Add(-24*time.Hour),
		[]graph.CandidateNode{{Kind: graph.KindTheme, Label: "first", SourceType: event.SourceJournal}}, nil)
	require.NoError(t, err)

	fp1, err := svc.ComputeFingerprint(ctx, "u1", DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, fp1.NodeCount)
	tiered.Wait()

	_, err = m.Merge(ctx, "u1", testNow.Add(-time.Hour),
		[]graph.CandidateNode{{Kind: graph.KindTheme, Label: "second", SourceType: event.SourceJournal}}, nil)
	require.NoError(t, err)

	fp2, err := svc.ComputeFingerprint(ctx, "u1", DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, fp2.NodeCount, "cached projection should not see the new merge")

	// After a purge the projection recomputes and catches up.
	svc.PurgeUser(ctx, "u1")
	tiered.Wait()
	fp3, err := svc.ComputeFingerprint(ctx, "u1", DefaultWindow)
	require.NoError(t, err)
	assert.Equal(t, 2, fp3.NodeCount)
}

func TestExpiredDeadlineWithoutCacheIsUnavailable(t *testing.T) {
	store := graph.NewMemoryStore()
	svc := testService(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ComputeFingerprint(ctx, "u1", DefaultWindow)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMotifFromRepeatedCoOccurrence(t *testing.T) {
	// Three days of journaling about acoustic guitar and mellow mood
	// yield one two-node motif with recurrence 3.
	store := graph.NewMemoryStore()
	m := graph.NewMerger(store, zaptest.NewLogger(t))

	mergeDaily(t, m, "u1", 3, event.SourceJournal, map[graph.NodeKind]string{
		graph.KindInstrument: "acoustic guitar",
		graph.KindEmotion:    "mellow",
	})

	svc := testService(t, store)
	motifs, err := svc.DetectMotifs(context.Background(), "u1", DefaultWindow, 2)
	require.NoError(t, err)

	require.Len(t, motifs, 1)
	motif := motifs[0]
	assert.Equal(t, 3, motif.RecurrenceCount)
	assert.Len(t, motif.NodeIDs, 2)
	assert.ElementsMatch(t, []string{"acoustic guitar", "mellow"}, motif.Labels)
}

func TestMotifBelowThresholdIgnored(t *testing.T) {
	store := graph.NewMemoryStore()
	m := graph.NewMerger(store, zaptest.NewLogger(t))

	mergeDaily(t, m, "u1", 1, event.SourceJournal, map[graph.NodeKind]string{
		graph.KindInstrument: "banjo",
		graph.KindEmotion:    "restless",
	})

	svc := testService(t, store)
	motifs, err := svc.DetectMotifs(context.Background(), "u1", DefaultWindow, 2)
	require.NoError(t, err)
	assert.Empty(t, motifs)
}

func TestMotifGrowsToTriad(t *testing.T) {
	store := graph.NewMemoryStore()
	m := graph.NewMerger(store, zaptest.NewLogger(t))

	mergeDaily(t, m, "u1", 2, event.SourceJournal, map[graph.NodeKind]string{
		graph.KindInstrument:  "acoustic guitar",
		graph.KindEmotion:     "mellow",
		graph.KindVisualMotif: "rain on windows",
	})

	svc := testService(t, store)
	motifs, err := svc.DetectMotifs(context.Background(), "u1", DefaultWindow, 2)
	require.NoError(t, err)

	require.Len(t, motifs, 1)
	assert.Len(t, motifs[0].NodeIDs, 3)
	assert.Equal(t, 2, motifs[0].RecurrenceCount)
}

func TestDriftSameWindowIsStable(t *testing.T) {
	store := graph.NewMemoryStore()
	m := graph.NewMerger(store, zaptest.NewLogger(t))

	mergeDaily(t, m, "u1", 3, event.SourceJournal, map[graph.NodeKind]string{
		graph.KindTheme: "nostalgia",
	})

	svc := testService(t, store)
	record, err := svc.ComputeDrift(context.Background(), "u1", SurfaceXP, 30*24*time.Hour, 30*24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, DriftStable, record.Direction)
	assert.Zero(t, record.Delta)
}

func TestDriftEmptyWindowIsInsufficientData(t *testing.T) {
	svc := testService(t, graph.NewMemoryStore())

	record, err := svc.ComputeDrift(context.Background(), "u1", SurfaceXP, 30*24*time.Hour, 90*24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, DriftInsufficientData, record.Direction)
	assert.Zero(t, record.Delta)
}

func TestDriftExcludesOtherSurfaces(t *testing.T) {
	store := graph.NewMemoryStore()
	m := graph.NewMerger(store, zaptest.NewLogger(t))

	// Only pack activity exists; the xp surface has nothing.
	mergeDaily(t, m, "u1", 3, event.SourcePack, map[graph.NodeKind]string{
		graph.KindGenre: "lo-fi hip hop",
	})

	svc := testService(t, store)
	record, err := svc.ComputeDrift(context.Background(), "u1", SurfaceXP, 30*24*time.Hour, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, DriftInsufficientData, record.Direction)
}

func TestSurfaceMapping(t *testing.T) {
	cases := map[event.SourceType]Surface{
		event.SourceCoach:     SurfaceASCII,
		event.SourceJournal:   SurfaceXP,
		event.SourceDesigner:  SurfaceAqua,
		event.SourceMoodboard: SurfaceAqua,
		event.SourceTimeline:  SurfaceDAW,
		event.SourcePack:      SurfaceAnalogue,
	}
	for source, want := range cases {
		got, ok := SurfaceFor(source)
		require.True(t, ok, "source %s", source)
		assert.Equal(t, want, got)
	}
	_, ok := SurfaceFor(event.SourceUsage)
	assert.False(t, ok, "usage telemetry belongs to no surface")
}

func TestTimelineCountConservation(t *testing.T) {
	store := graph.NewMemoryStore()
	m := graph.NewMerger(store, zaptest.NewLogger(t))
	ctx := context.Background()

	labels := []string{"one", "two", "three", "four", "five"}
	for i, label := range labels {
		_, err := m.Merge(ctx, "u1", testNow.Add(-time.Duration(i*17+1)*time.Hour),
			[]graph.CandidateNode{{Kind: graph.KindTheme, Label: label, SourceType: event.SourceJournal}}, nil)
		require.NoError(t, err)
	}

	svc := testService(t, store)
	buckets, err := svc.BucketByActivity(ctx, "u1", 7*24*time.Hour, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, buckets, 7)

	total := 0
	for _, b := range buckets {
		total += b.Total
		sum := 0
		for _, n := range b.CountsByKind {
			sum += n
		}
		assert.Equal(t, b.Total, sum)
	}
	assert.Equal(t, len(labels), total)
}

func TestTimelineViewsDiffer(t *testing.T) {
	store := graph.NewMemoryStore()
	m := graph.NewMerger(store, zaptest.NewLogger(t))
	ctx := context.Background()

	// First seen 6 days ago, last active yesterday.
	node := []graph.CandidateNode{{Kind: graph.KindTheme, Label: "evolving", SourceType: event.SourceJournal}}
	_, err := m.Merge(ctx, "u1", testNow.Add(-6*24*time.Hour), node, nil)
	require.NoError(t, err)
	_, err = m.Merge(ctx, "u1", testNow.Add(-24*time.Hour), node, nil)
	require.NoError(t, err)

	svc := testService(t, store)

	activity, err := svc.BucketByActivity(ctx, "u1", 7*24*time.Hour, 24*time.Hour)
	require.NoError(t, err)
	firstSeen, err := svc.BucketByFirstSeen(ctx, "u1", 7*24*time.Hour, 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, activity[6].Total, "activity lands in the newest bucket")
	assert.Equal(t, 1, firstSeen[1].Total, "first-seen lands where the node appeared")
}

func TestParseWindow(t *testing.T) {
	cases := map[string]time.Duration{
		"":    DefaultWindow,
		"36h": 36 * time.Hour,
		"90d": 90 * 24 * time.Hour,
		"12w": 12 * 7 * 24 * time.Hour,
	}
	for raw, want := range cases {
		got, err := ParseWindow(raw)
		require.NoError(t, err, "window %q", raw)
		assert.Equal(t, want, got)
	}

	for _, raw := range []string{"90", "d90", "-3d", "0d", "ninety days"} {
		_, err := ParseWindow(raw)
		assert.Error(t, err, "window %q", raw)
	}
}
