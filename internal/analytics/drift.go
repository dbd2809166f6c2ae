package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/creative-memory-graph/internal/event"
	"github.com/creative-memory-graph/internal/graph"
)

// Surface identifies one of the product's themed creative workspaces.
type Surface string

const (
	SurfaceASCII    Surface = "ascii"
	SurfaceXP       Surface = "xp"
	SurfaceAqua     Surface = "aqua"
	SurfaceDAW      Surface = "daw"
	SurfaceAnalogue Surface = "analogue"
)

// Valid reports whether s is a known surface.
func (s Surface) Valid() bool {
	switch s {
	case SurfaceASCII, SurfaceXP, SurfaceAqua, SurfaceDAW, SurfaceAnalogue:
		return true
	}
	return false
}

// surfaceBySource maps event sources to the workspace they belong to.
// Usage telemetry is aggregate and belongs to no single surface, so it
// is excluded from drift.
var surfaceBySource = map[event.SourceType]Surface{
	event.SourceCoach:     SurfaceASCII,
	event.SourceJournal:   SurfaceXP,
	event.SourceDesigner:  SurfaceAqua,
	event.SourceMoodboard: SurfaceAqua,
	event.SourceTimeline:  SurfaceDAW,
	event.SourcePack:      SurfaceAnalogue,
}

// SurfaceFor returns the surface an event source maps to.
func SurfaceFor(st event.SourceType) (Surface, bool) {
	s, ok := surfaceBySource[st]
	return s, ok
}

// Drift direction labels.
const (
	DriftStable           = "stable"
	DriftDiverging        = "diverging"
	DriftConverging       = "converging"
	DriftInsufficientData = "insufficient-data"
)

// stableDeltaThreshold is the delta below which two windows are
// considered the same identity.
const stableDeltaThreshold = 0.15

// DriftRecord compares fingerprint composition for one surface across
// two lookback windows, both ending now.
type DriftRecord struct {
	UserID     string    `json:"user_id"`
	OS         Surface   `json:"os"`
	WindowA    string    `json:"window_a"`
	WindowB    string    `json:"window_b"`
	Delta      float64   `json:"delta"`
	Direction  string    `json:"direction"`
	ComputedAt time.Time `json:"computed_at"`
}

// ComputeDrift measures how the user's identity on one surface shifted
// between two windows. Delta is the total variation distance between
// the windows' top-label weight shares, in [0, 1]. If either window has
// no data the record reports insufficient-data with delta 0 instead of
// failing.
func (s *Service) ComputeDrift(ctx context.Context, userID string, os Surface, windowA, windowB time.Duration) (*DriftRecord, error) {
	if windowA <= 0 {
		windowA = DefaultWindow
	}
	if windowB <= 0 {
		windowB = DefaultWindow
	}
	key := fmt.Sprintf("drift:%s:%s:%s:%s", userID, os, windowKey(windowA), windowKey(windowB))

	if cached, ok := fetchCached[DriftRecord](ctx, s, key); ok {
		return cached, nil
	}

	now := s.now()

	sharesA, totalA, err := s.surfaceShares(ctx, userID, os, now, windowA)
	if err != nil {
		return cachedOrUnavailable[DriftRecord](ctx, s, key, err)
	}
	sharesB, totalB, err := s.surfaceShares(ctx, userID, os, now, windowB)
	if err != nil {
		return cachedOrUnavailable[DriftRecord](ctx, s, key, err)
	}
	if err := ctx.Err(); err != nil {
		return cachedOrUnavailable[DriftRecord](ctx, s, key, err)
	}

	record := &DriftRecord{
		UserID:     userID,
		OS:         os,
		WindowA:    windowKey(windowA),
		WindowB:    windowKey(windowB),
		ComputedAt: now,
	}

	switch {
	case totalA == 0 || totalB == 0:
		record.Direction = DriftInsufficientData
	default:
		record.Delta = totalVariation(sharesA, sharesB)
		record.Direction = driftDirection(record.Delta, sharesA, sharesB)
	}

	storeCached(ctx, s, userID, key, record)
	return record, nil
}

// surfaceShares computes normalized weight shares of the user's top
// labels on one surface for a window ending now.
func (s *Service) surfaceShares(ctx context.Context, userID string, os Surface, now time.Time, window time.Duration) (map[string]float64, float64, error) {
	nodes, err := s.store.QueryNodes(ctx, userID, now.Add(-window))
	if err != nil {
		return nil, 0, err
	}

	var restricted []*graph.MemoryNode
	for _, n := range nodes {
		if surface, ok := SurfaceFor(n.SourceType); ok && surface == os {
			restricted = append(restricted, n)
		}
	}

	fp := s.buildFingerprint(userID, window, now, restricted)

	shares := make(map[string]float64)
	total := 0.0
	for _, ranked := range fp.TopNodesByKind {
		for _, rn := range ranked {
			shares[graph.NormalizeLabel(rn.Label)] += rn.Weight
			total += rn.Weight
		}
	}
	if total > 0 {
		for label := range shares {
			shares[label] /= total
		}
	}
	return shares, total, nil
}

// totalVariation is half the L1 distance between two share
// distributions over the union of their labels.
func totalVariation(a, b map[string]float64) float64 {
	labels := make(map[string]bool, len(a)+len(b))
	for l := range a {
		labels[l] = true
	}
	for l := range b {
		labels[l] = true
	}

	sum := 0.0
	for l := range labels {
		sum += math.Abs(a[l] - b[l])
	}
	return sum / 2
}

// driftDirection classifies a delta: below the stability threshold the
// identity held; above it, shared top labels gaining aggregate share
// means the surfaces are converging on an established identity, losing
// share means they are diverging from it.
func driftDirection(delta float64, a, b map[string]float64) string {
	if delta < stableDeltaThreshold {
		return DriftStable
	}

	sharedA, sharedB := 0.0, 0.0
	for label, shareA := range a {
		if shareB, ok := b[label]; ok {
			sharedA += shareA
			sharedB += shareB
		}
	}
	if sharedB > sharedA {
		return DriftConverging
	}
	return DriftDiverging
}
