package extract

import (
	"strings"

	"github.com/creative-memory-graph/internal/event"
	"github.com/creative-memory-graph/internal/graph"
)

// fieldKinds maps structured-field names to the node kind their values
// represent. Anything not listed here is ignored by the fallback.
var fieldKinds = map[string]graph.NodeKind{
	"tags":          graph.KindTheme,
	"keywords":      graph.KindTheme,
	"themes":        graph.KindTheme,
	"title":         graph.KindTheme,
	"genres":        graph.KindGenre,
	"genre":         graph.KindGenre,
	"instruments":   graph.KindInstrument,
	"techniques":    graph.KindTechnique,
	"skills":        graph.KindSkill,
	"goals":         graph.KindGoal,
	"collaborators": graph.KindCollaborator,
	"moods":         graph.KindEmotion,
	"emotions":      graph.KindEmotion,
	"captions":      graph.KindVisualMotif,
	"visuals":       graph.KindVisualMotif,
}

// HeuristicCandidates derives candidates deterministically from an
// event's structured fields. It is the no-model extraction path and
// the fallback when the completion call fails or returns garbage.
func HeuristicCandidates(ev *event.Event) []Candidate {
	if len(ev.StructuredFields) == 0 {
		return nil
	}

	var candidates []Candidate
	seen := make(map[string]struct{})
	for field, kind := range fieldKinds {
		raw, ok := ev.StructuredFields[field]
		if !ok {
			continue
		}
		for _, label := range stringValues(raw) {
			norm := graph.NormalizeLabel(label)
			if norm == "" {
				continue
			}
			key := string(kind) + "\x00" + norm
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			candidates = append(candidates, Candidate{Kind: string(kind), Label: label})
		}
	}
	return candidates
}

// stringValues flattens a structured-field value into labels. Accepts a
// plain string, a string slice, or a decoded JSON array.
func stringValues(v interface{}) []string {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []interface{}:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func validKind(kind string) bool {
	return graph.NodeKind(kind).Valid()
}
