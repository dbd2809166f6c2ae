package extract

import (
	"fmt"
	"strings"

	"github.com/creative-memory-graph/internal/event"
)

const systemPrompt = `You are a semantic memory extraction system for a creative platform used by musicians.

Analyse the content and extract the key creative concepts as a JSON array.

Concept kinds:
- theme: creative themes (e.g. "nostalgia", "urban isolation", "freedom")
- emotion: emotional tones (e.g. "melancholic", "energetic", "intimate")
- visual-motif: visual concepts (e.g. "neon lights", "grainy textures")
- audience: target audience (e.g. "late-night listeners", "bedroom pop fans")
- value: artist values (e.g. "authenticity", "experimentation")
- skill: technical skills (e.g. "808 programming", "vocal layering")
- goal: creative goals (e.g. "release debut EP", "build fanbase")
- collaborator: collaborators or influences
- genre: musical genres (e.g. "lo-fi hip hop", "indie electronic")
- instrument: instruments (e.g. "MPC", "Juno-106", "vocals")
- technique: production techniques (e.g. "sidechain compression", "vinyl sampling")
- motif-seed: a recurring creative fragment worth tracking (e.g. "rain on windows")

Output format (JSON array only, no prose):
[{"kind": "theme", "label": "Nostalgia", "related_labels": ["Lo-fi production"]}]

Guidelines:
- Extract 3 to 10 concepts per piece of content
- Be specific with labels ("dark urban aesthetics", not just "dark")
- Avoid duplicates within the same extraction
- related_labels names other extracted concepts this one reinforces
- Return [] if there is nothing worth extracting
- British spelling always`

// focusBySource carries the per-surface emphasis appended to the user
// prompt, mirroring what each product surface tends to contain.
var focusBySource = map[event.SourceType][]string{
	event.SourceJournal:   {"themes", "emotions", "values", "goals", "skills"},
	event.SourceCoach:     {"goals", "challenges", "values", "themes", "skills"},
	event.SourceTimeline:  {"goals", "achievements", "collaborators", "genres", "techniques"},
	event.SourceDesigner:  {"visual motifs", "themes", "emotions", "techniques"},
	event.SourcePack:      {"genres", "techniques", "instruments", "visual motifs", "themes"},
	event.SourceMoodboard: {"visual motifs", "emotions", "themes", "aesthetics"},
	event.SourceUsage:     {"skills being developed", "goals being pursued", "values"},
}

func userPrompt(req CompletionRequest) string {
	focus := focusBySource[req.SourceType]
	if len(focus) == 0 {
		focus = []string{"themes", "emotions", "goals"}
	}
	return fmt.Sprintf(`Extract semantic memory from this %s content:

---
%s
---

Focus on: %s.

Output JSON array (empty [] if nothing to extract):`,
		req.SourceType, req.Text, strings.Join(focus, ", "))
}
