// Package extract turns normalized events into graph merge candidates.
// The primary path asks a completion model for concepts; when the model
// is unavailable, slow, or returns garbage, a deterministic heuristic
// over the event's structured fields takes over. Extraction never fails
// past the fallback: the worst outcome is an empty candidate set.
package extract

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/creative-memory-graph/internal/event"
	"github.com/creative-memory-graph/internal/graph"
)

const (
	// DefaultConcurrency bounds in-flight completion calls.
	DefaultConcurrency = 4

	// DefaultTimeout is the per-call completion budget.
	DefaultTimeout = 5 * time.Second

	retryBackoff = 250 * time.Millisecond
)

// Candidate is one concept proposed by a completer. RelatedLabels name
// concepts the model considers reinforced by this one.
type Candidate struct {
	Kind          string   `json:"kind"`
	Label         string   `json:"label"`
	RelatedLabels []string `json:"related_labels,omitempty"`
}

// CompletionRequest carries the event content a completer works from.
type CompletionRequest struct {
	SourceType event.SourceType
	Text       string
}

// Completer produces extraction candidates for an event.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) ([]Candidate, error)
}

// Extractor coordinates completion calls behind a weighted semaphore
// and owns the fallback path.
type Extractor struct {
	completer Completer
	sem       *semaphore.Weighted
	timeout   time.Duration
	logger    *zap.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithConcurrency bounds the number of concurrent completion calls.
func WithConcurrency(n int64) Option {
	return func(x *Extractor) {
		if n > 0 {
			x.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithTimeout sets the per-call completion budget.
func WithTimeout(d time.Duration) Option {
	return func(x *Extractor) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// NewExtractor creates an extractor. A nil completer is allowed and
// routes every event straight to the heuristic fallback.
func NewExtractor(completer Completer, logger *zap.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	x := &Extractor{
		completer: completer,
		sem:       semaphore.NewWeighted(DefaultConcurrency),
		timeout:   DefaultTimeout,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract produces merge candidates for ev. It returns the node set,
// the same-batch co-occurrence and reinforcement edges, and never an
// error: failures degrade to the fallback and then to an empty set.
func (x *Extractor) Extract(ctx context.Context, ev *event.Event) ([]graph.CandidateNode, []graph.CandidateEdge) {
	candidates := x.complete(ctx, ev)
	if len(candidates) == 0 {
		candidates = HeuristicCandidates(ev)
	}
	if len(candidates) == 0 {
		x.logger.Warn("extraction produced no candidates",
			zap.String("user_id", ev.UserID),
			zap.String("source_type", string(ev.SourceType)))
		return nil, nil
	}
	return buildBatch(ev.SourceType, candidates)
}

func (x *Extractor) complete(ctx context.Context, ev *event.Event) []Candidate {
	if x.completer == nil || ev.Text == "" {
		return nil
	}
	if err := x.sem.Acquire(ctx, 1); err != nil {
		return nil
	}
	defer x.sem.Release(1)

	req := CompletionRequest{SourceType: ev.SourceType, Text: ev.Text}

	candidates, err := x.completeOnce(ctx, req)
	if err == nil {
		return candidates
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}

	// One retry with a short backoff before giving up on the model.
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(retryBackoff):
	}

	candidates, retryErr := x.completeOnce(ctx, req)
	if retryErr != nil {
		x.logger.Warn("completion failed, using heuristic fallback",
			zap.String("user_id", ev.UserID),
			zap.String("source_type", string(ev.SourceType)),
			zap.NamedError("first", err),
			zap.NamedError("retry", retryErr))
		return nil
	}
	return candidates
}

func (x *Extractor) completeOnce(ctx context.Context, req CompletionRequest) ([]Candidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()
	return x.completer.Complete(callCtx, req)
}

// buildBatch converts validated candidates into merge inputs. Nodes are
// deduplicated on normalized label; every distinct pair gets one
// co-occurs-with edge, and relatedLabels become reinforces edges.
func buildBatch(source event.SourceType, candidates []Candidate) ([]graph.CandidateNode, []graph.CandidateEdge) {
	type entry struct {
		kind  graph.NodeKind
		label string
	}
	var order []entry
	seen := make(map[string]struct{})

	for _, c := range candidates {
		kind := graph.NodeKind(c.Kind)
		norm := graph.NormalizeLabel(c.Label)
		if !kind.Valid() || norm == "" {
			continue
		}
		key := string(kind) + "\x00" + norm
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		order = append(order, entry{kind: kind, label: c.Label})
	}
	if len(order) == 0 {
		return nil, nil
	}

	nodes := make([]graph.CandidateNode, 0, len(order))
	for _, e := range order {
		nodes = append(nodes, graph.CandidateNode{
			Kind:       e.kind,
			Label:      e.label,
			SourceType: source,
		})
	}

	var edges []graph.CandidateEdge
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			edges = append(edges, graph.CandidateEdge{
				FromKind:  order[i].kind,
				FromLabel: order[i].label,
				ToKind:    order[j].kind,
				ToLabel:   order[j].label,
				Relation:  graph.RelationCoOccursWith,
			})
		}
	}

	for _, c := range candidates {
		kind := graph.NodeKind(c.Kind)
		norm := graph.NormalizeLabel(c.Label)
		if !kind.Valid() || norm == "" {
			continue
		}
		for _, related := range c.RelatedLabels {
			if graph.NormalizeLabel(related) == "" || graph.NormalizeLabel(related) == norm {
				continue
			}
			// Kind of the related endpoint is left for the merge
			// engine to resolve by label.
			edges = append(edges, graph.CandidateEdge{
				FromKind:  kind,
				FromLabel: c.Label,
				ToLabel:   related,
				Relation:  graph.RelationReinforces,
			})
		}
	}

	return nodes, edges
}
