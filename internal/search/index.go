// Package search provides fuzzy label lookup over the memory graph
// using Bleve. It answers "have I seen a concept like this" queries
// without a graph scan.
package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/creative-memory-graph/internal/graph"
)

// Config holds configuration for the label index.
type Config struct {
	IndexPath string  // path of the persistent index
	InMemory  bool    // memory-only index for tests and ephemeral runs
	Fuzziness int     // Levenshtein distance for fuzzy matching
	Threshold float64 // minimum hit score to return
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		IndexPath: "./data/labels.bleve",
		InMemory:  false,
		Fuzziness: 2,
	}
}

// labelDoc is the indexed shape of a memory node.
type labelDoc struct {
	UserID string `json:"user_id"`
	Label  string `json:"label"`
	Kind   string `json:"kind"`
}

// Hit is a single label search result.
type Hit struct {
	NodeID string  `json:"node_id"`
	Label  string  `json:"label"`
	Kind   string  `json:"kind"`
	Score  float64 `json:"score"`
}

// LabelIndex is a per-user fuzzy index over node labels.
type LabelIndex struct {
	index  bleve.Index
	config Config
	logger *zap.Logger
	mu     sync.Mutex
}

// NewLabelIndex opens or creates the index.
func NewLabelIndex(cfg Config, logger *zap.Logger) (*LabelIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	li := &LabelIndex{config: cfg, logger: logger}

	var err error
	if cfg.InMemory {
		li.index, err = bleve.NewMemOnly(buildMapping())
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.IndexPath), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		index, openErr := bleve.Open(cfg.IndexPath)
		if openErr == bleve.ErrorIndexPathDoesNotExist {
			index, openErr = bleve.New(cfg.IndexPath, buildMapping())
		}
		li.index, err = index, openErr
	}
	if err != nil {
		return nil, fmt.Errorf("open label index: %w", err)
	}

	logger.Info("label index ready",
		zap.String("path", cfg.IndexPath),
		zap.Bool("in_memory", cfg.InMemory))
	return li, nil
}

func buildMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	labelField := bleve.NewTextFieldMapping()
	labelField.Store = true
	labelField.IncludeTermVectors = true
	doc.AddFieldMappingsAt("label", labelField)

	userField := bleve.NewTextFieldMapping()
	userField.Store = true
	userField.IncludeInAll = false
	doc.AddFieldMappingsAt("user_id", userField)

	kindField := bleve.NewTextFieldMapping()
	kindField.Store = true
	kindField.IncludeInAll = false
	doc.AddFieldMappingsAt("kind", kindField)

	im := bleve.NewIndexMapping()
	im.AddDocumentMapping("label", doc)
	im.DefaultAnalyzer = "standard"
	return im
}

// IndexNodes adds or updates nodes in a single batch.
func (li *LabelIndex) IndexNodes(ctx context.Context, nodes []*graph.MemoryNode) error {
	if len(nodes) == 0 {
		return nil
	}

	li.mu.Lock()
	defer li.mu.Unlock()

	batch := li.index.NewBatch()
	for _, n := range nodes {
		doc := labelDoc{UserID: n.UserID, Label: n.Label, Kind: string(n.Kind)}
		if err := batch.Index(n.ID, doc); err != nil {
			li.logger.Warn("failed to add node to index batch",
				zap.String("node_id", n.ID),
				zap.Error(err))
		}
	}
	if err := li.index.Batch(batch); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}

	li.logger.Debug("indexed node labels", zap.Int("count", len(nodes)))
	return nil
}

// Search runs a fuzzy label query scoped to one user.
func (li *LabelIndex) Search(ctx context.Context, userID, term string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	fuzzy := query.NewFuzzyQuery(term)
	fuzzy.SetField("label")
	fuzzy.SetFuzziness(li.config.Fuzziness)

	userQuery := query.NewTermQuery(userID)
	userQuery.SetField("user_id")

	req := bleve.NewSearchRequest(query.NewConjunctionQuery([]query.Query{fuzzy, userQuery}))
	req.Size = limit
	req.Fields = []string{"label", "kind", "user_id"}

	result, err := li.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("label search: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		if li.config.Threshold > 0 && h.Score < li.config.Threshold {
			continue
		}
		hit := Hit{NodeID: h.ID, Score: h.Score}
		if h.Fields != nil {
			if s, ok := h.Fields["label"].(string); ok {
				hit.Label = s
			}
			if s, ok := h.Fields["kind"].(string); ok {
				hit.Kind = s
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteUser removes every document belonging to userID. Part of the
// erasure cascade.
func (li *LabelIndex) DeleteUser(ctx context.Context, userID string) error {
	li.mu.Lock()
	defer li.mu.Unlock()

	userQuery := query.NewTermQuery(userID)
	userQuery.SetField("user_id")

	// Page through doc IDs; deletion shrinks the result set each pass.
	for {
		req := bleve.NewSearchRequest(userQuery)
		req.Size = 500

		result, err := li.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("enumerate user docs: %w", err)
		}
		if len(result.Hits) == 0 {
			return nil
		}

		batch := li.index.NewBatch()
		for _, h := range result.Hits {
			batch.Delete(h.ID)
		}
		if err := li.index.Batch(batch); err != nil {
			return fmt.Errorf("delete user docs: %w", err)
		}
	}
}

// Close releases index resources.
func (li *LabelIndex) Close() error {
	return li.index.Close()
}
