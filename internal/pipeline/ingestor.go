// Package pipeline wires the fire-and-forget ingestion path: envelope
// validation happens synchronously so callers see malformed input, then
// extraction and merge run on a bounded worker pool. Downstream
// failures are logged, never surfaced to the event producer.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/creative-memory-graph/internal/event"
	"github.com/creative-memory-graph/internal/extract"
	"github.com/creative-memory-graph/internal/graph"
	"github.com/creative-memory-graph/internal/search"
)

const (
	// DefaultWorkers is the size of the ingestion worker pool.
	DefaultWorkers = 4

	// DefaultQueueSize bounds the pending-event buffer. A full queue
	// drops the event rather than blocking the producer.
	DefaultQueueSize = 1024

	// DefaultDedupeTTL is how long an event fingerprint short-circuits
	// duplicate deliveries. Merge idempotence owns correctness; this
	// only saves the extraction cost of obvious retries.
	DefaultDedupeTTL = 2 * time.Minute

	dedupeCapacity = 4096
)

// Ingestor runs the normalize, extract, merge, index pipeline.
type Ingestor struct {
	extractor *extract.Extractor
	merger    *graph.Merger
	index     *search.LabelIndex
	logger    *zap.Logger

	queue  chan *event.Event
	dedupe *lru.LRU[string, struct{}]

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	workers   int
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) IngestorOption {
	return func(in *Ingestor) {
		if n > 0 {
			in.workers = n
		}
	}
}

// WithQueueSize sets the pending-event buffer size.
func WithQueueSize(n int) IngestorOption {
	return func(in *Ingestor) {
		if n > 0 {
			in.queue = make(chan *event.Event, n)
		}
	}
}

// WithDedupeTTL sets how long duplicate deliveries are short-circuited.
func WithDedupeTTL(ttl time.Duration) IngestorOption {
	return func(in *Ingestor) {
		if ttl > 0 {
			in.dedupe = lru.NewLRU[string, struct{}](dedupeCapacity, nil, ttl)
		}
	}
}

// NewIngestor creates the pipeline. The search index is optional; a nil
// index skips label indexing.
func NewIngestor(extractor *extract.Extractor, merger *graph.Merger, index *search.LabelIndex, logger *zap.Logger, opts ...IngestorOption) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	in := &Ingestor{
		extractor: extractor,
		merger:    merger,
		index:     index,
		logger:    logger.Named("ingest"),
		queue:     make(chan *event.Event, DefaultQueueSize),
		dedupe:    lru.NewLRU[string, struct{}](dedupeCapacity, nil, DefaultDedupeTTL),
		workers:   DefaultWorkers,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// Stop closes the queue.
func (in *Ingestor) Start(ctx context.Context) {
	in.startOnce.Do(func() {
		for i := 0; i < in.workers; i++ {
			in.wg.Add(1)
			go in.worker(ctx)
		}
		in.logger.Info("ingestion workers started", zap.Int("workers", in.workers))
	})
}

// Stop closes the intake and waits for in-flight events to drain.
func (in *Ingestor) Stop() {
	in.stopOnce.Do(func() {
		close(in.queue)
	})
	in.wg.Wait()
}

// Enqueue validates raw synchronously and hands the event to the pool.
// The returned error is only ever a validation failure; downstream
// processing is fire-and-forget.
func (in *Ingestor) Enqueue(raw event.RawEvent) error {
	ev, err := event.Normalize(raw)
	if err != nil {
		return err
	}

	fp := fingerprint(ev)
	if _, seen := in.dedupe.Get(fp); seen {
		in.logger.Debug("dropping duplicate event",
			zap.String("user_id", ev.UserID),
			zap.String("source_type", string(ev.SourceType)))
		return nil
	}
	in.dedupe.Add(fp, struct{}{})

	select {
	case in.queue <- ev:
	default:
		in.logger.Warn("ingestion queue full, dropping event",
			zap.String("user_id", ev.UserID),
			zap.String("source_type", string(ev.SourceType)))
	}
	return nil
}

func (in *Ingestor) worker(ctx context.Context) {
	defer in.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in.queue:
			if !ok {
				return
			}
			in.process(ctx, ev)
		}
	}
}

func (in *Ingestor) process(ctx context.Context, ev *event.Event) {
	nodes, edges := in.extractor.Extract(ctx, ev)
	if len(nodes) == 0 {
		return
	}

	result, err := in.merger.Merge(ctx, ev.UserID, ev.Timestamp, nodes, edges)
	if err != nil {
		in.logger.Error("merge failed",
			zap.String("user_id", ev.UserID),
			zap.String("source_type", string(ev.SourceType)),
			zap.Error(err))
		return
	}

	if in.index != nil && len(result.NewNodes) > 0 {
		if err := in.index.IndexNodes(ctx, result.NewNodes); err != nil {
			in.logger.Warn("label indexing failed",
				zap.String("user_id", ev.UserID),
				zap.Error(err))
		}
	}

	in.logger.Debug("event processed",
		zap.String("user_id", ev.UserID),
		zap.String("source_type", string(ev.SourceType)),
		zap.Int("new_nodes", len(result.NewNodes)),
		zap.Int("reinforced_nodes", len(result.ReinforcedNodes)),
		zap.Int("dropped", result.Dropped))
}

// fingerprint identifies one delivery of one event for dedupe purposes.
func fingerprint(ev *event.Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", ev.UserID, ev.SourceType, ev.Timestamp.UnixMilli(), ev.Text)
	return hex.EncodeToString(h.Sum(nil))
}
