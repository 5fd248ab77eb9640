// Package hipporeg serves HippoRAG-style retrieval over per-jurisdiction
// regulatory knowledge graphs: candidate seeds from a vector index are
// propagated with personalized PageRank and the best clauses returned.
package hipporeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brunobiangulo/hipporeg/graph"
	"github.com/brunobiangulo/hipporeg/retrieval"
	"github.com/brunobiangulo/hipporeg/store"
)

var tracer = otel.Tracer("github.com/brunobiangulo/hipporeg")

const maxIndexRetries = 3

// RetrieveRequest is one query against a jurisdiction. CandidateSeedIDs
// come from an external vector search; when empty, QueryEmbedding is
// matched against the jurisdiction's stored embeddings instead.
type RetrieveRequest struct {
	QueryEmbedding   []float32 `json:"query_embedding,omitempty"`
	CandidateSeedIDs []string  `json:"candidate_seed_ids,omitempty"`
	TopK             int       `json:"top_k,omitempty"`
	Damping          float64   `json:"damping,omitempty"`
}

// IngestResult reports the outcome of one ingestion batch.
type IngestResult struct {
	Jurisdiction string             `json:"jurisdiction"`
	Source       string             `json:"source"`
	BatchID      string             `json:"batch_id,omitempty"`
	ContentHash  string             `json:"content_hash"`
	Skipped      bool               `json:"skipped"`
	Report       *graph.BuildReport `json:"report,omitempty"`
	Nodes        int                `json:"nodes"`
	Edges        int                `json:"edges"`
}

// Stats describes a jurisdiction's graph.
type Stats struct {
	Jurisdiction string `json:"jurisdiction"`
	graph.Stats
	Sources int  `json:"sources"`
	Indexed bool `json:"indexed"`
}

// JurisdictionStatus is one entry of Service.Jurisdictions.
type JurisdictionStatus struct {
	Key       string `json:"key"`
	Loaded    bool   `json:"loaded"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
	Nodes     int    `json:"nodes"`
	Edges     int    `json:"edges"`
}

// IngestOption configures ingestion behavior.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	rebuild bool
}

// WithRebuild discards the jurisdiction's current graph and manifest and
// builds a fresh snapshot from the batch alone. It also recovers a
// partition whose snapshot failed to load.
func WithRebuild() IngestOption {
	return func(o *ingestOptions) { o.rebuild = true }
}

// Service is the main entry point: a registry of jurisdiction graphs plus
// the retrieval engine and graph builder that operate on them.
type Service struct {
	cfg       Config
	store     *store.Store
	registry  *Registry
	retriever *retrieval.Engine
	builder   *graph.Builder
}

// New validates cfg and opens the data directory. Partitions load lazily;
// call LoadAll to load the configured ones up front.
func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return &Service{
		cfg:       cfg,
		store:     st,
		registry:  NewRegistry(st, cfg.Jurisdictions),
		retriever: retrieval.New(cfg.retrievalConfig()),
		builder:   graph.NewBuilder(cfg.weightPolicy(), cfg.similarityOptions()),
	}, nil
}

// Config returns the validated configuration.
func (s *Service) Config() Config { return s.cfg }

// Registry returns the jurisdiction registry.
func (s *Service) Registry() *Registry { return s.registry }

// LoadAll loads every configured jurisdiction in parallel.
func (s *Service) LoadAll(ctx context.Context) error {
	return s.registry.LoadAll(ctx)
}

// Retrieve runs one query against jurisdiction.
func (s *Service) Retrieve(ctx context.Context, jurisdiction string, req RetrieveRequest) (*retrieval.Response, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "hipporeg.retrieve")
	defer span.End()
	span.SetAttributes(attrJurisdiction(jurisdiction))

	resp, err := s.retrieve(ctx, jurisdiction, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	key := normalizeJurisdiction(jurisdiction)
	t := resp.Trace
	seedCandidates.WithLabelValues(key).Add(float64(t.SeedsRequested))
	seedMissing.WithLabelValues(key).Add(float64(t.SeedsMissing))
	pprOutcomes.WithLabelValues(key, string(t.Outcome)).Inc()
	retrieveDuration.WithLabelValues(key).Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Int("hipporeg.seeds_requested", t.SeedsRequested),
		attribute.Int("hipporeg.seeds_missing", t.SeedsMissing),
		attribute.String("hipporeg.outcome", string(t.Outcome)),
		attribute.Int("hipporeg.iterations", t.Iterations),
		attribute.Int("hipporeg.results", len(resp.Results)),
	)
	return resp, nil
}

func (s *Service) retrieve(ctx context.Context, jurisdiction string, req RetrieveRequest) (*retrieval.Response, error) {
	if req.Damping != 0 && !validDamping(req.Damping) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidDamping, req.Damping)
	}
	if req.TopK < 0 {
		return nil, fmt.Errorf("%w: top_k must not be negative", ErrInvalidRequest)
	}
	p, err := s.registry.Get(ctx, jurisdiction)
	if err != nil {
		return nil, err
	}

	st := p.current()
	seeds := req.CandidateSeedIDs
	if len(seeds) == 0 && len(req.QueryEmbedding) > 0 {
		if seeds, st, err = s.seedsFromIndex(ctx, p, st, req.QueryEmbedding); err != nil {
			return nil, err
		}
	}

	resp, err := s.retriever.Retrieve(ctx, st.graph, retrieval.Request{
		SeedIDs: seeds,
		TopK:    req.TopK,
		Damping: req.Damping,
	})
	if errors.Is(err, retrieval.ErrNoValidSeeds) {
		return nil, fmt.Errorf("%w: %s: %v", ErrSeedsDesynchronized, p.key, err)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// seedsFromIndex runs a KNN search over the partition's stored embeddings.
// If an ingestion swapped the index out during the search, it retries on
// the new state so seeds and graph come from the same snapshot.
func (s *Service) seedsFromIndex(ctx context.Context, p *Partition, st *partitionState, query []float32) ([]string, *partitionState, error) {
	for attempt := 0; ; attempt++ {
		if st.index == nil {
			slog.Debug("hipporeg: no vector index, retrieving without seeds", "jurisdiction", p.key)
			return nil, st, nil
		}
		if len(query) != st.index.Dim() {
			return nil, st, fmt.Errorf("%w: query embedding has dimension %d, index has %d",
				ErrInvalidRequest, len(query), st.index.Dim())
		}
		matches, err := st.index.Search(ctx, query, s.cfg.Retrieval.SeedCount)
		if err != nil {
			if next := p.current(); next != st && attempt < maxIndexRetries {
				st = next
				continue
			}
			return nil, st, fmt.Errorf("searching vector index: %w", err)
		}
		seeds := make([]string, len(matches))
		for i, m := range matches {
			seeds[i] = m.NodeID
		}
		return seeds, st, nil
	}
}

// Ingest applies batch to jurisdiction and persists the result. A source
// already in the manifest with the same content hash is skipped; with a
// different hash it fails with ErrSourceConflict unless WithRebuild is
// given. Queries keep reading the previous snapshot until the new one is
// saved.
func (s *Service) Ingest(ctx context.Context, jurisdiction string, batch graph.Batch, opts ...IngestOption) (*IngestResult, error) {
	var o ingestOptions
	for _, fn := range opts {
		fn(&o)
	}

	ctx, span := tracer.Start(ctx, "hipporeg.ingest")
	defer span.End()
	span.SetAttributes(
		attrJurisdiction(jurisdiction),
		attribute.String("hipporeg.source", batch.Source),
		attribute.Bool("hipporeg.rebuild", o.rebuild),
	)

	res, result, err := s.ingest(ctx, jurisdiction, batch, o)
	key := normalizeJurisdiction(jurisdiction)
	if result != "" {
		ingestBatches.WithLabelValues(key, result).Inc()
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return res, nil
}

func (s *Service) ingest(ctx context.Context, jurisdiction string, batch graph.Batch, o ingestOptions) (*IngestResult, string, error) {
	if batch.Source == "" {
		return nil, "", fmt.Errorf("%w: source is required", graph.ErrInvalidBatch)
	}
	p, err := s.registry.partition(ctx, jurisdiction)
	if err != nil {
		return nil, "", err
	}

	p.ingestMu.Lock()
	defer p.ingestMu.Unlock()

	cur := p.current()
	if cur.err != nil && !o.rebuild {
		return nil, "", fmt.Errorf("%w: %s: %v", ErrJurisdictionUnavailable, p.key, cur.err)
	}

	hash := batch.ContentHash()
	res := &IngestResult{Jurisdiction: p.key, Source: batch.Source, ContentHash: hash}

	base, manifest := graph.New(), store.Manifest(nil)
	if !o.rebuild {
		if prev, ok := cur.manifest.Lookup(batch.Source); ok {
			if prev.ContentHash == hash {
				slog.Info("hipporeg: batch already ingested, skipping",
					"jurisdiction", p.key, "source", batch.Source, "batch_id", prev.BatchID)
				res.BatchID = prev.BatchID
				res.Skipped = true
				res.Nodes, res.Edges = cur.graph.Len(), cur.graph.EdgeCount()
				return res, ingestSkipped, nil
			}
			return nil, ingestConflict, fmt.Errorf("%w: %s in %s", ErrSourceConflict, batch.Source, p.key)
		}
		base, manifest = cur.graph.Clone(), slices.Clone(cur.manifest)
	}

	report, err := s.builder.Apply(base, batch)
	if err != nil {
		return nil, ingestFailed, err
	}

	entry := store.NewManifestEntry(batch.Source, hash, report.Clauses, report.Edges())
	snap := &store.Snapshot{
		Jurisdiction: p.key,
		Graph:        base,
		Manifest:     append(manifest, entry),
	}
	if err := s.store.Save(ctx, snap); err != nil {
		return nil, ingestFailed, fmt.Errorf("saving snapshot: %w", err)
	}

	idx, err := s.registry.openIndex(ctx, p.key)
	if err != nil {
		return nil, ingestFailed, err
	}
	p.swap(&partitionState{graph: base, manifest: snap.Manifest, index: idx})

	res.BatchID = entry.BatchID
	res.Report = report
	res.Nodes, res.Edges = base.Len(), base.EdgeCount()
	return res, ingestApplied, nil
}

// Stats returns the statistics of jurisdiction's graph.
func (s *Service) Stats(ctx context.Context, jurisdiction string) (*Stats, error) {
	p, err := s.registry.Get(ctx, jurisdiction)
	if err != nil {
		return nil, err
	}
	st := p.current()
	return &Stats{
		Jurisdiction: p.key,
		Stats:        st.graph.Stats(),
		Sources:      len(st.manifest),
		Indexed:      st.index != nil,
	}, nil
}

// Graph returns every node and edge of jurisdiction in insertion order.
func (s *Service) Graph(ctx context.Context, jurisdiction string) (graph.Export, error) {
	p, err := s.registry.Get(ctx, jurisdiction)
	if err != nil {
		return graph.Export{}, err
	}
	return p.Graph().Export(), nil
}

// Jurisdictions reports every served jurisdiction. Partitions not loaded
// yet are listed without loading them.
func (s *Service) Jurisdictions() []JurisdictionStatus {
	keys := s.registry.Keys()
	out := make([]JurisdictionStatus, 0, len(keys))
	for _, key := range keys {
		js := JurisdictionStatus{Key: key}
		if p, ok := s.registry.loaded(key); ok {
			st := p.current()
			js.Loaded = true
			js.Available = st.err == nil
			if st.err != nil {
				js.Error = st.err.Error()
			} else {
				js.Nodes, js.Edges = st.graph.Len(), st.graph.EdgeCount()
			}
		}
		out = append(out, js)
	}
	return out
}

// Close releases the open vector indexes.
func (s *Service) Close() error {
	return s.registry.Close()
}

func attrJurisdiction(j string) attribute.KeyValue {
	return attribute.String("hipporeg.jurisdiction", normalizeJurisdiction(j))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
