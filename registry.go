package hipporeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/brunobiangulo/hipporeg/graph"
	"github.com/brunobiangulo/hipporeg/store"
)

// partitionState is an immutable view of a jurisdiction. Ingestion builds
// a new state and swaps it in; readers never see a half-applied batch.
type partitionState struct {
	graph    *graph.Graph
	manifest store.Manifest
	index    *store.VectorIndex // nil without stored embeddings
	err      error              // load failure; graph is nil when set
}

// Partition is one jurisdiction's graph snapshot.
type Partition struct {
	key      string
	state    atomic.Pointer[partitionState]
	ingestMu sync.Mutex
}

// Graph returns the current snapshot, which must be treated as read-only.
func (p *Partition) Graph() *graph.Graph { return p.state.Load().graph }

// Manifest returns the sources ingested into the current snapshot.
func (p *Partition) Manifest() store.Manifest { return p.state.Load().manifest }

// Err returns the load failure of an unavailable partition.
func (p *Partition) Err() error { return p.state.Load().err }

func (p *Partition) current() *partitionState { return p.state.Load() }

// swap installs next and closes the index it replaces. A search already
// running on the old index finishes; see Service.seedsFromIndex.
func (p *Partition) swap(next *partitionState) {
	prev := p.state.Swap(next)
	if prev != nil && prev.index != nil && prev.index != next.index {
		if err := prev.index.Close(); err != nil {
			slog.Warn("registry: closing vector index", "jurisdiction", p.key, "error", err)
		}
	}
	if next.graph != nil {
		graphNodes.WithLabelValues(p.key).Set(float64(next.graph.Len()))
		graphEdges.WithLabelValues(p.key).Set(float64(next.graph.EdgeCount()))
	}
}

// Registry owns the partitions of every jurisdiction. With no configured
// keys any valid key is accepted and created on first use.
type Registry struct {
	store      *store.Store
	configured []string

	mu    sync.RWMutex
	parts map[string]*Partition
	loads singleflight.Group
}

// NewRegistry creates a registry over st. jurisdictions must already be
// normalized (see Config.Validate).
func NewRegistry(st *store.Store, jurisdictions []string) *Registry {
	return &Registry{
		store:      st,
		configured: slices.Clone(jurisdictions),
		parts:      make(map[string]*Partition),
	}
}

// Keys returns the served jurisdictions: the configured list, or every
// loaded or persisted partition when none is configured.
func (r *Registry) Keys() []string {
	if len(r.configured) > 0 {
		return slices.Clone(r.configured)
	}
	keys, err := r.store.List()
	if err != nil {
		slog.Warn("registry: listing snapshots", "error", err)
	}
	r.mu.RLock()
	for k := range r.parts {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	slices.Sort(keys)
	return slices.Compact(keys)
}

// LoadAll loads every configured jurisdiction in parallel. A corrupt
// snapshot marks its partition unavailable and does not fail the others;
// only context cancellation is returned.
func (r *Registry) LoadAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range r.configured {
		g.Go(func() error {
			p, err := r.load(gctx, key)
			if err != nil {
				return err
			}
			if perr := p.Err(); perr != nil {
				slog.Error("registry: jurisdiction unavailable", "jurisdiction", key, "error", perr)
			}
			return nil
		})
	}
	return g.Wait()
}

// Get returns the partition for jurisdiction, loading it on first use.
// Concurrent first uses share one load.
func (r *Registry) Get(ctx context.Context, jurisdiction string) (*Partition, error) {
	p, err := r.partition(ctx, jurisdiction)
	if err != nil {
		return nil, err
	}
	if perr := p.Err(); perr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrJurisdictionUnavailable, p.key, perr)
	}
	return p, nil
}

// partition is Get without the availability check.
func (r *Registry) partition(ctx context.Context, jurisdiction string) (*Partition, error) {
	key := normalizeJurisdiction(jurisdiction)
	if !r.known(key) {
		return nil, fmt.Errorf("%w: %q", ErrJurisdictionUnknown, jurisdiction)
	}
	r.mu.RLock()
	p, ok := r.parts[key]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	return r.load(ctx, key)
}

func (r *Registry) loaded(key string) (*Partition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parts[key]
	return p, ok
}

func (r *Registry) known(key string) bool {
	if len(r.configured) == 0 {
		return validJurisdiction(key)
	}
	return slices.Contains(r.configured, key)
}

func (r *Registry) load(ctx context.Context, key string) (*Partition, error) {
	v, err, _ := r.loads.Do(key, func() (any, error) {
		r.mu.RLock()
		p, ok := r.parts[key]
		r.mu.RUnlock()
		if ok {
			return p, nil
		}

		ctx, span := tracer.Start(ctx, "hipporeg.load")
		defer span.End()
		span.SetAttributes(attrJurisdiction(key))

		st, err := r.readState(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			recordSpanError(span, err)
			st = &partitionState{err: err}
		}
		p = &Partition{key: key}
		p.swap(st)

		r.mu.Lock()
		r.parts[key] = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Partition), nil
}

// readState loads a snapshot and opens its vector index. A missing
// snapshot is an empty graph.
func (r *Registry) readState(ctx context.Context, key string) (*partitionState, error) {
	snap, err := r.store.Load(ctx, key)
	if errors.Is(err, store.ErrSnapshotNotFound) {
		slog.Info("registry: no snapshot, starting empty", "jurisdiction", key)
		return &partitionState{graph: graph.New()}, nil
	}
	if err != nil {
		return nil, err
	}
	st := &partitionState{graph: snap.Graph, manifest: snap.Manifest}
	if st.index, err = r.openIndex(ctx, key); err != nil {
		return nil, err
	}
	return st, nil
}

func (r *Registry) openIndex(ctx context.Context, key string) (*store.VectorIndex, error) {
	if !r.store.HasEmbeddings(key) {
		return nil, nil
	}
	idx, err := store.OpenVectorIndex(ctx, r.store.EmbeddingsPath(key))
	if err != nil {
		return nil, fmt.Errorf("opening vector index: %w", err)
	}
	return idx, nil
}

// Close releases every partition's vector index.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, p := range r.parts {
		if st := p.current(); st != nil && st.index != nil {
			errs = append(errs, st.index.Close())
		}
	}
	clear(r.parts)
	return errors.Join(errs...)
}
