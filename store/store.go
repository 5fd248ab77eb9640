package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/hipporeg/graph"
)

// Snapshot file names inside a jurisdiction directory.
const (
	TopologyFile   = "graph.json"
	EmbeddingsFile = "embeddings.db"
)

// SchemaVersion is the topology document version written by this build.
const SchemaVersion = 1

var (
	// ErrSnapshotNotFound is returned when a jurisdiction has no topology
	// document yet.
	ErrSnapshotNotFound = errors.New("store: snapshot not found")
	// ErrCorruptSnapshot is returned for malformed topology documents,
	// unreadable embedding containers and embedding/topology mismatches.
	ErrCorruptSnapshot = errors.New("store: corrupt snapshot")
	// ErrSchemaVersion is returned for snapshots written with a schema this
	// build does not know. They need a migration, not a coercing load.
	ErrSchemaVersion = errors.New("store: unsupported schema version")
)

// ManifestEntry records one ingested source.
type ManifestEntry struct {
	Source      string    `json:"source"`
	BatchID     string    `json:"batch_id"`
	ContentHash string    `json:"content_hash"`
	IngestedAt  time.Time `json:"ingested_at"`
	Clauses     int       `json:"clauses"`
	Edges       int       `json:"edges"`
}

// NewManifestEntry stamps a new entry with a fresh batch id.
func NewManifestEntry(source, contentHash string, clauses, edges int) ManifestEntry {
	return ManifestEntry{
		Source:      source,
		BatchID:     uuid.NewString(),
		ContentHash: contentHash,
		IngestedAt:  time.Now().UTC(),
		Clauses:     clauses,
		Edges:       edges,
	}
}

// Manifest lists the sources ingested into a snapshot in ingestion order.
type Manifest []ManifestEntry

// Lookup returns the entry for source.
func (m Manifest) Lookup(source string) (ManifestEntry, bool) {
	for _, e := range m {
		if e.Source == source {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// Snapshot is a jurisdiction's graph together with its ingestion history.
type Snapshot struct {
	Jurisdiction string
	Graph        *graph.Graph
	Manifest     Manifest
	SavedAt      time.Time
}

// nodeRecord is the persisted form of a graph node.
type nodeRecord struct {
	ID              string                `json:"id"`
	Type            graph.NodeKind        `json:"type"`
	Text            string                `json:"text,omitempty"`
	Section         string                `json:"section,omitempty"`
	ClauseNumber    string                `json:"clause_number,omitempty"`
	RequirementType graph.RequirementType `json:"requirement_type,omitempty"`
	Severity        graph.Severity        `json:"severity,omitempty"`
}

// topology is the graph.json document.
type topology struct {
	SchemaVersion int          `json:"schema_version"`
	Jurisdiction  string       `json:"jurisdiction"`
	SavedAt       time.Time    `json:"saved_at"`
	Manifest      Manifest     `json:"manifest"`
	Nodes         []nodeRecord `json:"nodes"`
	Edges         []graph.Edge `json:"edges"`
}

// Store persists jurisdiction snapshots under a root directory, one
// sub-directory per jurisdiction.
type Store struct {
	root string
}

// New returns a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the data directory.
func (s *Store) Root() string { return s.root }

// Dir returns the snapshot directory of a jurisdiction.
func (s *Store) Dir(jurisdiction string) string {
	return filepath.Join(s.root, jurisdiction)
}

// EmbeddingsPath returns the embedding container path of a jurisdiction.
func (s *Store) EmbeddingsPath(jurisdiction string) string {
	return filepath.Join(s.Dir(jurisdiction), EmbeddingsFile)
}

// HasEmbeddings reports whether the jurisdiction has an embedding
// container on disk.
func (s *Store) HasEmbeddings(jurisdiction string) bool {
	_, err := os.Stat(s.EmbeddingsPath(jurisdiction))
	return err == nil
}

// List returns the jurisdictions that have a topology on disk, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing data directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), TopologyFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// Save writes snap to its jurisdiction directory. Both files are written
// to temporary names and renamed into place, topology first. An existing
// container holding ids the new topology lacks (after a rebuild) is
// removed before the topology rename, so an interrupted save always
// leaves a loadable snapshot.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	dir := s.Dir(snap.Jurisdiction)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	doc := topology{
		SchemaVersion: SchemaVersion,
		Jurisdiction:  snap.Jurisdiction,
		SavedAt:       snap.SavedAt,
		Manifest:      snap.Manifest,
		Nodes:         []nodeRecord{},
		Edges:         snap.Graph.Edges(),
	}
	if doc.Manifest == nil {
		doc.Manifest = Manifest{}
	}

	var ids []string
	present := make(map[string]bool)
	vectors := make(map[string][]float32)
	dim := 0
	for _, n := range snap.Graph.Nodes() {
		rec := nodeRecord{ID: n.ID, Type: n.Kind}
		if n.IsClause() {
			rec.Text = n.Clause.Text
			rec.Section = n.Clause.Section
			rec.ClauseNumber = n.Clause.ClauseNumber
			rec.RequirementType = n.Clause.RequirementType
			rec.Severity = n.Clause.Severity
		}
		doc.Nodes = append(doc.Nodes, rec)
		present[n.ID] = true

		if len(n.Embedding) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(n.Embedding)
		} else if len(n.Embedding) != dim {
			return fmt.Errorf("store: embedding %q has dimension %d, want %d", n.ID, len(n.Embedding), dim)
		}
		ids = append(ids, n.ID)
		vectors[n.ID] = n.Embedding
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding topology: %w", err)
	}

	topoTmp, err := writeTemp(dir, TopologyFile, data)
	if err != nil {
		return err
	}
	defer os.Remove(topoTmp)

	embPath := filepath.Join(dir, EmbeddingsFile)
	var embTmp string
	if len(ids) > 0 {
		embTmp = filepath.Join(dir, "."+EmbeddingsFile+"-"+uuid.NewString())
		defer os.Remove(embTmp)
		if err := writeEmbeddings(ctx, embTmp, dim, ids, vectors); err != nil {
			return fmt.Errorf("writing embeddings: %w", err)
		}
	}

	if err := dropStaleEmbeddings(ctx, embPath, present); err != nil {
		return err
	}
	if err := os.Rename(topoTmp, filepath.Join(dir, TopologyFile)); err != nil {
		return fmt.Errorf("replacing topology: %w", err)
	}
	if embTmp != "" {
		if err := os.Rename(embTmp, embPath); err != nil {
			return fmt.Errorf("replacing embeddings: %w", err)
		}
	} else if err := os.Remove(embPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing embeddings: %w", err)
	}

	slog.Info("store: snapshot saved",
		"jurisdiction", snap.Jurisdiction,
		"nodes", len(doc.Nodes),
		"edges", len(doc.Edges),
		"embeddings", len(ids))
	return nil
}

// dropStaleEmbeddings removes the container at path when it holds an id
// outside present, or cannot be read at all.
func dropStaleEmbeddings(ctx context.Context, path string, present map[string]bool) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	stale := false
	old, err := readEmbeddings(ctx, path)
	if err != nil {
		stale = true
	}
	for id := range old {
		if !present[id] {
			stale = true
			break
		}
	}
	if !stale {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale embeddings: %w", err)
	}
	return nil
}

// Load reads a jurisdiction's snapshot. A missing topology yields
// ErrSnapshotNotFound; a missing embedding container is not an error and
// yields a graph without embeddings.
func (s *Store) Load(ctx context.Context, jurisdiction string) (*Snapshot, error) {
	dir := s.Dir(jurisdiction)
	data, err := os.ReadFile(filepath.Join(dir, TopologyFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, jurisdiction)
	}
	if err != nil {
		return nil, fmt.Errorf("reading topology: %w", err)
	}

	snap, err := decodeTopology(data)
	if err != nil {
		return nil, err
	}
	if snap.Jurisdiction == "" {
		snap.Jurisdiction = jurisdiction
	}

	embPath := filepath.Join(dir, EmbeddingsFile)
	if _, err := os.Stat(embPath); err == nil {
		vectors, err := readEmbeddings(ctx, embPath)
		if err != nil {
			return nil, err
		}
		for id, vec := range vectors {
			if !snap.Graph.SetEmbedding(id, vec) {
				return nil, fmt.Errorf("%w: embedding for %q which is not in the topology", ErrCorruptSnapshot, id)
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("checking embeddings: %w", err)
	}

	slog.Info("store: snapshot loaded",
		"jurisdiction", jurisdiction,
		"nodes", snap.Graph.Len(),
		"edges", snap.Graph.EdgeCount(),
		"sources", len(snap.Manifest))
	return snap, nil
}

// decodeTopology parses a graph.json document. Edge endpoints must be
// listed as nodes; no placeholder is created while loading.
func decodeTopology(data []byte) (*Snapshot, error) {
	var header struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if header.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: topology schema %d, want %d", ErrSchemaVersion, header.SchemaVersion, SchemaVersion)
	}

	var doc topology
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	g := graph.New()
	for i, n := range doc.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node %d has an empty id", ErrCorruptSnapshot, i)
		}
		if g.Has(n.ID) {
			return nil, fmt.Errorf("%w: duplicate node %q", ErrCorruptSnapshot, n.ID)
		}
		switch n.Type {
		case graph.KindClause:
			g.AddNode(n.ID, graph.Clause{
				Text:            n.Text,
				Section:         n.Section,
				ClauseNumber:    n.ClauseNumber,
				RequirementType: n.RequirementType,
				Severity:        n.Severity,
			})
		default:
			g.AddPlaceholder(n.ID)
		}
	}
	for i, e := range doc.Edges {
		if !g.Has(e.Subject) || !g.Has(e.Object) {
			return nil, fmt.Errorf("%w: edge %d references an unknown node", ErrCorruptSnapshot, i)
		}
		if err := g.AddEdge(e); err != nil {
			return nil, fmt.Errorf("%w: edge %d: %v", ErrCorruptSnapshot, i, err)
		}
	}

	return &Snapshot{
		Jurisdiction: doc.Jurisdiction,
		Graph:        g,
		Manifest:     doc.Manifest,
		SavedAt:      doc.SavedAt,
	}, nil
}

// writeTemp writes data to a hidden temporary file next to name and
// returns its path.
func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+"-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("syncing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
