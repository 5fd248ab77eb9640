//go:build cgo

package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSerializeFloat32RoundTrip(t *testing.T) {
	v := []float32{0, 1, -1, 3.1415927, 1e-38, 65504}
	if diff := cmp.Diff(v, deserializeFloat32(serializeFloat32(v))); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestVectorIndexSearch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), EmbeddingsFile)
	vectors := map[string][]float32{
		"east":  {1, 0, 0, 0},
		"north": {0, 1, 0, 0},
		"ne":    {0.7, 0.7, 0, 0},
		"up":    {0, 0, 1, 0},
	}
	ids := []string{"east", "north", "ne", "up"}
	if err := writeEmbeddings(ctx, path, 4, ids, vectors); err != nil {
		t.Fatalf("writeEmbeddings: %v", err)
	}

	idx, err := OpenVectorIndex(ctx, path)
	if err != nil {
		t.Fatalf("OpenVectorIndex: %v", err)
	}
	defer idx.Close()

	if idx.Dim() != 4 {
		t.Errorf("dim = %d, want 4", idx.Dim())
	}

	matches, err := idx.Search(ctx, []float32{0.9, 0.1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].NodeID != "east" || matches[1].NodeID != "ne" {
		t.Errorf("matches = %+v, want east then ne", matches)
	}
	if matches[0].Score < matches[1].Score {
		t.Errorf("scores not descending: %+v", matches)
	}

	if _, err := idx.Search(ctx, []float32{1, 0}, 2); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestReadEmbeddingsRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), EmbeddingsFile)
	if err := writeEmbeddings(ctx, path, 2, []string{"a"}, map[string][]float32{"a": {1, 2}}); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("INSERT INTO schema_version (version, description) VALUES (?, 'from the future')", latestVersion()+1); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := readEmbeddings(ctx, path); !errors.Is(err, ErrSchemaVersion) {
		t.Errorf("expected ErrSchemaVersion, got %v", err)
	}
}

func TestReadEmbeddingsDetectsTruncation(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), EmbeddingsFile)
	vectors := map[string][]float32{"a": {1, 2}, "b": {3, 4}}
	if err := writeEmbeddings(ctx, path, 2, []string{"a", "b"}, vectors); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("DELETE FROM embeddings WHERE node_id = 'b'"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := readEmbeddings(ctx, path); !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("expected ErrCorruptSnapshot, got %v", err)
	}
}

func TestMigrationsRecordVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), EmbeddingsFile)
	if err := writeEmbeddings(ctx, path, 2, nil, nil); err != nil {
		t.Fatal(err)
	}
	db, err := openSQLite(path, true)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	v, err := schemaVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != latestVersion() {
		t.Errorf("schema version = %d, want %d", v, latestVersion())
	}
}
