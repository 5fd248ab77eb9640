package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// openSQLite opens the container at path. The journal stays in the main
// file so the container can be renamed into place once closed.
func openSQLite(path string, readOnly bool) (*sql.DB, error) {
	dsn := "file:" + path + "?_journal_mode=DELETE&_busy_timeout=30000"
	if readOnly {
		dsn = "file:" + path + "?mode=ro&_busy_timeout=30000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// writeEmbeddings creates a fresh container at path holding vectors, all
// of dimension dim, keyed by node id in the order of ids.
func writeEmbeddings(ctx context.Context, path string, dim int, ids []string, vectors map[string][]float32) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale container: %w", err)
	}
	db, err := openSQLite(path, false)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, embeddingsSchemaSQL(dim)); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	err = inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO meta (key, value) VALUES ('dimension', ?)", strconv.Itoa(dim)); err != nil {
			return fmt.Errorf("writing meta: %w", err)
		}
		insert, err := tx.PrepareContext(ctx, "INSERT INTO embeddings (node_id, vector) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer insert.Close()
		insertVec, err := tx.PrepareContext(ctx, "INSERT INTO vec_embeddings (embedding_id, embedding) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer insertVec.Close()

		for _, id := range ids {
			blob := serializeFloat32(vectors[id])
			res, err := insert.ExecContext(ctx, id, blob)
			if err != nil {
				return fmt.Errorf("inserting embedding %q: %w", id, err)
			}
			rowID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if _, err := insertVec.ExecContext(ctx, rowID, blob); err != nil {
				return fmt.Errorf("indexing embedding %q: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return migrate(ctx, db)
}

// readEmbeddings loads every vector of the container at path. Rows whose
// blob does not match the recorded dimension are reported as corrupt.
func readEmbeddings(ctx context.Context, path string) (map[string][]float32, error) {
	db, err := openSQLite(path, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	defer db.Close()

	if err := migrate(ctx, db); err != nil {
		if errors.Is(err, ErrSchemaVersion) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	dim, err := strconv.Atoi(meta["dimension"])
	if err != nil || dim <= 0 {
		return nil, fmt.Errorf("%w: invalid embedding dimension %q", ErrCorruptSnapshot, meta["dimension"])
	}

	rows, err := db.QueryContext(ctx, "SELECT node_id, vector FROM embeddings ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
		}
		if len(blob) != dim*4 {
			return nil, fmt.Errorf("%w: embedding %q has %d bytes, want %d", ErrCorruptSnapshot, id, len(blob), dim*4)
		}
		out[id] = deserializeFloat32(blob)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	if c, ok := meta["count"]; ok {
		if n, err := strconv.Atoi(c); err != nil || n != len(out) {
			return nil, fmt.Errorf("%w: container records %s embeddings, found %d", ErrCorruptSnapshot, c, len(out))
		}
	}
	return out, nil
}

func readMeta(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// Match is one nearest-neighbour hit of a VectorIndex search.
type Match struct {
	NodeID string  `json:"node_id"`
	Score  float64 `json:"score"`
}

// VectorIndex answers KNN queries over a jurisdiction's stored embeddings.
// It is safe for concurrent use.
type VectorIndex struct {
	db  *sql.DB
	dim int
}

// OpenVectorIndex opens the container at path read-only.
func OpenVectorIndex(ctx context.Context, path string) (*VectorIndex, error) {
	db, err := openSQLite(path, true)
	if err != nil {
		return nil, err
	}
	meta, err := readMeta(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	dim, err := strconv.Atoi(meta["dimension"])
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: invalid embedding dimension %q", ErrCorruptSnapshot, meta["dimension"])
	}
	return &VectorIndex{db: db, dim: dim}, nil
}

// Dim returns the embedding dimension of the index.
func (v *VectorIndex) Dim() int { return v.dim }

// Search returns the k stored embeddings nearest to query by cosine
// distance, closest first.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if len(query) != v.dim {
		return nil, fmt.Errorf("store: query dimension %d, index dimension %d", len(query), v.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	rows, err := v.db.QueryContext(ctx, `
		SELECT e.node_id, v.distance
		FROM vec_embeddings v
		JOIN embeddings e ON e.id = v.embedding_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(query), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var distance float64
		if err := rows.Scan(&m.NodeID, &distance); err != nil {
			return nil, err
		}
		// Convert distance to similarity score (1 - distance for cosine)
		m.Score = 1.0 - distance
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Close closes the underlying database connection.
func (v *VectorIndex) Close() error {
	return v.db.Close()
}

// --- helpers ---

func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
