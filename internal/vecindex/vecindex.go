// Package vecindex is the optional sqlite-vec-backed ANN prefilter behind
// SEARCH_INDEX_BACKEND=sqlitevec (spec.md §6). It generalizes
// internal/store.SQLiteStore's database/sql-over-ncruces/go-sqlite3
// wiring — that package registers the sqlite-vec extension but never
// creates a vec0 virtual table — into an actual vector index: a
// `vec0` virtual table of memory vectors, queried by `MATCH` for
// approximate nearest neighbors. When disabled (the default "naive"
// backend) or empty, callers fall back to retrieval's full linear scan;
// this package never changes scoring semantics, only which candidates
// reach the scorer.
package vecindex

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// Index is a disposable ANN prefilter over one dimensionality of vectors.
// It holds no cross-process state: Rebuild replaces its contents wholesale
// from the in-memory stores on every search-engine refresh, since vectors
// are never persisted (spec.md §4.3).
type Index struct {
	mu  sync.RWMutex
	db  *sql.DB
	dim int
}

// New opens an in-memory sqlite-vec index for vectors of the given
// dimensionality. dim must match every vector later inserted via Rebuild.
func New(dim int) (*Index, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("vecindex: open database: %w", err)
	}
	schema := fmt.Sprintf(`CREATE VIRTUAL TABLE vec_items USING vec0(item_id TEXT PRIMARY KEY, embedding float[%d]);`, dim)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("vecindex: create vec0 table: %w", err)
	}
	return &Index{db: db, dim: dim}, nil
}

// Close releases the underlying database connection.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.db.Close()
}

// Item is one candidate handed to Rebuild: an opaque id the caller can map
// back to its own candidate, plus its vector.
type Item struct {
	ID     string
	Vector []float32
}

// Rebuild wipes the index and reinserts items. Called once per search when
// the backend is enabled; cheap relative to embedding calls since no new
// vectors are computed here.
func (idx *Index) Rebuild(ctx context.Context, items []Item) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vecindex: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM vec_items"); err != nil {
		return fmt.Errorf("vecindex: clear table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO vec_items(item_id, embedding) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("vecindex: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		if len(item.Vector) != idx.dim {
			continue
		}
		if _, err := stmt.ExecContext(ctx, item.ID, encodeVector(item.Vector)); err != nil {
			return fmt.Errorf("vecindex: insert %q: %w", item.ID, err)
		}
	}

	return tx.Commit()
}

// Search returns the ids of the k nearest items to query, nearest first.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(query) != idx.dim || k <= 0 {
		return nil, nil
	}

	rows, err := idx.db.QueryContext(ctx,
		"SELECT item_id FROM vec_items WHERE embedding MATCH ? ORDER BY distance LIMIT ?",
		encodeVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("vecindex: search: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("vecindex: scan row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// encodeVector serializes a float32 vector into the raw little-endian byte
// layout sqlite-vec's vec0 module expects for a `float[N]` column.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}
