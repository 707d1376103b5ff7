package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
)

var (
	ErrFeatureDimension = errors.New("feature dimension mismatch")
	ErrFeatureID        = errors.New("feature id is empty")
)

// SQLiteFeatures is a concept feature index kept in the SQLite store.
// Embeddings are stored as sqlite-vec float32 blobs and ranked by cosine
// distance in SQL. Writes are durable immediately, so Save has nothing to
// do.
type SQLiteFeatures struct {
	s *SQLiteStore
}

// Features returns the feature index backed by this store.
func (s *SQLiteStore) Features() *SQLiteFeatures {
	return &SQLiteFeatures{s: s}
}

// Dim returns the dimension of the stored features, 0 when empty.
func (f *SQLiteFeatures) Dim() (int, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()
	return f.dim()
}

func (f *SQLiteFeatures) dim() (int, error) {
	var dims int
	err := f.s.db.QueryRow(`SELECT dims FROM concept_features LIMIT 1`).Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("feature dims: %w", err)
	}
	return dims, nil
}

// Len returns the number of stored features.
func (f *SQLiteFeatures) Len() (int, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()
	var n int
	if err := f.s.db.QueryRow(`SELECT COUNT(*) FROM concept_features`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count features: %w", err)
	}
	return n, nil
}

// Add inserts or replaces the embedding stored under id.
func (f *SQLiteFeatures) Add(id string, vec []float32) error {
	if id == "" {
		return ErrFeatureID
	}
	blob, err := sqlitevec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("serialize feature %s: %w", id, err)
	}

	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	dim, err := f.dim()
	if err != nil {
		return err
	}
	if dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrFeatureDimension, dim, len(vec))
	}
	_, err = f.s.db.Exec(`
		INSERT INTO concept_features (concept_id, dims, embedding, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(concept_id) DO UPDATE SET
			dims = excluded.dims,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at
	`, id, len(vec), blob, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add feature %s: %w", id, err)
	}
	return nil
}

// Search returns up to k IDs nearest to vec, closest first.
func (f *SQLiteFeatures) Search(vec []float32, k int) ([]string, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()

	if k <= 0 {
		return []string{}, nil
	}
	dim, err := f.dim()
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []string{}, nil
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrFeatureDimension, dim, len(vec))
	}
	blob, err := sqlitevec.SerializeFloat32(vec)
	if err != nil {
		return nil, fmt.Errorf("serialize query: %w", err)
	}

	rows, err := f.s.db.Query(`
		SELECT concept_id FROM concept_features
		ORDER BY vec_distance_cosine(embedding, ?), concept_id
		LIMIT ?
	`, blob, k)
	if err != nil {
		return nil, fmt.Errorf("search features: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, k)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Save is a no-op; rows are committed as they are written.
func (f *SQLiteFeatures) Save() error {
	return nil
}
