// Package vector indexes concept feature embeddings for "looks like"
// search across a project.
package vector

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/fogfish/hnsw"
	"github.com/fogfish/hnsw/vector"
	"github.com/hack-pad/hackpadfs"
	kvector "github.com/kshard/vector"
)

var (
	ErrDimension = errors.New("vector dimension mismatch")
	ErrEmptyID   = errors.New("vector id is empty")
)

// Store manages the HNSW index, the mapping from concept IDs to index keys
// and persistence of both.
type Store struct {
	FS   hackpadfs.FS
	Path string

	mu    sync.RWMutex
	index *hnsw.HNSW[vector.VF32]
	// keys[k-1] is the ID stored under index key k.
	keys []string
	// live maps an ID to its most recent key. Re-added IDs leave their old
	// node in the graph; Search skips it.
	live map[string]uint32
}

// snapshot is the on-disk form.
type snapshot struct {
	Nodes hnsw.Nodes[vector.VF32]
	Keys  []string
}

// NewStore loads the index at path, or starts an empty one when the file
// does not exist yet.
func NewStore(fsys hackpadfs.FS, path string) (*Store, error) {
	s := &Store{FS: fsys, Path: path}

	if err := s.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		s.reset()
	}
	return s, nil
}

func (s *Store) reset() {
	s.index = hnsw.New[vector.VF32](vector.SurfaceVF32(kvector.Cosine()))
	s.keys = nil
	s.live = make(map[string]uint32)
}

// Len returns the number of distinct IDs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live)
}

// Dim returns the embedding dimension, or 0 for an empty index.
func (s *Store) Dim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim()
}

func (s *Store) dim() int {
	if len(s.keys) == 0 {
		return 0
	}
	return len(s.index.Head().Vec)
}

// Add inserts or replaces the embedding stored under id.
func (s *Store) Add(id string, vec []float32) error {
	if id == "" {
		return ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if dim := s.dim(); dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimension, dim, len(vec))
	}

	s.keys = append(s.keys, id)
	key := uint32(len(s.keys))
	s.live[id] = key

	s.index.Insert(vector.VF32{
		Key: key,
		Vec: append([]float32(nil), vec...),
	})
	return nil
}

// Search returns up to k IDs nearest to vec, closest first.
func (s *Store) Search(vec []float32, k int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.keys) == 0 {
		return []string{}, nil
	}
	if dim := s.dim(); len(vec) != dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimension, dim, len(vec))
	}

	// Over-fetch to make up for replaced nodes.
	want := k + len(s.keys) - len(s.live)
	ef := max(want*2, 100)

	results := s.index.Search(vector.VF32{Vec: vec}, want, ef)

	ids := make([]string, 0, k)
	for _, r := range results {
		if r.Key == 0 || int(r.Key) > len(s.keys) {
			continue
		}
		id := s.keys[r.Key-1]
		if s.live[id] != r.Key {
			continue
		}
		ids = append(ids, id)
		if len(ids) == k {
			break
		}
	}
	return ids, nil
}

// Save persists the index to FS.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	snap := snapshot{Nodes: s.index.Nodes(), Keys: s.keys}
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	if err := hackpadfs.WriteFullFile(s.FS, s.Path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	return nil
}

// Load replaces the in-memory index with the one stored at Path.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := hackpadfs.ReadFile(s.FS, s.Path)
	if err != nil {
		return err
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(content)).Decode(&snap); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}

	s.index = hnsw.FromNodes[vector.VF32](
		vector.SurfaceVF32(kvector.Cosine()),
		snap.Nodes,
	)
	s.keys = snap.Keys
	s.live = make(map[string]uint32, len(snap.Keys))
	for i, id := range snap.Keys {
		s.live[id] = uint32(i + 1)
	}
	return nil
}
