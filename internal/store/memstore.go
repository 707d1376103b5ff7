package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kittclouds/annokitt/pkg/concept"
)

// nowMillis is the clock used for restore timestamps.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// MemStore is an in-memory implementation of Storer for testing.
type MemStore struct {
	mu        sync.RWMutex
	projects  map[string]*Project
	documents map[string]*Document
	// annotations holds every version, oldest first.
	annotations map[string][]*Annotation
	phrases     map[string]*Phrase
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		projects:    make(map[string]*Project),
		documents:   make(map[string]*Document),
		annotations: make(map[string][]*Annotation),
		phrases:     make(map[string]*Phrase),
	}
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error {
	return nil
}

// =============================================================================
// Projects
// =============================================================================

func (s *MemStore) UpsertProject(p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = copyProject(p)
	return nil
}

func (s *MemStore) GetProject(id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.projects[id]; ok {
		return copyProject(p), nil
	}
	return nil, nil
}

func (s *MemStore) ListProjects() ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		result = append(result, copyProject(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemStore) DeleteProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	return nil
}

// =============================================================================
// Documents
// =============================================================================

func (s *MemStore) UpsertDocument(d *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.documents[d.ID] = &cp
	return nil
}

func (s *MemStore) GetDocument(id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.documents[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (s *MemStore) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
	return nil
}

// projectDocuments returns a project's documents ordered by sort key.
func (s *MemStore) projectDocuments(projectID string) []*Document {
	var result []*Document
	for _, d := range s.documents {
		if d.ProjectID == projectID {
			cp := *d
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SortKey != result[j].SortKey {
			return result[i].SortKey < result[j].SortKey
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *MemStore) ListDocuments(projectID string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectDocuments(projectID), nil
}

func (s *MemStore) CountDocuments(projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.documents {
		if d.ProjectID == projectID {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) DocumentsAfter(projectID string, sortKey int64, n int) ([]*Document, error) {
	if n <= 0 {
		return []*Document{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*Document{}
	for _, d := range s.projectDocuments(projectID) {
		if len(result) == n {
			break
		}
		if d.SortKey > sortKey {
			result = append(result, d)
		}
	}
	return result, nil
}

func (s *MemStore) DocumentsBefore(projectID string, sortKey int64, n int) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var older []*Document
	for _, d := range s.projectDocuments(projectID) {
		if d.SortKey < sortKey {
			older = append(older, d)
		}
	}
	if n <= 0 {
		return []*Document{}, nil
	}
	start := max(len(older)-n, 0)
	return append([]*Document{}, older[start:]...), nil
}

// =============================================================================
// Annotations (versioned)
// =============================================================================

func (s *MemStore) CreateAnnotation(a *Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createAnnotation(a)
	return nil
}

func (s *MemStore) createAnnotation(a *Annotation) {
	if a.Version == 0 {
		a.Version = 1
	}
	if a.ValidFrom == 0 {
		a.ValidFrom = a.CreatedAt
	}
	a.ValidTo = nil
	a.IsCurrent = true
	s.annotations[a.ID] = append(s.annotations[a.ID], copyAnnotation(a))
}

func (s *MemStore) current(id string) *Annotation {
	versions := s.annotations[id]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].IsCurrent {
			return versions[i]
		}
	}
	return nil
}

func (s *MemStore) UpdateAnnotation(a *Annotation, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateAnnotation(a, reason)
	return nil
}

func (s *MemStore) updateAnnotation(a *Annotation, reason string) {
	cur := s.current(a.ID)
	if cur == nil {
		s.createAnnotation(a)
		return
	}

	closedAt := a.UpdatedAt
	cur.ValidTo = &closedAt
	cur.IsCurrent = false

	a.Version = s.maxVersion(a.ID) + 1
	a.CreatedAt = cur.CreatedAt
	a.ValidFrom = a.UpdatedAt
	a.ValidTo = nil
	a.IsCurrent = true
	a.ChangeReason = reason
	s.annotations[a.ID] = append(s.annotations[a.ID], copyAnnotation(a))
}

func (s *MemStore) maxVersion(id string) int {
	v := 0
	for _, a := range s.annotations[id] {
		v = max(v, a.Version)
	}
	return v
}

func (s *MemStore) UpsertAnnotation(a *Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current(a.ID) == nil {
		s.createAnnotation(a)
		return nil
	}
	s.updateAnnotation(a, "upsert")
	return nil
}

func (s *MemStore) GetAnnotation(id string) (*Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cur := s.current(id); cur != nil {
		return copyAnnotation(cur), nil
	}
	return nil, nil
}

func (s *MemStore) GetAnnotationVersion(id string, version int) (*Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.annotations[id] {
		if a.Version == version {
			return copyAnnotation(a), nil
		}
	}
	return nil, nil
}

func (s *MemStore) ListAnnotationVersions(id string) ([]*Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Annotation
	for _, a := range s.annotations[id] {
		result = append(result, copyAnnotation(a))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version > result[j].Version })
	return result, nil
}

func (s *MemStore) RestoreAnnotationVersion(id string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var old *Annotation
	for _, a := range s.annotations[id] {
		if a.Version == version {
			old = a
		}
	}
	if old == nil {
		return errVersionNotFound(id, version)
	}

	now := nowMillis()
	if cur := s.current(id); cur != nil {
		cur.ValidTo = &now
		cur.IsCurrent = false
	}

	restored := copyAnnotation(old)
	restored.Version = s.maxVersion(id) + 1
	restored.UpdatedAt = now
	restored.ValidFrom = now
	restored.ValidTo = nil
	restored.IsCurrent = true
	restored.ChangeReason = "restore"
	s.annotations[id] = append(s.annotations[id], restored)
	return nil
}

func (s *MemStore) ListAnnotations(documentID string) ([]*Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Annotation
	for id := range s.annotations {
		if cur := s.current(id); cur != nil && cur.DocumentID == documentID {
			result = append(result, copyAnnotation(cur))
		}
	}
	sortAnnotations(result)
	return result, nil
}

func (s *MemStore) DeleteAnnotation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.annotations, id)
	return nil
}

func (s *MemStore) CountAnnotations(documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for id := range s.annotations {
		if cur := s.current(id); cur != nil && cur.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Phrases
// =============================================================================

func (s *MemStore) UpsertPhrase(p *Phrase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phrases[p.ID] = copyPhrase(p)
	return nil
}

func (s *MemStore) GetPhrase(id string) (*Phrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.phrases[id]; ok {
		return copyPhrase(p), nil
	}
	return nil, nil
}

func (s *MemStore) GetPhraseByText(projectID, text string) (*Phrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := strings.ToLower(text)
	for _, p := range s.phrases {
		if p.ProjectID == projectID && strings.ToLower(p.Text) == want {
			return copyPhrase(p), nil
		}
	}
	return nil, nil
}

func (s *MemStore) ListPhrases(projectID string) ([]*Phrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Phrase
	for _, p := range s.phrases {
		if p.ProjectID == projectID {
			result = append(result, copyPhrase(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Text < result[j].Text })
	return result, nil
}

func (s *MemStore) DeletePhrase(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.phrases, id)
	return nil
}

// =============================================================================
// Copy helpers
// =============================================================================

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func copyProject(p *Project) *Project {
	cp := *p
	cp.Categories = copyStrings(p.Categories)
	return &cp
}

func copyPhrase(p *Phrase) *Phrase {
	cp := *p
	cp.Aliases = copyStrings(p.Aliases)
	return &cp
}

func copyAnnotation(a *Annotation) *Annotation {
	cp := *a
	cp.Tokens = copyStrings(a.Tokens)
	cp.Concepts = concept.Clone(a.Concepts)
	if a.ValidTo != nil {
		v := *a.ValidTo
		cp.ValidTo = &v
	}
	return &cp
}

func sortAnnotations(list []*Annotation) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
}
