// Package apitest provides an in-memory annotation service for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"

	"github.com/kittclouds/annokitt/internal/store"
)

// Server is a fake annotation service. The prioritized queue serves the
// least annotated documents first.
type Server struct {
	*httptest.Server

	// Token, when set, must arrive as a Bearer token.
	Token string

	mu       sync.Mutex
	projects map[string]store.Project
	docs     map[string][]store.Document // by project, ordered by sort key
	objects  map[string][]store.Annotation
	queue    map[string][]store.Document
	history  map[string][]store.Document // most recent last
	requests []string
	nextID   int
}

// NewServer starts a fake service. Close it when done.
func NewServer() *Server {
	s := &Server{
		projects: make(map[string]store.Project),
		docs:     make(map[string][]store.Document),
		objects:  make(map[string][]store.Annotation),
		queue:    make(map[string][]store.Document),
		history:  make(map[string][]store.Document),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /project/{id}", s.getProject)
	mux.HandleFunc("GET /project/{id}/idoc", s.listDocuments)
	mux.HandleFunc("GET /project/{id}/idoc/{docId}", s.getDocument)
	mux.HandleFunc("GET /project/{id}/idoc/{docId}/simplefetch/{n}", s.simpleFetch)
	mux.HandleFunc("GET /project/{id}/randfetch/{n}", s.randFetch)
	mux.HandleFunc("GET /project/{id}/fetchHistory/{n}", s.fetchHistory)
	mux.HandleFunc("GET /project/{id}/idoc/{docId}/iobj", s.listObjects)
	mux.HandleFunc("POST /project/{id}/idoc/{docId}/iobj", s.createObject)
	mux.HandleFunc("PUT /project/{id}/idoc/{docId}/iobj/{objId}", s.replaceObject)
	mux.HandleFunc("DELETE /project/{id}/idoc/{docId}/iobj/{objId}", s.deleteObject)

	s.Server = httptest.NewServer(s.logged(mux))
	return s
}

// AddProject registers a project with n documents named <id>-doc-NN and
// sort keys 0, 10, 20, ...
func (s *Server) AddProject(p store.Project, n int) []store.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects[p.ID] = p
	docs := make([]store.Document, n)
	for i := range docs {
		docs[i] = store.Document{
			ID:        fmt.Sprintf("%s-doc-%02d", p.ID, i),
			ProjectID: p.ID,
			Name:      fmt.Sprintf("img_%02d.jpg", i),
			ImageURL:  fmt.Sprintf("https://img.example.com/%s/%02d.jpg", p.ID, i),
			Width:     640,
			Height:    480,
			SortKey:   int64(i * 10),
		}
	}
	s.docs[p.ID] = docs
	s.queue[p.ID] = nil
	return append([]store.Document(nil), docs...)
}

// SetObjectCount changes the annotation count that drives the queue.
func (s *Server) SetObjectCount(projectID, docID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.docs[projectID] {
		if s.docs[projectID][i].ID == docID {
			s.docs[projectID][i].ObjectCount = count
		}
	}
}

// AddObject stores an annotation as if another client had saved it.
func (s *Server) AddObject(a store.Annotation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[a.DocumentID] = append(s.objects[a.DocumentID], a)
}

// Objects returns the annotations stored for a document.
func (s *Server) Objects(docID string) []store.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Annotation(nil), s.objects[docID]...)
}

// Requests returns "METHOD /path" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		token := s.Token
		s.mu.Unlock()

		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[r.PathValue("id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, p)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, s.docs[r.PathValue("id")])
}

func (s *Server) find(projectID, docID string) (int, bool) {
	for i, d := range s.docs[projectID] {
		if d.ID == docID {
			return i, true
		}
	}
	return -1, false
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	projectID := r.PathValue("id")
	i, ok := s.find(projectID, r.PathValue("docId"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	doc := s.docs[projectID][i]
	s.history[projectID] = append(s.history[projectID], doc)
	writeJSON(w, doc)
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		http.Error(w, "bad "+name, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (s *Server) simpleFetch(w http.ResponseWriter, r *http.Request) {
	n, ok := pathInt(w, r, "n")
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	projectID := r.PathValue("id")
	i, ok := s.find(projectID, r.PathValue("docId"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	docs := s.docs[projectID]
	out := []store.Document{}
	if n >= 0 {
		for j := i + 1; j < len(docs) && len(out) < n; j++ {
			out = append(out, docs[j])
		}
	} else {
		for j := i - 1; j >= 0 && len(out) < -n; j-- {
			out = append(out, docs[j])
		}
	}
	writeJSON(w, out)
}

func (s *Server) randFetch(w http.ResponseWriter, r *http.Request) {
	n, ok := pathInt(w, r, "n")
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	projectID := r.PathValue("id")
	if s.queue[projectID] == nil {
		q := append([]store.Document{}, s.docs[projectID]...)
		sort.SliceStable(q, func(a, b int) bool { return q[a].ObjectCount < q[b].ObjectCount })
		s.queue[projectID] = q
	}
	q := s.queue[projectID]
	n = max(min(n, len(q)), 0)
	out := append([]store.Document{}, q[:n]...)
	s.queue[projectID] = q[n:]
	s.history[projectID] = append(s.history[projectID], out...)
	writeJSON(w, out)
}

func (s *Server) fetchHistory(w http.ResponseWriter, r *http.Request) {
	n, ok := pathInt(w, r, "n")
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.history[r.PathValue("id")]
	out := []store.Document{}
	for j := len(h) - 1; j >= 0 && len(out) < n; j-- {
		out = append(out, h[j])
	}
	writeJSON(w, out)
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	objs := s.objects[r.PathValue("docId")]
	if objs == nil {
		objs = []store.Annotation{}
	}
	writeJSON(w, objs)
}

func (s *Server) createObject(w http.ResponseWriter, r *http.Request) {
	var a store.Annotation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	a.ID = fmt.Sprintf("obj-%d", s.nextID)
	a.ProjectID = r.PathValue("id")
	a.DocumentID = r.PathValue("docId")
	a.Version = 1
	s.objects[a.DocumentID] = append(s.objects[a.DocumentID], a)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(a)
}

func (s *Server) replaceObject(w http.ResponseWriter, r *http.Request) {
	var a store.Annotation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	docID, objID := r.PathValue("docId"), r.PathValue("objId")
	for i, old := range s.objects[docID] {
		if old.ID == objID {
			a.ID = objID
			a.DocumentID = docID
			a.ProjectID = r.PathValue("id")
			a.Version = old.Version + 1
			s.objects[docID][i] = a
			writeJSON(w, a)
			return
		}
	}
	http.NotFound(w, r)
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docID, objID := r.PathValue("docId"), r.PathValue("objId")
	objs := s.objects[docID]
	for i, old := range objs {
		if old.ID == objID {
			s.objects[docID] = append(objs[:i], objs[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.NotFound(w, r)
}
