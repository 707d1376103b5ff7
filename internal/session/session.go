// Package session holds the state of one annotation sitting: the paging
// window over a project's documents, the objects drawn on the current
// document and the concept editor for the selected object.
//
// A Session is safe for concurrent use, but every call is serialized.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kittclouds/annokitt/internal/api"
	"github.com/kittclouds/annokitt/internal/config"
	"github.com/kittclouds/annokitt/internal/store"
	"github.com/kittclouds/annokitt/pkg/concept"
	"github.com/kittclouds/annokitt/pkg/suggest"
	"github.com/kittclouds/annokitt/pkg/vector"
	"github.com/kittclouds/annokitt/pkg/vocab"
	"github.com/kittclouds/annokitt/pkg/window"
)

var (
	ErrNoProject  = errors.New("no project open")
	ErrNoDocument = errors.New("no current document")
	ErrNoObject   = errors.New("no object in editor")
)

// FeatureIndex stores concept feature vectors and answers nearest-neighbour
// queries. vector.Store and store.SQLiteFeatures implement it.
type FeatureIndex interface {
	Add(id string, vec []float32) error
	Search(vec []float32, k int) ([]string, error)
	Save() error
}

var (
	_ FeatureIndex = (*vector.Store)(nil)
	_ FeatureIndex = (*store.SQLiteFeatures)(nil)
)

// Deps are the collaborators a Session drives. API may be nil in offline
// mode; Vectors may be nil to skip feature indexing.
type Deps struct {
	API     *api.Client
	Store   store.Storer
	Vectors FeatureIndex
	Logger  *slog.Logger
}

// Editor is the object currently being described. AnnotationID is empty
// until the object is first saved. Selected is -1 when no concept is
// selected.
type Editor struct {
	AnnotationID string              `json:"annotationId"`
	Label        string              `json:"label"`
	Category     string              `json:"category,omitempty"`
	Box          concept.BoundingBox `json:"box"`
	Text         string              `json:"text"`
	Tokens       []string            `json:"tokens"`
	Concepts     []concept.Concept   `json:"concepts"`
	Selected     int                 `json:"selected"`
}

func (e *Editor) clone() Editor {
	out := *e
	out.Tokens = slices.Clone(e.Tokens)
	out.Concepts = concept.Clone(e.Concepts)
	return out
}

// Session is one user's walk through a project.
type Session struct {
	mu sync.Mutex

	cfg     config.Config
	api     *api.Client
	store   store.Storer
	vectors FeatureIndex
	log     *slog.Logger

	project   *store.Project
	cache     *window.Cache[store.Document]
	objects   []store.Annotation
	editor    *Editor
	dict      *vocab.Dictionary
	suggester *suggest.Suggester
}

// New wires a Session. Nothing is fetched until Open.
func New(deps Deps, cfg config.Config) (*Session, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("session: store required")
	}
	if cfg.Window.Mode != config.ModeOffline && deps.API == nil {
		return nil, fmt.Errorf("session: api client required in %s mode", cfg.Window.Mode)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dict, err := vocab.Compile(nil)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &Session{
		cfg:       cfg,
		api:       deps.API,
		store:     deps.Store,
		vectors:   deps.Vectors,
		log:       logger.With("component", "session"),
		dict:      dict,
		suggester: suggest.New(dict),
	}, nil
}

func (s *Session) offline() bool {
	return s.cfg.Window.Mode == config.ModeOffline
}

// =============================================================================
// Navigation
// =============================================================================

// Open starts on projectID. With a docID the window is seeded there;
// without one the first document of the stream becomes current. The
// returned document is nil when the project has no documents. On error the
// session keeps whatever it had open before.
func (s *Session) Open(ctx context.Context, projectID, docID string) (*store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, doc, err := s.lookup(ctx, projectID, docID)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", projectID, err)
	}
	src, err := s.source(projectID, docID)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", projectID, err)
	}
	dict, err := s.compileVocabulary(projectID)
	if err != nil {
		return nil, err
	}
	cache := window.New(src, window.WithCapacity(s.cfg.Window.Capacity), window.WithLogger(s.log))

	commit := func(objects []store.Annotation) {
		s.reset()
		s.project = project
		s.cache = cache
		s.objects = objects
		s.useVocabulary(dict)
	}

	if doc == nil && s.cfg.Window.Mode == config.ModeSequential {
		doc, err = s.firstRemote(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("session: open %s: %w", projectID, err)
		}
		if doc == nil {
			commit(nil)
			s.log.Info("project has no documents", "project", projectID)
			return nil, nil
		}
	}
	if doc != nil {
		cache.Seed(*doc)
	} else {
		first, ok, err := cache.StepForward(ctx)
		if err != nil {
			return nil, fmt.Errorf("session: open %s: %w", projectID, err)
		}
		if !ok {
			commit(nil)
			s.log.Info("project has no documents", "project", projectID)
			return nil, nil
		}
		doc = &first
	}

	objects, err := s.load(ctx, *doc)
	if err != nil {
		return nil, err
	}
	commit(objects)
	s.log.Info("session opened", "project", projectID, "document", doc.ID, "mode", s.cfg.Window.Mode)
	out := *doc
	return &out, nil
}

func (s *Session) lookup(ctx context.Context, projectID, docID string) (*store.Project, *store.Document, error) {
	if s.offline() {
		project, err := s.store.GetProject(projectID)
		if err != nil {
			return nil, nil, err
		}
		if project == nil {
			return nil, nil, fmt.Errorf("project %q not in local store", projectID)
		}
		if docID == "" {
			return project, nil, nil
		}
		doc, err := s.store.GetDocument(docID)
		if err != nil {
			return nil, nil, err
		}
		if doc == nil {
			return nil, nil, fmt.Errorf("document %q not in local store", docID)
		}
		return project, doc, nil
	}

	var project *store.Project
	var doc *store.Document
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.api.GetProject(gctx, projectID)
		project = p
		return err
	})
	if docID != "" {
		g.Go(func() error {
			d, err := s.api.GetDocument(gctx, projectID, docID)
			doc = d
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := s.store.UpsertProject(project); err != nil {
		return nil, nil, fmt.Errorf("mirror project: %w", err)
	}
	return project, doc, nil
}

func (s *Session) source(projectID, docID string) (window.Source[store.Document], error) {
	if s.offline() {
		return &store.LocalSource{Store: s.store, ProjectID: projectID}, nil
	}
	return api.SourceFor(s.cfg.Window.Mode, s.api, projectID, docID, s.cfg.Window.Capacity)
}

// firstRemote picks the first document by sort key when no start document
// was named.
func (s *Session) firstRemote(ctx context.Context, projectID string) (*store.Document, error) {
	docs, err := s.api.ListDocuments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	slices.SortStableFunc(docs, func(a, b store.Document) int {
		switch {
		case a.SortKey < b.SortKey:
			return -1
		case a.SortKey > b.SortKey:
			return 1
		}
		return 0
	})
	return &docs[0], nil
}

// Next moves to the following document. ok is false at the end of the
// stream; the current document is then unchanged.
func (s *Session) Next(ctx context.Context) (store.Document, bool, error) {
	return s.step(ctx, true)
}

// Previous moves back one document.
func (s *Session) Previous(ctx context.Context) (store.Document, bool, error) {
	return s.step(ctx, false)
}

func (s *Session) step(ctx context.Context, forward bool) (store.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero store.Document
	if s.cache == nil {
		return zero, false, ErrNoProject
	}
	step := s.cache.StepBackward
	if forward {
		step = s.cache.StepForward
	}
	before := s.cache.Snapshot()
	doc, ok, err := step(ctx)
	if err != nil || !ok {
		return doc, ok, err
	}
	objects, err := s.load(ctx, doc)
	if err != nil {
		// The previous document stays current with its objects.
		s.cache.Restore(before)
		return zero, false, err
	}
	s.objects = objects
	s.editor = nil
	return doc, true, nil
}

// load mirrors doc and returns its objects. It touches the local store
// only; the session state is left to the caller.
func (s *Session) load(ctx context.Context, doc store.Document) ([]store.Annotation, error) {
	if s.offline() {
		local, err := s.store.ListAnnotations(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("session: objects of %s: %w", doc.ID, err)
		}
		objects := make([]store.Annotation, len(local))
		for i, a := range local {
			objects[i] = *a
		}
		return objects, nil
	}

	if err := s.store.UpsertDocument(&doc); err != nil {
		return nil, fmt.Errorf("session: mirror document %s: %w", doc.ID, err)
	}
	remote, err := s.api.ListObjects(ctx, doc.ProjectID, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("session: objects of %s: %w", doc.ID, err)
	}
	for i := range remote {
		if err := s.mirror(&remote[i]); err != nil {
			return nil, err
		}
	}
	return remote, nil
}

// mirror records a remote object locally, adding a version only when its
// content changed.
func (s *Session) mirror(a *store.Annotation) error {
	local, err := s.store.GetAnnotation(a.ID)
	if err != nil {
		return fmt.Errorf("session: mirror object %s: %w", a.ID, err)
	}
	if local != nil && sameContent(local, a) {
		return nil
	}
	rec := *a
	rec.UpdatedAt = time.Now().UnixMilli()
	if local == nil {
		if rec.CreatedAt == 0 {
			rec.CreatedAt = rec.UpdatedAt
		}
		err = s.store.CreateAnnotation(&rec)
	} else {
		err = s.store.UpdateAnnotation(&rec, "sync")
	}
	if err != nil {
		return fmt.Errorf("session: mirror object %s: %w", a.ID, err)
	}
	return nil
}

func sameContent(a, b *store.Annotation) bool {
	if a.Label != b.Label || a.Category != b.Category || a.Box != b.Box || a.Text != b.Text {
		return false
	}
	if !slices.Equal(a.Tokens, b.Tokens) {
		return false
	}
	if len(a.Concepts) == 0 && len(b.Concepts) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Concepts, b.Concepts)
}

// Current returns the current document.
func (s *Session) Current() (store.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		var zero store.Document
		return zero, false
	}
	return s.cache.Current()
}

// Project returns the open project, or nil.
func (s *Session) Project() *store.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.project == nil {
		return nil
	}
	p := *s.project
	return &p
}

// Objects returns the annotations of the current document.
func (s *Session) Objects() []store.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Annotation, len(s.objects))
	for i, a := range s.objects {
		out[i] = a
		out[i].Tokens = slices.Clone(a.Tokens)
		out[i].Concepts = concept.Clone(a.Concepts)
	}
	return out
}

// =============================================================================
// Vocabulary
// =============================================================================

func (s *Session) loadVocabulary() error {
	dict, err := s.compileVocabulary(s.project.ID)
	if err != nil {
		return err
	}
	s.useVocabulary(dict)
	return nil
}

func (s *Session) compileVocabulary(projectID string) (*vocab.Dictionary, error) {
	phrases, err := s.store.ListPhrases(projectID)
	if err != nil {
		return nil, fmt.Errorf("session: load vocabulary: %w", err)
	}
	entries := make([]vocab.Entry, 0, len(phrases))
	for _, p := range phrases {
		entries = append(entries, vocab.Entry{ID: p.ID, Phrase: p.Text, Aliases: p.Aliases})
	}
	dict, err := vocab.Compile(entries)
	if err != nil {
		return nil, fmt.Errorf("session: compile vocabulary: %w", err)
	}
	s.log.Debug("vocabulary loaded", "project", projectID, "phrases", len(phrases), "surfaces", dict.Len())
	return dict, nil
}

func (s *Session) useVocabulary(dict *vocab.Dictionary) {
	s.dict = dict
	s.suggester.SetDictionary(dict)
}

// Vocabulary returns the compiled phrases of the open project.
func (s *Session) Vocabulary() []vocab.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dict.Entries()
}

// learn counts every concept substring of a saved object as a use of its
// phrase.
func (s *Session) learn(a *store.Annotation) error {
	now := time.Now().UnixMilli()
	seen := make(map[string]bool)
	for _, c := range a.Concepts {
		text := vocab.NormalizeRaw(c.Substring)
		if text == "" || seen[text] || len(vocab.TokenizeNorm(text)) == 0 {
			continue
		}
		seen[text] = true

		p, err := s.store.GetPhraseByText(a.ProjectID, text)
		if err != nil {
			return fmt.Errorf("session: learn %q: %w", text, err)
		}
		if p == nil {
			p = &store.Phrase{ID: uuid.NewString(), ProjectID: a.ProjectID, Text: text, CreatedAt: now}
		}
		p.Uses++
		p.UpdatedAt = now
		if err := s.store.UpsertPhrase(p); err != nil {
			return fmt.Errorf("session: learn %q: %w", text, err)
		}
	}
	return s.loadVocabulary()
}

// =============================================================================
// Persistence
// =============================================================================

// Save stores the editor's object remotely (unless offline) and as a new
// local version, learns its phrases and indexes its concept features.
func (s *Session) Save(ctx context.Context) (*store.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editor == nil {
		return nil, ErrNoObject
	}
	doc, ok := s.currentDoc()
	if !ok {
		return nil, ErrNoDocument
	}

	ed := s.editor
	a := &store.Annotation{
		ID:         ed.AnnotationID,
		ProjectID:  s.project.ID,
		DocumentID: doc.ID,
		Label:      ed.Label,
		Category:   ed.Category,
		Box:        ed.Box,
		Text:       ed.Text,
		Tokens:     slices.Clone(ed.Tokens),
		Concepts:   concept.Clone(ed.Concepts),
	}
	for i := range a.Concepts {
		if a.Concepts[i].ID == "" {
			a.Concepts[i].ID = uuid.NewString()
		}
	}
	if err := concept.Validate(a.Concepts, len(a.Tokens)); err != nil {
		return nil, fmt.Errorf("session: save: %w", err)
	}

	if s.offline() {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
	} else {
		saved, err := s.api.SaveObject(ctx, s.project.ID, doc.ID, a)
		if err != nil {
			return nil, fmt.Errorf("session: save: %w", err)
		}
		a = saved
	}

	if err := s.record(a); err != nil {
		return nil, err
	}
	if err := s.learn(a); err != nil {
		return nil, err
	}
	if err := s.index(a); err != nil {
		return nil, err
	}

	ed.AnnotationID = a.ID
	ed.Concepts = concept.Clone(a.Concepts)
	s.replaceObject(*a)
	s.log.Info("object saved", "object", a.ID, "document", doc.ID, "concepts", len(a.Concepts))

	out := *a
	return &out, nil
}

// record writes a as a new local version.
func (s *Session) record(a *store.Annotation) error {
	now := time.Now().UnixMilli()
	rec := *a
	rec.UpdatedAt = now

	local, err := s.store.GetAnnotation(a.ID)
	if err != nil {
		return fmt.Errorf("session: record %s: %w", a.ID, err)
	}
	if local == nil {
		rec.CreatedAt = now
		err = s.store.CreateAnnotation(&rec)
	} else {
		err = s.store.UpdateAnnotation(&rec, "edit")
	}
	if err != nil {
		return fmt.Errorf("session: record %s: %w", a.ID, err)
	}
	a.Version = rec.Version
	a.CreatedAt = rec.CreatedAt
	a.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *Session) index(a *store.Annotation) error {
	if s.vectors == nil {
		return nil
	}
	added := 0
	for _, c := range a.Concepts {
		if len(c.Feature.Embedding) == 0 {
			continue
		}
		if err := s.vectors.Add(c.ID, c.Feature.Embedding); err != nil {
			return fmt.Errorf("session: index concept %s: %w", c.ID, err)
		}
		added++
	}
	if added == 0 {
		return nil
	}
	if err := s.vectors.Save(); err != nil {
		return fmt.Errorf("session: save features: %w", err)
	}
	return nil
}

func (s *Session) replaceObject(a store.Annotation) {
	for i := range s.objects {
		if s.objects[i].ID == a.ID {
			s.objects[i] = a
			return
		}
	}
	s.objects = append(s.objects, a)
}

// DeleteObject removes an object of the current document.
func (s *Session) DeleteObject(ctx context.Context, annotationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.currentDoc()
	if !ok {
		return ErrNoDocument
	}
	if !s.offline() {
		if err := s.api.DeleteObject(ctx, s.project.ID, doc.ID, annotationID); err != nil {
			return fmt.Errorf("session: delete %s: %w", annotationID, err)
		}
	}
	if err := s.store.DeleteAnnotation(annotationID); err != nil {
		return fmt.Errorf("session: delete %s: %w", annotationID, err)
	}
	s.objects = slices.DeleteFunc(s.objects, func(a store.Annotation) bool { return a.ID == annotationID })
	if s.editor != nil && s.editor.AnnotationID == annotationID {
		s.editor = nil
	}
	return nil
}

// Similar returns the IDs of up to k indexed concepts whose features are
// closest to vec.
func (s *Session) Similar(vec []float32, k int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vectors == nil {
		return []string{}, nil
	}
	return s.vectors.Search(vec, k)
}

func (s *Session) currentDoc() (store.Document, bool) {
	if s.cache == nil {
		var zero store.Document
		return zero, false
	}
	return s.cache.Current()
}

// Close drops the project, the window, the objects, the editor and the
// vocabulary. The store and the feature index stay open; they belong to
// the caller.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Session) reset() {
	if s.cache != nil {
		s.cache.Reset()
	}
	s.cache = nil
	s.project = nil
	s.objects = nil
	s.editor = nil
	if dict, err := vocab.Compile(nil); err == nil {
		s.useVocabulary(dict)
	}
}
