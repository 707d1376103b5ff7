package session

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/annokitt/internal/api"
	"github.com/kittclouds/annokitt/internal/api/apitest"
	"github.com/kittclouds/annokitt/internal/config"
	"github.com/kittclouds/annokitt/internal/diag"
	"github.com/kittclouds/annokitt/internal/store"
	"github.com/kittclouds/annokitt/pkg/concept"
	"github.com/kittclouds/annokitt/pkg/vector"
)

const carText = "a small red car with black wheels"

type fixture struct {
	srv     *apitest.Server
	docs    []store.Document
	store   *store.MemStore
	vectors *vector.Store
	session *Session
}

func newFixture(t *testing.T, nDocs int) *fixture {
	t.Helper()
	srv := apitest.NewServer()
	t.Cleanup(srv.Close)
	docs := srv.AddProject(store.Project{ID: "p1", Name: "Streets"}, nDocs)

	client, err := api.New(api.Options{BaseURL: srv.URL, Logger: diag.Nop()})
	require.NoError(t, err)

	fs, err := mem.NewFS()
	require.NoError(t, err)
	vectors, err := vector.NewStore(fs, "features.bin")
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.API.BaseURL = srv.URL
	ms := store.NewMemStore()
	s, err := New(Deps{API: client, Store: ms, Vectors: vectors, Logger: diag.Nop()}, cfg)
	require.NoError(t, err)

	return &fixture{srv: srv, docs: docs, store: ms, vectors: vectors, session: s}
}

func substrings(cs []concept.Concept) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Substring
	}
	return out
}

func TestNewChecksDeps(t *testing.T) {
	_, err := New(Deps{}, config.Defaults())
	assert.Error(t, err, "store required")

	_, err = New(Deps{Store: store.NewMemStore()}, config.Defaults())
	assert.Error(t, err, "sequential mode needs the api")

	cfg := config.Defaults()
	cfg.Window.Mode = config.ModeOffline
	_, err = New(Deps{Store: store.NewMemStore()}, cfg)
	assert.NoError(t, err)
}

func TestOpenAndNavigate(t *testing.T) {
	f := newFixture(t, 10)
	f.srv.AddObject(store.Annotation{ID: "obj-a", DocumentID: "p1-doc-00", ProjectID: "p1", Label: "car"})
	ctx := context.Background()

	doc, err := f.session.Open(ctx, "p1", "")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "p1-doc-00", doc.ID)
	assert.Equal(t, "Streets", f.session.Project().Name)
	require.Len(t, f.session.Objects(), 1)

	local, err := f.store.GetDocument("p1-doc-00")
	require.NoError(t, err)
	require.NotNil(t, local, "document mirrored")
	p, err := f.store.GetProject("p1")
	require.NoError(t, err)
	require.NotNil(t, p, "project mirrored")

	next, ok, err := f.session.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1-doc-01", next.ID)
	assert.Empty(t, f.session.Objects())

	prev, ok, err := f.session.Previous(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1-doc-00", prev.ID)
	assert.Len(t, f.session.Objects(), 1)

	versions, err := f.store.ListAnnotationVersions("obj-a")
	require.NoError(t, err)
	assert.Len(t, versions, 1, "unchanged objects are not re-versioned")

	cur, ok := f.session.Current()
	require.True(t, ok)
	assert.Equal(t, "p1-doc-00", cur.ID)
}

// flakyObjects fails object listings of one document while armed.
type flakyObjects struct {
	docID string
	armed bool
}

func (f *flakyObjects) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.armed && strings.HasSuffix(r.URL.Path, "/idoc/"+f.docID+"/iobj") {
		return nil, errors.New("network down")
	}
	return http.DefaultTransport.RoundTrip(r)
}

func TestFailedStepKeepsDocument(t *testing.T) {
	f := newFixture(t, 10)
	f.srv.AddObject(store.Annotation{ID: "obj-a", DocumentID: "p1-doc-00", ProjectID: "p1", Label: "car"})
	flaky := &flakyObjects{docID: "p1-doc-01", armed: true}
	client, err := api.New(api.Options{BaseURL: f.srv.URL, HTTPClient: &http.Client{Transport: flaky}, Logger: diag.Nop()})
	require.NoError(t, err)
	f.session.api = client
	ctx := context.Background()

	_, err = f.session.Open(ctx, "p1", "")
	require.NoError(t, err)
	_, err = f.session.Select("obj-a")
	require.NoError(t, err)

	_, ok, err := f.session.Next(ctx)
	require.Error(t, err)
	assert.False(t, ok)

	cur, ok := f.session.Current()
	require.True(t, ok)
	assert.Equal(t, "p1-doc-00", cur.ID)
	objs := f.session.Objects()
	require.Len(t, objs, 1)
	assert.Equal(t, "p1-doc-00", objs[0].DocumentID)
	ed, ok := f.session.Editor()
	require.True(t, ok, "editor survives a failed step")
	assert.Equal(t, "obj-a", ed.AnnotationID)

	saved, err := f.session.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1-doc-00", saved.DocumentID)

	flaky.armed = false
	next, ok, err := f.session.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1-doc-01", next.ID)
	assert.Empty(t, f.session.Objects())
	_, ok = f.session.Editor()
	assert.False(t, ok)
}

func TestFailedOpenKeepsSession(t *testing.T) {
	f := newFixture(t, 10)
	flaky := &flakyObjects{docID: "p1-doc-05"}
	client, err := api.New(api.Options{BaseURL: f.srv.URL, HTTPClient: &http.Client{Transport: flaky}, Logger: diag.Nop()})
	require.NoError(t, err)
	f.session.api = client
	ctx := context.Background()

	_, err = f.session.Open(ctx, "p1", "p1-doc-02")
	require.NoError(t, err)

	flaky.armed = true
	_, err = f.session.Open(ctx, "p1", "p1-doc-05")
	require.Error(t, err)

	cur, ok := f.session.Current()
	require.True(t, ok)
	assert.Equal(t, "p1-doc-02", cur.ID)
	require.NotNil(t, f.session.Project())

	next, ok, err := f.session.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1-doc-03", next.ID)
}

func TestOpenAtDocument(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	doc, err := f.session.Open(ctx, "p1", "p1-doc-05")
	require.NoError(t, err)
	assert.Equal(t, "p1-doc-05", doc.ID)

	prev, ok, err := f.session.Previous(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1-doc-04", prev.ID)

	next, ok, err := f.session.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p1-doc-05", next.ID)
}

func TestOpenEmptyProject(t *testing.T) {
	f := newFixture(t, 0)

	doc, err := f.session.Open(context.Background(), "p1", "")
	require.NoError(t, err)
	assert.Nil(t, doc)
	_, ok := f.session.Current()
	assert.False(t, ok)
}

func TestOpenUnknownProject(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.session.Open(context.Background(), "nope", "")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestEndOfStream(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	_, err := f.session.Open(ctx, "p1", "")
	require.NoError(t, err)

	_, ok, err := f.session.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = f.session.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	cur, _ := f.session.Current()
	assert.Equal(t, "p1-doc-01", cur.ID)
}

func TestEditSaveAndLearn(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	_, err := f.session.Open(ctx, "p1", "")
	require.NoError(t, err)

	_, err = f.session.NewObject("car", concept.BoundingBox{X: 10, Y: 20, Width: 100, Height: 50})
	require.NoError(t, err)
	ed, err := f.session.EditText(carText)
	require.NoError(t, err)
	assert.Equal(t, []string{"small red car", "black wheels"}, substrings(ed.Concepts))
	assert.Equal(t, -1, ed.Selected)

	require.NoError(t, f.session.SetConceptEmbedding(0, []float32{0.9, 0.1, 0.0, 0.2}))

	saved, err := f.session.Save(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	assert.Equal(t, "p1-doc-00", saved.DocumentID)
	for _, c := range saved.Concepts {
		assert.NotEmpty(t, c.ID)
	}

	remote := f.srv.Objects("p1-doc-00")
	require.Len(t, remote, 1)
	assert.Equal(t, carText, remote[0].Text)

	local, err := f.store.GetAnnotation(saved.ID)
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.Equal(t, "car", local.Label)

	phrase, err := f.store.GetPhraseByText("p1", "small red car")
	require.NoError(t, err)
	require.NotNil(t, phrase)
	assert.Equal(t, 1, phrase.Uses)
	assert.Len(t, f.session.Vocabulary(), 2)

	assert.Equal(t, 1, f.vectors.Len())
	similar, err := f.session.Similar([]float32{0.9, 0.1, 0.0, 0.2}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{saved.Concepts[0].ID}, similar)

	// Editing keeps concepts that still sit at the same span.
	ed, err = f.session.EditText("a small red car with big black wheels")
	require.NoError(t, err)
	require.Equal(t, []string{"small red car", "black wheels"}, substrings(ed.Concepts))
	assert.Equal(t, saved.Concepts[0].ID, ed.Concepts[0].ID)
	assert.Equal(t, []float32{0.9, 0.1, 0.0, 0.2}, ed.Concepts[0].Feature.Embedding)
	assert.Equal(t, concept.Range{Start: 6, End: 7}, ed.Concepts[1].Range)
	assert.Empty(t, ed.Concepts[1].ID)

	again, err := f.session.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, again.ID)

	versions, err := f.store.ListAnnotationVersions(saved.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	phrase, err = f.store.GetPhraseByText("p1", "black wheels")
	require.NoError(t, err)
	assert.Equal(t, 2, phrase.Uses)

	assert.Len(t, f.session.Objects(), 1)
	assert.Contains(t, f.srv.Requests(), "PUT /project/p1/idoc/p1-doc-00/iobj/"+saved.ID)
}

func TestLearnedVocabularyShapesProposals(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertPhrase(&store.Phrase{ID: "ph1", ProjectID: "p1", Text: "wheels", Uses: 3}))

	_, err := f.session.Open(ctx, "p1", "")
	require.NoError(t, err)
	_, err = f.session.NewObject("car", concept.BoundingBox{Width: 1, Height: 1})
	require.NoError(t, err)

	ed, err := f.session.EditText(carText)
	require.NoError(t, err)
	assert.Equal(t, []string{"small red car", "wheels"}, substrings(ed.Concepts))
}

func TestConceptEdits(t *testing.T) {
	var logs bytes.Buffer
	f := newFixture(t, 1)
	f.session.log = diag.New(&logs, diag.Logging{Level: "debug"})
	ctx := context.Background()
	_, err := f.session.Open(ctx, "p1", "")
	require.NoError(t, err)

	_, err = f.session.AddConcept(0, 1)
	assert.ErrorIs(t, err, ErrNoObject)

	_, err = f.session.NewObject("car", concept.BoundingBox{Width: 1, Height: 1})
	require.NoError(t, err)
	_, err = f.session.EditText(carText)
	require.NoError(t, err)

	at, err := f.session.AddConcept(4, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, at)
	ed, _ := f.session.Editor()
	assert.Equal(t, []string{"small red car", "with", "black wheels"}, substrings(ed.Concepts))
	assert.Equal(t, 1, ed.Selected)

	_, err = f.session.AddConcept(4, 3)
	assert.ErrorIs(t, err, concept.ErrOverlap)
	_, err = f.session.AddConcept(6, 9)
	assert.ErrorIs(t, err, concept.ErrInvalidRange)

	require.NoError(t, f.session.RemoveConcept(0))
	ed, _ = f.session.Editor()
	assert.Equal(t, []string{"with", "black wheels"}, substrings(ed.Concepts))
	assert.Equal(t, 0, ed.Selected, "selection follows its concept")

	require.NoError(t, f.session.ToggleConcept(1))
	box := concept.BoundingBox{X: 5, Y: 5, Width: 10, Height: 10}
	require.NoError(t, f.session.SetConceptBox(1, &box))
	ed, _ = f.session.Editor()
	assert.False(t, ed.Concepts[1].Visible)
	require.NotNil(t, ed.Concepts[1].Feature.Box)
	assert.Equal(t, box, *ed.Concepts[1].Feature.Box)

	require.NoError(t, f.session.SetConceptBox(1, nil))
	ed, _ = f.session.Editor()
	assert.Nil(t, ed.Concepts[1].Feature.Box)

	// Out-of-range indexes are logged and ignored.
	require.NoError(t, f.session.RemoveConcept(7))
	require.NoError(t, f.session.ToggleConcept(-1))
	ed, _ = f.session.Editor()
	assert.Len(t, ed.Concepts, 2)
	assert.Contains(t, logs.String(), "concept index out of range")

	require.NoError(t, f.session.SelectConcept(-1))
	ed, _ = f.session.Editor()
	assert.Equal(t, -1, ed.Selected)
}

func TestSelectExistingObject(t *testing.T) {
	f := newFixture(t, 1)
	f.srv.AddObject(store.Annotation{
		ID:         "obj-a",
		ProjectID:  "p1",
		DocumentID: "p1-doc-00",
		Label:      "car",
		Text:       "red car",
		Tokens:     []string{"red", "car"},
		Concepts:   []concept.Concept{{ID: "c1", Range: concept.Range{Start: 0, End: 1}, Substring: "red car", Visible: true}},
	})
	f.srv.AddObject(store.Annotation{ID: "obj-b", ProjectID: "p1", DocumentID: "p1-doc-00", Text: carText})
	_, err := f.session.Open(context.Background(), "p1", "")
	require.NoError(t, err)

	ed, err := f.session.Select("obj-a")
	require.NoError(t, err)
	assert.Equal(t, "obj-a", ed.AnnotationID)
	assert.Equal(t, []string{"red car"}, substrings(ed.Concepts))
	assert.Equal(t, -1, ed.Selected)

	ed, err = f.session.Select("obj-b")
	require.NoError(t, err)
	assert.Len(t, ed.Tokens, 7, "untokenized text is proposed on select")
	assert.Equal(t, []string{"small red car", "black wheels"}, substrings(ed.Concepts))

	_, err = f.session.Select("missing")
	assert.Error(t, err)
}

func TestDeleteObject(t *testing.T) {
	f := newFixture(t, 1)
	f.srv.AddObject(store.Annotation{ID: "obj-a", ProjectID: "p1", DocumentID: "p1-doc-00", Label: "car"})
	ctx := context.Background()
	_, err := f.session.Open(ctx, "p1", "")
	require.NoError(t, err)
	_, err = f.session.Select("obj-a")
	require.NoError(t, err)

	require.NoError(t, f.session.DeleteObject(ctx, "obj-a"))
	assert.Empty(t, f.session.Objects())
	assert.Empty(t, f.srv.Objects("p1-doc-00"))
	_, ok := f.session.Editor()
	assert.False(t, ok)

	local, err := f.store.GetAnnotation("obj-a")
	require.NoError(t, err)
	assert.Nil(t, local)
}

func TestCloseResets(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertPhrase(&store.Phrase{ID: "ph1", ProjectID: "p1", Text: "wheels"}))
	_, err := f.session.Open(ctx, "p1", "")
	require.NoError(t, err)
	require.NotEmpty(t, f.session.Vocabulary())

	f.session.Close()

	_, ok := f.session.Current()
	assert.False(t, ok)
	assert.Nil(t, f.session.Project())
	assert.Empty(t, f.session.Vocabulary())
	_, _, err = f.session.Next(ctx)
	assert.ErrorIs(t, err, ErrNoProject)
	_, err = f.session.Save(ctx)
	assert.ErrorIs(t, err, ErrNoObject)
}

func TestOfflineSession(t *testing.T) {
	ms := store.NewMemStore()
	require.NoError(t, ms.UpsertProject(&store.Project{ID: "p1", Name: "Streets"}))
	for i, id := range []string{"d0", "d1", "d2"} {
		require.NoError(t, ms.UpsertDocument(&store.Document{ID: id, ProjectID: "p1", SortKey: int64(i)}))
	}
	require.NoError(t, ms.CreateAnnotation(&store.Annotation{ID: "obj-a", ProjectID: "p1", DocumentID: "d0", Label: "car"}))

	cfg := config.Defaults()
	cfg.Window.Mode = config.ModeOffline
	s, err := New(Deps{Store: ms, Logger: diag.Nop()}, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	doc, err := s.Open(ctx, "p1", "")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "d0", doc.ID)
	assert.Len(t, s.Objects(), 1)

	next, ok, err := s.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "d1", next.ID)

	_, err = s.NewObject("car", concept.BoundingBox{Width: 1, Height: 1})
	require.NoError(t, err)
	_, err = s.EditText(carText)
	require.NoError(t, err)
	saved, err := s.Save(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	objs, err := ms.ListAnnotations("d1")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, carText, objs[0].Text)

	_, err = s.Open(ctx, "missing", "")
	assert.Error(t, err)
}

func TestOfflineSQLiteFeatures(t *testing.T) {
	db, err := store.NewSQLiteStore()
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.UpsertProject(&store.Project{ID: "p1", Name: "Streets"}))
	require.NoError(t, db.UpsertDocument(&store.Document{ID: "d0", ProjectID: "p1", Name: "img_00.jpg"}))

	cfg := config.Defaults()
	cfg.Window.Mode = config.ModeOffline
	cfg.Vectors.Backend = config.BackendSQLite
	s, err := New(Deps{Store: db, Vectors: db.Features(), Logger: diag.Nop()}, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Open(ctx, "p1", "")
	require.NoError(t, err)
	_, err = s.NewObject("car", concept.BoundingBox{Width: 1, Height: 1})
	require.NoError(t, err)
	_, err = s.EditText(carText)
	require.NoError(t, err)
	require.NoError(t, s.SetConceptEmbedding(0, []float32{1, 0, 0}))
	require.NoError(t, s.SetConceptEmbedding(1, []float32{0, 1, 0}))

	saved, err := s.Save(ctx)
	require.NoError(t, err)
	n, err := db.Features().Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	similar, err := s.Similar([]float32{0.1, 0.9, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{saved.Concepts[1].ID, saved.Concepts[0].ID}, similar)
}
