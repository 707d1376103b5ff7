// Package store mirrors remote annotation records locally: projects, their
// documents (images), versioned object annotations and the concept
// vocabulary. SQLiteStore is the production implementation; MemStore backs
// tests.
package store

import "github.com/kittclouds/annokitt/pkg/concept"

// Project groups the documents a team annotates together.
type Project struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Categories  []string `json:"categories"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// Document is one image of a project. SortKey defines the sequential
// ordering.
type Document struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	Name        string `json:"name"`
	ImageURL    string `json:"imageUrl"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	SortKey     int64  `json:"sortKey"`
	ObjectCount int    `json:"objectCount"`
	CreatedAt   int64  `json:"createdAt"`
}

// Annotation is an object drawn on a document: its box, label, free-text
// description and the concepts derived from that text.
// Uses the temporal table pattern for full version history.
type Annotation struct {
	ID         string              `json:"id"`
	Version    int                 `json:"version"`
	ProjectID  string              `json:"projectId"`
	DocumentID string              `json:"documentId"`
	Label      string              `json:"label"`
	Category   string              `json:"category,omitempty"`
	Box        concept.BoundingBox `json:"box"`
	Text       string              `json:"text"`
	Tokens     []string            `json:"tokens"`
	Concepts   []concept.Concept   `json:"concepts"`
	CreatedAt  int64               `json:"createdAt"`
	UpdatedAt  int64               `json:"updatedAt"`

	// Temporal fields for version tracking
	ValidFrom    int64  `json:"validFrom"`
	ValidTo      *int64 `json:"validTo,omitempty"`
	IsCurrent    bool   `json:"isCurrent"`
	ChangeReason string `json:"changeReason,omitempty"`
}

// Phrase is a concept vocabulary entry, learned from saved annotations.
type Phrase struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"projectId"`
	Text      string   `json:"text"`
	Aliases   []string `json:"aliases"`
	Uses      int      `json:"uses"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

// Storer defines the interface for local persistence.
// This allows swapping between MemStore (testing) and SQLiteStore (production).
// Lookups of missing records return nil, nil.
type Storer interface {
	// Projects
	UpsertProject(p *Project) error
	GetProject(id string) (*Project, error)
	ListProjects() ([]*Project, error)
	DeleteProject(id string) error

	// Documents
	UpsertDocument(d *Document) error
	GetDocument(id string) (*Document, error)
	DeleteDocument(id string) error
	ListDocuments(projectID string) ([]*Document, error)
	CountDocuments(projectID string) (int, error)
	// DocumentsAfter returns up to n documents with a larger sort key,
	// ascending.
	DocumentsAfter(projectID string, sortKey int64, n int) ([]*Document, error)
	// DocumentsBefore returns up to n documents with a smaller sort key,
	// oldest to newest.
	DocumentsBefore(projectID string, sortKey int64, n int) ([]*Document, error)

	// Annotations - version-aware
	CreateAnnotation(a *Annotation) error
	UpdateAnnotation(a *Annotation, reason string) error
	UpsertAnnotation(a *Annotation) error
	GetAnnotation(id string) (*Annotation, error)
	GetAnnotationVersion(id string, version int) (*Annotation, error)
	ListAnnotationVersions(id string) ([]*Annotation, error)
	RestoreAnnotationVersion(id string, version int) error
	ListAnnotations(documentID string) ([]*Annotation, error)
	DeleteAnnotation(id string) error
	CountAnnotations(documentID string) (int, error)

	// Phrases
	UpsertPhrase(p *Phrase) error
	GetPhrase(id string) (*Phrase, error)
	GetPhraseByText(projectID, text string) (*Phrase, error)
	ListPhrases(projectID string) ([]*Phrase, error)
	DeletePhrase(id string) error

	// Lifecycle
	Close() error
}
