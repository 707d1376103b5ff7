// SQLite-backed persistence for annokitt.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface.

package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// ErrVersionNotFound is returned when restoring a version that does not
// exist.
var ErrVersionNotFound = errors.New("annotation version not found")

func errVersionNotFound(id string, version int) error {
	return fmt.Errorf("%w: %s v%d", ErrVersionNotFound, id, version)
}

// SQLiteStore is the SQLite-backed data store.
// Thread-safe for concurrent WASM callbacks.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// schema defines all tables with temporal versioning for annotations.
const schema = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    categories TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    name TEXT NOT NULL,
    image_url TEXT,
    width INTEGER DEFAULT 0,
    height INTEGER DEFAULT 0,
    sort_key INTEGER NOT NULL,
    object_count INTEGER DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_order ON documents(project_id, sort_key);

-- Annotations (Temporal versioning pattern)
-- Composite primary key (id, version) enables full version history
CREATE TABLE IF NOT EXISTS annotations (
    id TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    project_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    label TEXT NOT NULL,
    category TEXT,
    box_x REAL DEFAULT 0,
    box_y REAL DEFAULT 0,
    box_w REAL DEFAULT 0,
    box_h REAL DEFAULT 0,
    text TEXT,
    tokens TEXT,
    concepts TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    valid_from INTEGER NOT NULL,
    valid_to INTEGER,
    is_current INTEGER DEFAULT 1,
    change_reason TEXT,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_annotations_current ON annotations(id) WHERE is_current = 1;
CREATE INDEX IF NOT EXISTS idx_annotations_document ON annotations(document_id) WHERE is_current = 1;

-- Concept vocabulary
CREATE TABLE IF NOT EXISTS phrases (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    text TEXT NOT NULL,
    aliases TEXT,
    uses INTEGER DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_phrases_text ON phrases(project_id, lower(text));

-- Concept features, ranked with sqlite-vec distance functions
CREATE TABLE IF NOT EXISTS concept_features (
    concept_id TEXT PRIMARY KEY,
    dims INTEGER NOT NULL,
    embedding BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(":memory:")
}

// NewSQLiteStoreWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path for persistent storage.
func NewSQLiteStoreWithDSN(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// VecVersion reports the version of the bundled sqlite-vec extension.
func (s *SQLiteStore) VecVersion() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v string
	if err := s.db.QueryRow(`SELECT vec_version()`).Scan(&v); err != nil {
		return "", fmt.Errorf("vec_version: %w", err)
	}
	return v, nil
}

// =============================================================================
// Projects
// =============================================================================

func (s *SQLiteStore) UpsertProject(p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	categories, err := marshalJSON(p.Categories)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO projects (id, name, description, categories, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			categories = excluded.categories,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, p.Description, categories, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", p.ID, err)
	}
	return nil
}

const projectColumns = `id, name, description, categories, created_at, updated_at`

func scanProject(row scanner) (*Project, error) {
	var p Project
	var description, categories sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &description, &categories, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Description = description.String
	if err := unmarshalJSON(categories, &p.Categories); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetProject(id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanProject(s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) ListProjects() ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) DeleteProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM projects WHERE id = ?`, id)
	return err
}

// =============================================================================
// Documents
// =============================================================================

func (s *SQLiteStore) UpsertDocument(d *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO documents (id, project_id, name, image_url, width, height, sort_key, object_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			name = excluded.name,
			image_url = excluded.image_url,
			width = excluded.width,
			height = excluded.height,
			sort_key = excluded.sort_key,
			object_count = excluded.object_count
	`, d.ID, d.ProjectID, d.Name, d.ImageURL, d.Width, d.Height, d.SortKey, d.ObjectCount, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", d.ID, err)
	}
	return nil
}

const documentColumns = `id, project_id, name, image_url, width, height, sort_key, object_count, created_at`

func scanDocument(row scanner) (*Document, error) {
	var d Document
	var imageURL sql.NullString
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Name, &imageURL, &d.Width, &d.Height,
		&d.SortKey, &d.ObjectCount, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.ImageURL = imageURL.String
	return &d, nil
}

func (s *SQLiteStore) queryDocuments(query string, args ...any) ([]*Document, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []*Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) GetDocument(id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := scanDocument(s.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (s *SQLiteStore) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) ListDocuments(projectID string) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryDocuments(`SELECT `+documentColumns+` FROM documents
		WHERE project_id = ? ORDER BY sort_key, id`, projectID)
}

func (s *SQLiteStore) CountDocuments(projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE project_id = ?`, projectID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) DocumentsAfter(projectID string, sortKey int64, n int) ([]*Document, error) {
	if n <= 0 {
		return []*Document{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryDocuments(`SELECT `+documentColumns+` FROM documents
		WHERE project_id = ? AND sort_key > ? ORDER BY sort_key, id LIMIT ?`, projectID, sortKey, n)
}

func (s *SQLiteStore) DocumentsBefore(projectID string, sortKey int64, n int) ([]*Document, error) {
	if n <= 0 {
		return []*Document{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs, err := s.queryDocuments(`SELECT `+documentColumns+` FROM documents
		WHERE project_id = ? AND sort_key < ? ORDER BY sort_key DESC, id DESC LIMIT ?`, projectID, sortKey, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
		docs[i], docs[j] = docs[j], docs[i]
	}
	return docs, nil
}

// =============================================================================
// Annotations (versioned)
// =============================================================================

const annotationColumns = `id, version, project_id, document_id, label, category,
	box_x, box_y, box_w, box_h, text, tokens, concepts,
	created_at, updated_at, valid_from, valid_to, is_current, change_reason`

func scanAnnotation(row scanner) (*Annotation, error) {
	var a Annotation
	var category, text, tokens, concepts, reason sql.NullString
	var validTo sql.NullInt64
	var isCurrent int

	if err := row.Scan(
		&a.ID, &a.Version, &a.ProjectID, &a.DocumentID, &a.Label, &category,
		&a.Box.X, &a.Box.Y, &a.Box.Width, &a.Box.Height, &text, &tokens, &concepts,
		&a.CreatedAt, &a.UpdatedAt, &a.ValidFrom, &validTo, &isCurrent, &reason,
	); err != nil {
		return nil, err
	}

	a.Category = category.String
	a.Text = text.String
	a.ChangeReason = reason.String
	a.IsCurrent = isCurrent != 0
	if validTo.Valid {
		a.ValidTo = &validTo.Int64
	}
	if err := unmarshalJSON(tokens, &a.Tokens); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(concepts, &a.Concepts); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) insertAnnotation(a *Annotation) error {
	tokens, err := marshalJSON(a.Tokens)
	if err != nil {
		return err
	}
	concepts, err := marshalJSON(a.Concepts)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO annotations (`+annotationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Version, a.ProjectID, a.DocumentID, a.Label, a.Category,
		a.Box.X, a.Box.Y, a.Box.Width, a.Box.Height, a.Text, tokens, concepts,
		a.CreatedAt, a.UpdatedAt, a.ValidFrom, a.ValidTo, boolToInt(a.IsCurrent), a.ChangeReason)
	if err != nil {
		return fmt.Errorf("insert annotation %s v%d: %w", a.ID, a.Version, err)
	}
	return nil
}

// CreateAnnotation creates a new annotation with version 1.
func (s *SQLiteStore) CreateAnnotation(a *Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAnnotation(a)
}

func (s *SQLiteStore) createAnnotation(a *Annotation) error {
	if a.Version == 0 {
		a.Version = 1
	}
	if a.ValidFrom == 0 {
		a.ValidFrom = a.CreatedAt
	}
	a.ValidTo = nil
	a.IsCurrent = true
	return s.insertAnnotation(a)
}

// UpdateAnnotation creates a new version of an existing annotation.
func (s *SQLiteStore) UpdateAnnotation(a *Annotation, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateAnnotation(a, reason)
}

func (s *SQLiteStore) updateAnnotation(a *Annotation, reason string) error {
	var createdAt int64
	err := s.db.QueryRow(`
		SELECT created_at FROM annotations
		WHERE id = ? AND is_current = 1
	`, a.ID).Scan(&createdAt)
	if err == sql.ErrNoRows {
		// Annotation doesn't exist, fall back to create
		return s.createAnnotation(a)
	}
	if err != nil {
		return err
	}

	var maxVersion int
	if err := s.db.QueryRow(`SELECT MAX(version) FROM annotations WHERE id = ?`, a.ID).Scan(&maxVersion); err != nil {
		return err
	}

	// Close old current version
	if _, err := s.db.Exec(`
		UPDATE annotations SET valid_to = ?, is_current = 0
		WHERE id = ? AND is_current = 1
	`, a.UpdatedAt, a.ID); err != nil {
		return err
	}

	a.Version = maxVersion + 1
	a.CreatedAt = createdAt // Preserve original creation time
	a.ValidFrom = a.UpdatedAt
	a.ValidTo = nil
	a.IsCurrent = true
	a.ChangeReason = reason
	return s.insertAnnotation(a)
}

// UpsertAnnotation creates or versions an annotation.
func (s *SQLiteStore) UpsertAnnotation(a *Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM annotations WHERE id = ? AND is_current = 1 LIMIT 1`, a.ID).Scan(&exists)
	if err == sql.ErrNoRows {
		return s.createAnnotation(a)
	}
	if err != nil {
		return err
	}
	return s.updateAnnotation(a, "upsert")
}

// GetAnnotation retrieves the current version of an annotation by ID.
func (s *SQLiteStore) GetAnnotation(id string) (*Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := scanAnnotation(s.db.QueryRow(`SELECT `+annotationColumns+`
		FROM annotations WHERE id = ? AND is_current = 1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetAnnotationVersion retrieves a specific version of an annotation.
func (s *SQLiteStore) GetAnnotationVersion(id string, version int) (*Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, err := scanAnnotation(s.db.QueryRow(`SELECT `+annotationColumns+`
		FROM annotations WHERE id = ? AND version = ?`, id, version))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStore) queryAnnotations(query string, args ...any) ([]*Annotation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ListAnnotationVersions returns all versions, newest first.
func (s *SQLiteStore) ListAnnotationVersions(id string) ([]*Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAnnotations(`SELECT `+annotationColumns+`
		FROM annotations WHERE id = ? ORDER BY version DESC`, id)
}

// RestoreAnnotationVersion restores a previous version by creating a new
// version with the old content.
func (s *SQLiteStore) RestoreAnnotationVersion(id string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := scanAnnotation(s.db.QueryRow(`SELECT `+annotationColumns+`
		FROM annotations WHERE id = ? AND version = ?`, id, version))
	if err == sql.ErrNoRows {
		return errVersionNotFound(id, version)
	}
	if err != nil {
		return err
	}

	var maxVersion int
	if err := s.db.QueryRow(`SELECT MAX(version) FROM annotations WHERE id = ?`, id).Scan(&maxVersion); err != nil {
		return err
	}

	now := nowMillis()
	if _, err := s.db.Exec(`
		UPDATE annotations SET valid_to = ?, is_current = 0
		WHERE id = ? AND is_current = 1
	`, now, id); err != nil {
		return err
	}

	old.Version = maxVersion + 1
	old.UpdatedAt = now
	old.ValidFrom = now
	old.ValidTo = nil
	old.IsCurrent = true
	old.ChangeReason = "restore"
	return s.insertAnnotation(old)
}

// ListAnnotations returns the current versions on a document.
func (s *SQLiteStore) ListAnnotations(documentID string) ([]*Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAnnotations(`SELECT `+annotationColumns+`
		FROM annotations WHERE document_id = ? AND is_current = 1
		ORDER BY created_at, id`, documentID)
}

// DeleteAnnotation removes all versions of an annotation.
func (s *SQLiteStore) DeleteAnnotation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM annotations WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) CountAnnotations(documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM annotations WHERE document_id = ? AND is_current = 1`, documentID).Scan(&n)
	return n, err
}

// =============================================================================
// Phrases
// =============================================================================

func (s *SQLiteStore) UpsertPhrase(p *Phrase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	aliases, err := marshalJSON(p.Aliases)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO phrases (id, project_id, text, aliases, uses, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			text = excluded.text,
			aliases = excluded.aliases,
			uses = excluded.uses,
			updated_at = excluded.updated_at
	`, p.ID, p.ProjectID, p.Text, aliases, p.Uses, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert phrase %s: %w", p.ID, err)
	}
	return nil
}

const phraseColumns = `id, project_id, text, aliases, uses, created_at, updated_at`

func scanPhrase(row scanner) (*Phrase, error) {
	var p Phrase
	var aliases sql.NullString
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Text, &aliases, &p.Uses, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(aliases, &p.Aliases); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetPhrase(id string) (*Phrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanPhrase(s.db.QueryRow(`SELECT `+phraseColumns+` FROM phrases WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) GetPhraseByText(projectID, text string) (*Phrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanPhrase(s.db.QueryRow(`SELECT `+phraseColumns+` FROM phrases
		WHERE project_id = ? AND lower(text) = lower(?) LIMIT 1`, projectID, text))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *SQLiteStore) ListPhrases(projectID string) ([]*Phrase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT `+phraseColumns+` FROM phrases
		WHERE project_id = ? ORDER BY text`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Phrase
	for rows.Next() {
		p, err := scanPhrase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) DeletePhrase(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM phrases WHERE id = ?`, id)
	return err
}

// =============================================================================
// Helpers
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode column: %w", err)
	}
	return string(b), nil
}

func unmarshalJSON[T any](col sql.NullString, dst *T) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("decode column: %w", err)
	}
	return nil
}
