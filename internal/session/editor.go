package session

import (
	"fmt"
	"slices"

	"github.com/kittclouds/annokitt/pkg/concept"
)

// Select loads an object of the current document into the editor.
func (s *Session) Select(annotationID string) (Editor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.objects {
		if a.ID != annotationID {
			continue
		}
		s.editor = &Editor{
			AnnotationID: a.ID,
			Label:        a.Label,
			Category:     a.Category,
			Box:          a.Box,
			Text:         a.Text,
			Tokens:       slices.Clone(a.Tokens),
			Concepts:     concept.Clone(a.Concepts),
			Selected:     -1,
		}
		if len(a.Tokens) == 0 && a.Text != "" {
			s.retext(a.Text)
		}
		return s.editor.clone(), nil
	}
	return Editor{}, fmt.Errorf("session: object %q not on current document", annotationID)
}

// NewObject starts describing a new object drawn at box.
func (s *Session) NewObject(label string, box concept.BoundingBox) (Editor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.currentDoc(); !ok {
		return Editor{}, ErrNoDocument
	}
	s.editor = &Editor{Label: label, Box: box, Tokens: []string{}, Concepts: []concept.Concept{}, Selected: -1}
	return s.editor.clone(), nil
}

// Editor returns a copy of the editor state.
func (s *Session) Editor() (Editor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editor == nil {
		return Editor{}, false
	}
	return s.editor.clone(), true
}

// EditText replaces the object's description. Concepts whose substring
// still sits at the same token span survive with their features; the
// remaining tokens get fresh proposals.
func (s *Session) EditText(text string) (Editor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editor == nil {
		return Editor{}, ErrNoObject
	}
	s.retext(text)
	return s.editor.clone(), nil
}

func (s *Session) retext(text string) {
	p := s.suggester.Propose(text)

	concepts := make([]concept.Concept, 0, len(p.Concepts))
	for _, c := range s.editor.Concepts {
		if c.Range.End < len(p.Tokens) && concept.Substring(p.Tokens, c.Range) == c.Substring {
			concepts = append(concepts, c)
		}
	}
	kept := len(concepts)
	for _, c := range p.Concepts {
		next, _, err := concept.InsertSorted(concepts, c)
		if err != nil {
			continue
		}
		concepts = next
	}

	s.editor.Text = text
	s.editor.Tokens = p.Tokens
	s.editor.Concepts = concepts
	s.editor.Selected = -1
	s.log.Debug("text edited", "tokens", len(p.Tokens), "kept", kept, "concepts", len(concepts))
}

// AddConcept marks the tokens between markA and markB (in either order)
// as a new concept and selects it. It returns the concept's index.
func (s *Session) AddConcept(markA, markB int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editor == nil {
		return -1, ErrNoObject
	}
	r := concept.NewRange(markA, markB)
	if r.Start < 0 || r.End >= len(s.editor.Tokens) {
		return -1, fmt.Errorf("session: add concept: %w: [%d,%d] with %d tokens",
			concept.ErrInvalidRange, r.Start, r.End, len(s.editor.Tokens))
	}
	c := concept.Concept{Range: r, Substring: concept.Substring(s.editor.Tokens, r), Visible: true}
	concepts, at, err := concept.InsertSorted(s.editor.Concepts, c)
	if err != nil {
		return -1, fmt.Errorf("session: add concept: %w", err)
	}
	s.editor.Concepts = concepts
	s.editor.Selected = at
	return at, nil
}

// RemoveConcept deletes concept i and keeps the selection on the same
// concept when it survives.
func (s *Session) RemoveConcept(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editor == nil {
		return ErrNoObject
	}
	if !s.checkIndex("remove", i) {
		return nil
	}
	s.editor.Concepts = concept.Remove(s.editor.Concepts, i)
	s.editor.Selected = concept.AdjustSelection(s.editor.Selected, i)
	return nil
}

// SelectConcept selects concept i; -1 clears the selection.
func (s *Session) SelectConcept(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editor == nil {
		return ErrNoObject
	}
	if i != -1 && !s.checkIndex("select", i) {
		return nil
	}
	s.editor.Selected = i
	return nil
}

// ToggleConcept flips the visibility of concept i.
func (s *Session) ToggleConcept(i int) error {
	return s.editConcept("toggle", i, func(cs []concept.Concept) []concept.Concept {
		return concept.SetVisible(cs, i, !cs[i].Visible)
	})
}

// SetConceptBox links concept i to a region of the image; nil unlinks it.
func (s *Session) SetConceptBox(i int, box *concept.BoundingBox) error {
	return s.editConcept("box", i, func(cs []concept.Concept) []concept.Concept {
		return concept.SetBox(cs, i, box)
	})
}

// SetConceptEmbedding attaches a visual feature vector to concept i.
func (s *Session) SetConceptEmbedding(i int, vec []float32) error {
	return s.editConcept("embedding", i, func(cs []concept.Concept) []concept.Concept {
		return concept.SetEmbedding(cs, i, vec)
	})
}

func (s *Session) editConcept(op string, i int, fn func([]concept.Concept) []concept.Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.editor == nil {
		return ErrNoObject
	}
	if !s.checkIndex(op, i) {
		return nil
	}
	s.editor.Concepts = fn(s.editor.Concepts)
	return nil
}

// checkIndex logs and rejects a concept index outside the editor's list.
func (s *Session) checkIndex(op string, i int) bool {
	if i >= 0 && i < len(s.editor.Concepts) {
		return true
	}
	s.log.Warn("concept index out of range", "op", op, "index", i, "concepts", len(s.editor.Concepts))
	return false
}
