// Package concept maps annotation token streams to concepts.
// A concept is a contiguous token span (adjectives + nouns) tied to a
// visual sub-region of the annotated object.
package concept

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrOverlap is returned when a new range intersects an existing concept.
	ErrOverlap = errors.New("concept: range overlaps an existing concept")
	// ErrMisaligned is returned when parallel columns differ in length.
	ErrMisaligned = errors.New("concept: columns are not index-aligned")
	// ErrInvalidRange is returned for negative or inverted ranges.
	ErrInvalidRange = errors.New("concept: invalid range")
)

// None marks a token that belongs to no concept.
const None = -1

// ============================================================================
// Range
// ============================================================================

// Range is an inclusive span of token indices.
type Range struct {
	Start int
	End   int
}

// NewRange normalizes a selection made by two token marks.
// The marks may come in either order; a negative second mark means the
// selection collapsed onto the first token.
func NewRange(a, b int) Range {
	if b < 0 || a == b {
		return Range{Start: a, End: a}
	}
	if b < a {
		a, b = b, a
	}
	return Range{Start: a, End: b}
}

// Len returns the number of tokens covered.
func (r Range) Len() int {
	return r.End - r.Start + 1
}

// Valid reports whether the range is non-negative and not inverted.
func (r Range) Valid() bool {
	return r.Start >= 0 && r.End >= r.Start
}

// Contains reports whether token index i falls in the range.
func (r Range) Contains(i int) bool {
	return i >= r.Start && i <= r.End
}

// Overlaps reports whether two ranges share a token.
func (r Range) Overlaps(other Range) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// MarshalJSON encodes the range as [start,end].
func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{r.Start, r.End})
}

// UnmarshalJSON decodes a [start,end] pair.
func (r *Range) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("concept range: %w", err)
	}
	r.Start, r.End = pair[0], pair[1]
	return nil
}

// ============================================================================
// Concept Record
// ============================================================================

// BoundingBox is a rectangle in image pixel space.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the box has no area.
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Feature is the visual payload attached to a concept.
type Feature struct {
	Box       *BoundingBox `json:"box,omitempty"`
	Embedding []float32    `json:"embedding,omitempty"`
}

// Concept is one span of an annotation together with its visual feature.
// Keeping range, text, visibility and feature in one record means an
// insert or delete can never leave them out of step.
type Concept struct {
	ID        string  `json:"id,omitempty"`
	Range     Range   `json:"range"`
	Substring string  `json:"substring"`
	Visible   bool    `json:"visible"`
	Feature   Feature `json:"feature"`
}

func (c Concept) clone() Concept {
	out := c
	if c.Feature.Box != nil {
		box := *c.Feature.Box
		out.Feature.Box = &box
	}
	if c.Feature.Embedding != nil {
		out.Feature.Embedding = append([]float32(nil), c.Feature.Embedding...)
	}
	return out
}

// Clone deep-copies a concept slice.
func Clone(concepts []Concept) []Concept {
	if concepts == nil {
		return nil
	}
	out := make([]Concept, len(concepts))
	for i, c := range concepts {
		out[i] = c.clone()
	}
	return out
}
