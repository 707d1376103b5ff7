package concept

import (
	"fmt"
	"sort"
)

// Every edit below is pure: it returns a fresh slice and never touches the
// input, so a caller either sees the old list or the new one.

// Insert places c at position at. The position is clamped to [0, len].
func Insert(concepts []Concept, at int, c Concept) []Concept {
	at = clamp(at, 0, len(concepts))
	out := make([]Concept, 0, len(concepts)+1)
	out = append(out, Clone(concepts[:at])...)
	out = append(out, c.clone())
	out = append(out, Clone(concepts[at:])...)
	return out
}

// InsertSorted inserts c at the position that keeps ranges in token order.
// It returns the new list and the index c landed at.
func InsertSorted(concepts []Concept, c Concept) ([]Concept, int, error) {
	if !c.Range.Valid() {
		return nil, -1, fmt.Errorf("%w: [%d,%d]", ErrInvalidRange, c.Range.Start, c.Range.End)
	}
	at, err := Position(concepts, c.Range)
	if err != nil {
		return nil, -1, err
	}
	return Insert(concepts, at, c), at, nil
}

// Position returns where r belongs in a sorted concept list.
func Position(concepts []Concept, r Range) (int, error) {
	at := sort.Search(len(concepts), func(i int) bool {
		return concepts[i].Range.Start > r.Start
	})
	if at > 0 && concepts[at-1].Range.Overlaps(r) {
		return -1, fmt.Errorf("%w: [%d,%d] meets concept %d", ErrOverlap, r.Start, r.End, at-1)
	}
	if at < len(concepts) && concepts[at].Range.Overlaps(r) {
		return -1, fmt.Errorf("%w: [%d,%d] meets concept %d", ErrOverlap, r.Start, r.End, at)
	}
	return at, nil
}

// Remove drops the concept at position at. An index outside the list
// returns an unchanged copy.
func Remove(concepts []Concept, at int) []Concept {
	if at < 0 || at >= len(concepts) {
		return Clone(concepts)
	}
	out := make([]Concept, 0, len(concepts)-1)
	out = append(out, Clone(concepts[:at])...)
	out = append(out, Clone(concepts[at+1:])...)
	return out
}

// AdjustSelection fixes a selected index after removing position removed.
// It returns -1 when the selection itself was removed.
func AdjustSelection(selected, removed int) int {
	switch {
	case selected < 0:
		return -1
	case selected == removed:
		return -1
	case selected > removed:
		return selected - 1
	default:
		return selected
	}
}

// SetVisible toggles the visibility flag of concept i.
func SetVisible(concepts []Concept, i int, visible bool) []Concept {
	return update(concepts, i, func(c *Concept) { c.Visible = visible })
}

// SetBox links concept i to a sub-region of the object. A nil box unlinks it.
func SetBox(concepts []Concept, i int, box *BoundingBox) []Concept {
	return update(concepts, i, func(c *Concept) {
		if box == nil {
			c.Feature.Box = nil
			return
		}
		b := *box
		c.Feature.Box = &b
	})
}

// SetEmbedding stores the visual feature vector of concept i.
func SetEmbedding(concepts []Concept, i int, vec []float32) []Concept {
	return update(concepts, i, func(c *Concept) {
		c.Feature.Embedding = append([]float32(nil), vec...)
	})
}

// Retext recomputes every substring against a new token stream.
func Retext(tokens []string, concepts []Concept) []Concept {
	out := Clone(concepts)
	for i := range out {
		out[i].Substring = Substring(tokens, out[i].Range)
	}
	return out
}

func update(concepts []Concept, i int, fn func(*Concept)) []Concept {
	out := Clone(concepts)
	if i >= 0 && i < len(out) {
		fn(&out[i])
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
