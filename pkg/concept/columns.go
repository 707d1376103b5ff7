package concept

import "fmt"

// Columns is the parallel-array layout the UI binds to. It is always
// derived from a concept list, never edited on its own.
type Columns struct {
	Ranges     []Range   `json:"ranges"`
	Substrings []string  `json:"substrings"`
	Visible    []bool    `json:"visible"`
	Features   []Feature `json:"features"`
}

// Len returns the shared column length, or -1 when the columns disagree.
func (c Columns) Len() int {
	n := len(c.Ranges)
	if len(c.Substrings) != n || len(c.Visible) != n || len(c.Features) != n {
		return -1
	}
	return n
}

// Split projects concepts onto aligned columns.
func Split(concepts []Concept) Columns {
	cols := Columns{
		Ranges:     make([]Range, len(concepts)),
		Substrings: make([]string, len(concepts)),
		Visible:    make([]bool, len(concepts)),
		Features:   make([]Feature, len(concepts)),
	}
	for i, c := range Clone(concepts) {
		cols.Ranges[i] = c.Range
		cols.Substrings[i] = c.Substring
		cols.Visible[i] = c.Visible
		cols.Features[i] = c.Feature
	}
	return cols
}

// Join folds aligned columns back into concept records.
// Missing Visible or Features columns (nil) default to visible with no feature.
func Join(cols Columns) ([]Concept, error) {
	n := len(cols.Ranges)
	if len(cols.Substrings) != n {
		return nil, fmt.Errorf("%w: %d ranges, %d substrings", ErrMisaligned, n, len(cols.Substrings))
	}
	if cols.Visible != nil && len(cols.Visible) != n {
		return nil, fmt.Errorf("%w: %d ranges, %d visibility flags", ErrMisaligned, n, len(cols.Visible))
	}
	if cols.Features != nil && len(cols.Features) != n {
		return nil, fmt.Errorf("%w: %d ranges, %d features", ErrMisaligned, n, len(cols.Features))
	}

	concepts := make([]Concept, n)
	for i := 0; i < n; i++ {
		c := Concept{Range: cols.Ranges[i], Substring: cols.Substrings[i], Visible: true}
		if cols.Visible != nil {
			c.Visible = cols.Visible[i]
		}
		if cols.Features != nil {
			c.Feature = cols.Features[i]
		}
		concepts[i] = c.clone()
	}
	return concepts, nil
}

// Validate checks that ranges are well formed, sorted, disjoint and inside
// a stream of nTokens tokens.
func Validate(concepts []Concept, nTokens int) error {
	for i, c := range concepts {
		if !c.Range.Valid() || c.Range.End >= nTokens {
			return fmt.Errorf("%w: concept %d [%d,%d] with %d tokens",
				ErrInvalidRange, i, c.Range.Start, c.Range.End, nTokens)
		}
		if i > 0 && concepts[i-1].Range.End >= c.Range.Start {
			return fmt.Errorf("%w: concepts %d and %d", ErrOverlap, i-1, i)
		}
	}
	return nil
}
