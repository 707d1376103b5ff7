package concept

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConcepts() []Concept {
	return []Concept{
		{ID: "c1", Range: Range{1, 2}, Substring: "red car", Visible: true,
			Feature: Feature{Box: &BoundingBox{X: 1, Y: 2, Width: 10, Height: 20}}},
		{ID: "c2", Range: Range{5, 6}, Substring: "black wheels", Visible: false,
			Feature: Feature{Embedding: []float32{0.1, 0.2}}},
	}
}

func TestInsertRemoveRoundTrip(t *testing.T) {
	base := sampleConcepts()
	added := Concept{ID: "new", Range: Range{3, 4}, Substring: "big door", Visible: true}

	for at := 0; at <= len(base); at++ {
		inserted := Insert(base, at, added)
		require.Len(t, inserted, len(base)+1)
		assert.Equal(t, added, inserted[at])

		restored := Remove(inserted, at)
		assert.Equal(t, base, restored, "insert+remove at %d", at)
	}
}

func TestInsertDoesNotMutateInput(t *testing.T) {
	base := sampleConcepts()
	snapshot := Clone(base)

	out := Insert(base, 1, Concept{Range: Range{3, 3}})
	out[0].Feature.Box.X = 99
	out[2].Feature.Embedding[0] = 42

	assert.Equal(t, snapshot, base)
}

func TestInsertClampsIndex(t *testing.T) {
	base := sampleConcepts()
	c := Concept{ID: "x"}

	assert.Equal(t, "x", Insert(base, -5, c)[0].ID)
	assert.Equal(t, "x", Insert(base, 50, c)[2].ID)
}

func TestRemoveOutOfRangeIsNoop(t *testing.T) {
	base := sampleConcepts()
	assert.Equal(t, base, Remove(base, -1))
	assert.Equal(t, base, Remove(base, 2))
}

func TestAlignmentAfterEdits(t *testing.T) {
	concepts := sampleConcepts()
	ops := []func([]Concept) []Concept{
		func(c []Concept) []Concept { return Insert(c, 0, Concept{Range: Range{0, 0}}) },
		func(c []Concept) []Concept { return Remove(c, 1) },
		func(c []Concept) []Concept { return Insert(c, len(c), Concept{Range: Range{8, 9}}) },
		func(c []Concept) []Concept { return SetVisible(c, 0, false) },
		func(c []Concept) []Concept { return Remove(c, 0) },
		func(c []Concept) []Concept { return Remove(c, 7) },
	}

	for _, op := range ops {
		concepts = op(concepts)
		cols := Split(concepts)
		assert.Equal(t, len(concepts), cols.Len())
		assert.Len(t, cols.Ranges, len(concepts))
		assert.Len(t, cols.Substrings, len(concepts))
		assert.Len(t, cols.Visible, len(concepts))
		assert.Len(t, cols.Features, len(concepts))
	}
}

func TestInsertSorted(t *testing.T) {
	base := sampleConcepts()

	out, at, err := InsertSorted(base, Concept{Range: Range{3, 4}, Substring: "mid"})
	require.NoError(t, err)
	assert.Equal(t, 1, at)
	assert.Equal(t, "mid", out[1].Substring)

	out, at, err = InsertSorted(base, Concept{Range: Range{0, 0}})
	require.NoError(t, err)
	assert.Equal(t, 0, at)
	require.NoError(t, Validate(out, 10))

	out, at, err = InsertSorted(base, Concept{Range: Range{8, 9}})
	require.NoError(t, err)
	assert.Equal(t, 2, at)
	require.NoError(t, Validate(out, 10))
}

func TestInsertSortedRejectsOverlap(t *testing.T) {
	base := sampleConcepts()

	_, _, err := InsertSorted(base, Concept{Range: Range{2, 3}})
	assert.ErrorIs(t, err, ErrOverlap)

	_, _, err = InsertSorted(base, Concept{Range: Range{4, 5}})
	assert.ErrorIs(t, err, ErrOverlap)

	_, _, err = InsertSorted(base, Concept{Range: Range{0, 9}})
	assert.ErrorIs(t, err, ErrOverlap)

	_, _, err = InsertSorted(base, Concept{Range: Range{4, 3}})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestAdjustSelection(t *testing.T) {
	assert.Equal(t, -1, AdjustSelection(2, 2))
	assert.Equal(t, 1, AdjustSelection(2, 0))
	assert.Equal(t, 2, AdjustSelection(2, 3))
	assert.Equal(t, -1, AdjustSelection(-1, 0))
}

func TestPointEdits(t *testing.T) {
	base := sampleConcepts()

	boxed := SetBox(base, 1, &BoundingBox{Width: 4, Height: 4})
	require.NotNil(t, boxed[1].Feature.Box)
	assert.Nil(t, base[1].Feature.Box)

	unboxed := SetBox(boxed, 0, nil)
	assert.Nil(t, unboxed[0].Feature.Box)

	vec := []float32{1, 2, 3}
	embedded := SetEmbedding(base, 0, vec)
	vec[0] = 9
	assert.Equal(t, []float32{1, 2, 3}, embedded[0].Feature.Embedding)

	assert.Equal(t, base, SetVisible(base, 10, true))
}

func TestRetext(t *testing.T) {
	tokens := strings.Fields("a blue car with grey wheels")
	concepts := []Concept{{Range: Range{1, 2}, Substring: "red car"}, {Range: Range{4, 9}}}

	out := Retext(tokens, concepts)
	assert.Equal(t, "blue car", out[0].Substring)
	assert.Equal(t, "grey wheels", out[1].Substring)
	assert.Equal(t, "red car", concepts[0].Substring)
}

// =============================================================================
// Columns
// =============================================================================

func TestSplitJoin(t *testing.T) {
	base := sampleConcepts()
	cols := Split(base)
	assert.Equal(t, []Range{{1, 2}, {5, 6}}, cols.Ranges)
	assert.Equal(t, []bool{true, false}, cols.Visible)

	joined, err := Join(cols)
	require.NoError(t, err)
	// IDs live only on the record
	for i := range joined {
		joined[i].ID = base[i].ID
	}
	assert.Equal(t, base, joined)
}

func TestJoinDefaultsAndMisalignment(t *testing.T) {
	concepts, err := Join(Columns{Ranges: []Range{{0, 1}}, Substrings: []string{"red car"}})
	require.NoError(t, err)
	assert.True(t, concepts[0].Visible)

	_, err = Join(Columns{Ranges: []Range{{0, 1}}, Substrings: nil})
	assert.ErrorIs(t, err, ErrMisaligned)

	_, err = Join(Columns{Ranges: []Range{{0, 1}}, Substrings: []string{"x"}, Visible: []bool{true, false}})
	assert.ErrorIs(t, err, ErrMisaligned)

	assert.Equal(t, -1, Columns{Ranges: []Range{{0, 0}}}.Len())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(sampleConcepts(), 7))
	assert.ErrorIs(t, Validate(sampleConcepts(), 6), ErrInvalidRange)

	unsorted := []Concept{{Range: Range{4, 5}}, {Range: Range{1, 2}}}
	assert.ErrorIs(t, Validate(unsorted, 10), ErrOverlap)
}
