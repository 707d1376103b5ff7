package suggest

import (
	"testing"

	"github.com/kittclouds/annokitt/pkg/concept"
	"github.com/kittclouds/annokitt/pkg/vocab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposeFromChunksOnly(t *testing.T) {
	p := New(nil).Propose("a small red car with black wheels")

	assert.Equal(t, []string{"a", "small", "red", "car", "with", "black", "wheels"}, p.Tokens)
	assert.Equal(t, []int{-1, 0, 0, 0, -1, 1, 1}, p.Mask)
	require.Len(t, p.Concepts, 2)
	assert.Equal(t, "small red car", p.Concepts[0].Substring)
	assert.Equal(t, "black wheels", p.Concepts[1].Substring)
	assert.Equal(t, []Origin{FromChunk, FromChunk}, p.Origins)
}

func TestVocabularyWins(t *testing.T) {
	dict, err := vocab.Compile([]vocab.Entry{{ID: "w", Phrase: "wheels"}})
	require.NoError(t, err)

	p := New(dict).Propose("a small red car with black wheels")

	assert.Equal(t, []int{-1, 0, 0, 0, -1, -1, 1}, p.Mask)
	require.Len(t, p.Concepts, 2)
	assert.Equal(t, concept.Range{Start: 6, End: 6}, p.Concepts[1].Range)
	assert.Equal(t, []Origin{FromChunk, FromVocabulary}, p.Origins)
}

func TestMultiWordVocabularyPhrase(t *testing.T) {
	dict, err := vocab.Compile([]vocab.Entry{{ID: "tl", Phrase: "traffic light"}})
	require.NoError(t, err)

	s := New(nil)
	s.SetDictionary(dict)
	p := s.Propose("Traffic light, red.")

	require.NotEmpty(t, p.Concepts)
	assert.Equal(t, concept.Range{Start: 0, End: 1}, p.Concepts[0].Range)
	assert.Equal(t, "Traffic light", p.Concepts[0].Substring)
	assert.Equal(t, FromVocabulary, p.Origins[0])
}

func TestProposalMaskRoundTrips(t *testing.T) {
	texts := []string{
		"",
		"the dog is sitting on the grass",
		"a man who is holding an umbrella, and a striped cat.",
	}
	for _, text := range texts {
		p := New(nil).Propose(text)
		require.Len(t, p.Mask, len(p.Tokens), text)
		assert.Equal(t, p.Concepts, concept.Build(p.Tokens, p.Mask), text)
		assert.NoError(t, concept.Validate(p.Concepts, len(p.Tokens)), text)
		assert.Len(t, p.Origins, len(p.Concepts), text)
	}
}
