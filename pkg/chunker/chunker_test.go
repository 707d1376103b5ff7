package chunker

import (
	"testing"

	"github.com/kittclouds/annokitt/pkg/concept"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	text := "a dog, sitting."
	tokens := Tokenize(text)

	assert.Equal(t, []string{"a", "dog", ",", "sitting", "."}, Words(tokens))
	for _, tok := range tokens {
		assert.Equal(t, tok.Text, tok.Range.Slice(text))
	}
	assert.Equal(t, TextRange{Start: 5, End: 6}, tokens[2].Range)
}

func TestTokenizeKeepsHyphensAndApostrophes(t *testing.T) {
	words := Words(Tokenize("the dog's half-open mouth"))
	assert.Equal(t, []string{"the", "dog's", "half-open", "mouth"}, words)
}

func TestTokenizeEmpty(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("   "))
}

func TestTagger(t *testing.T) {
	tagger := NewTagger()
	tags := tagger.Tag([]string{"the", "red", "car", "is", "parked", "near", "3", "wheels", "."})
	assert.Equal(t, []POS{Determiner, Adjective, Noun, Auxiliary, Verb, Preposition, Adjective, Noun, Punctuation}, tags)
}

func TestTaggerSuffixRules(t *testing.T) {
	tagger := NewTagger()
	tags := tagger.Tag([]string{"slowly", "colourful", "Zebra"})
	assert.Equal(t, []POS{Adverb, Adjective, Noun}, tags)
}

func TestChunkNounAndPrepPhrases(t *testing.T) {
	res := New().Chunk("a small red car with black wheels")

	require.Len(t, res.Chunks, 2)
	assert.Equal(t, NounPhrase, res.Chunks[0].Kind)
	assert.Equal(t, concept.Range{Start: 0, End: 3}, res.Chunks[0].Span)
	assert.Equal(t, 3, res.Chunks[0].Head)
	assert.Equal(t, "a small red car", res.Chunks[0].Text(res.Tokens))

	assert.Equal(t, PrepPhrase, res.Chunks[1].Kind)
	assert.Equal(t, concept.Range{Start: 4, End: 6}, res.Chunks[1].Span)
}

func TestChunkVerbPhrase(t *testing.T) {
	res := New().Chunk("the dog is sitting on the grass")

	kinds := make([]string, len(res.Chunks))
	for i, c := range res.Chunks {
		kinds[i] = c.Kind.String()
	}
	assert.Equal(t, []string{"NP", "VP", "PP"}, kinds)
	assert.Equal(t, concept.Range{Start: 2, End: 3}, res.Chunks[1].Span)
	assert.Equal(t, 3, res.Chunks[1].Head)
}

func TestChunkClause(t *testing.T) {
	res := New().Chunk("a man who is holding an umbrella")

	require.Len(t, res.Chunks, 2)
	assert.Equal(t, Clause, res.Chunks[1].Kind)
	assert.Equal(t, concept.Range{Start: 2, End: 6}, res.Chunks[1].Span)
}

func TestConceptsStripDeterminers(t *testing.T) {
	c := New()
	tokens := c.Tag("a small red car with black wheels")

	got := c.Concepts(tokens)
	assert.Equal(t, []concept.Range{{Start: 1, End: 3}, {Start: 5, End: 6}}, got)
}

func TestConceptsNone(t *testing.T) {
	c := New()
	assert.Empty(t, c.Concepts(c.Tag("is very , .")))
}

func TestChunkKindString(t *testing.T) {
	assert.Equal(t, "ADJP", AdjPhrase.String())
	assert.Equal(t, "UNKNOWN", ChunkKind(42).String())
}
