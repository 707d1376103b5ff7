// Package chunker splits annotation text into tokens and finds the phrase
// chunks (NP/VP/PP/ADJP/CLAUSE) used to propose concepts.
package chunker

import (
	"unicode"
	"unicode/utf8"

	"github.com/kittclouds/annokitt/pkg/concept"
)

// ============================================================================
// TextRange
// ============================================================================

// TextRange represents a byte offset span in text
type TextRange struct {
	Start int
	End   int
}

// Len returns the length of the range
func (r TextRange) Len() int {
	return r.End - r.Start
}

// Slice extracts the text covered by this range
func (r TextRange) Slice(text string) string {
	if r.Start < 0 || r.End > len(text) || r.Start > r.End {
		return ""
	}
	return text[r.Start:r.End]
}

// ============================================================================
// Token
// ============================================================================

// Token is a tagged word or punctuation mark.
type Token struct {
	Text  string
	POS   POS
	Range TextRange
}

// Tokenize splits text into words and standalone punctuation marks.
// Letters, digits, apostrophes and hyphens form words; whitespace is
// dropped; every other punctuation rune is its own token.
func Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/5)
	start := -1

	flush := func(end int) {
		if start != -1 {
			tokens = append(tokens, Token{Text: text[start:end], Range: TextRange{start, end}})
			start = -1
		}
	}

	for i, ch := range text {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '\'' || ch == '-' {
			if start == -1 {
				start = i
			}
			continue
		}
		flush(i)
		if unicode.IsPunct(ch) || unicode.IsSymbol(ch) {
			end := i + utf8.RuneLen(ch)
			tokens = append(tokens, Token{Text: text[i:end], Range: TextRange{i, end}})
		}
	}
	flush(len(text))
	return tokens
}

// Words returns the token texts.
func Words(tokens []Token) []string {
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.Text
	}
	return words
}

// ============================================================================
// Chunks
// ============================================================================

// ChunkKind represents the type of phrase chunk
type ChunkKind int

const (
	NounPhrase ChunkKind = iota
	VerbPhrase
	PrepPhrase
	AdjPhrase
	Clause
)

// String returns a readable name
func (k ChunkKind) String() string {
	switch k {
	case NounPhrase:
		return "NP"
	case VerbPhrase:
		return "VP"
	case PrepPhrase:
		return "PP"
	case AdjPhrase:
		return "ADJP"
	case Clause:
		return "CLAUSE"
	default:
		return "UNKNOWN"
	}
}

// Chunk is a detected phrase. Span and Head are token indices.
type Chunk struct {
	Kind ChunkKind
	Span concept.Range
	Head int
}

// Text returns the display text of the chunk.
func (c Chunk) Text(tokens []Token) string {
	return concept.Substring(Words(tokens), c.Span)
}

// ChunkResult holds the output of chunking
type ChunkResult struct {
	Chunks []Chunk
	Tokens []Token
}

// Chunker performs rule-based phrase detection
type Chunker struct {
	tagger *Tagger
}

// New creates a Chunker with the default lexicon.
func New() *Chunker {
	return &Chunker{tagger: NewTagger()}
}

// Tag tokenizes and POS-tags text.
func (c *Chunker) Tag(text string) []Token {
	tokens := Tokenize(text)
	tags := c.tagger.Tag(Words(tokens))
	for i := range tokens {
		tokens[i].POS = tags[i]
	}
	return tokens
}

// Chunk processes text and returns detected phrases
func (c *Chunker) Chunk(text string) ChunkResult {
	tokens := c.Tag(text)
	return ChunkResult{Chunks: findChunks(tokens), Tokens: tokens}
}

// Concepts returns the noun phrases of tagged tokens as concept ranges,
// without their leading determiners.
func (c *Chunker) Concepts(tokens []Token) []concept.Range {
	var out []concept.Range
	for i := 0; i < len(tokens); {
		np, n := tryNounPhrase(tokens, i)
		if n == 0 {
			i++
			continue
		}
		start := np.Span.Start
		for start < np.Span.End && tokens[start].POS == Determiner {
			start++
		}
		out = append(out, concept.Range{Start: start, End: np.Span.End})
		i += n
	}
	return out
}

func findChunks(tokens []Token) []Chunk {
	chunks := make([]Chunk, 0, len(tokens)/3)
	patterns := []func([]Token, int) (Chunk, int){
		tryPrepPhrase, tryVerbPhrase, tryNounPhrase, tryAdjPhrase, tryClause,
	}

	for i := 0; i < len(tokens); {
		if tokens[i].POS == Punctuation {
			i++
			continue
		}
		consumed := 0
		for _, try := range patterns {
			var chunk Chunk
			if chunk, consumed = try(tokens, i); consumed > 0 {
				chunks = append(chunks, chunk)
				break
			}
		}
		if consumed == 0 {
			consumed = 1
		}
		i += consumed
	}
	return chunks
}

func span(start, end int) concept.Range {
	return concept.Range{Start: start, End: end}
}

// tryNounPhrase: Det? Adj* Noun+
func tryNounPhrase(tokens []Token, start int) (Chunk, int) {
	i := start
	if i < len(tokens) && tokens[i].POS == Determiner {
		i++
	}
	for i < len(tokens) && tokens[i].POS == Adjective {
		i++
	}
	nounStart := i
	for i < len(tokens) && tokens[i].POS.IsNominal() {
		i++
	}
	if i == nounStart {
		return Chunk{}, 0
	}
	return Chunk{Kind: NounPhrase, Span: span(start, i-1), Head: i - 1}, i - start
}

// tryVerbPhrase: Aux? Adv* Verb Adv*
func tryVerbPhrase(tokens []Token, start int) (Chunk, int) {
	i := start
	if i < len(tokens) && (tokens[i].POS == Auxiliary || tokens[i].POS == Modal) {
		i++
	}
	for i < len(tokens) && tokens[i].POS == Adverb {
		i++
	}
	if i >= len(tokens) || tokens[i].POS != Verb {
		return Chunk{}, 0
	}
	head := i
	i++
	for i < len(tokens) && tokens[i].POS == Adverb {
		i++
	}
	return Chunk{Kind: VerbPhrase, Span: span(start, i-1), Head: head}, i - start
}

// tryPrepPhrase: Prep NP
func tryPrepPhrase(tokens []Token, start int) (Chunk, int) {
	if start >= len(tokens) || tokens[start].POS != Preposition {
		return Chunk{}, 0
	}
	np, n := tryNounPhrase(tokens, start+1)
	if n == 0 {
		return Chunk{}, 0
	}
	return Chunk{Kind: PrepPhrase, Span: span(start, np.Span.End), Head: start}, 1 + n
}

// tryAdjPhrase: Adv+ Adj
func tryAdjPhrase(tokens []Token, start int) (Chunk, int) {
	i := start
	for i < len(tokens) && tokens[i].POS == Adverb {
		i++
	}
	if i == start || i >= len(tokens) || tokens[i].POS != Adjective {
		return Chunk{}, 0
	}
	return Chunk{Kind: AdjPhrase, Span: span(start, i), Head: i}, i - start + 1
}

// tryClause: RelPronoun VP (NP)?
func tryClause(tokens []Token, start int) (Chunk, int) {
	if start >= len(tokens) || tokens[start].POS != RelativePronoun {
		return Chunk{}, 0
	}
	i := start + 1
	vp, n := tryVerbPhrase(tokens, i)
	if n == 0 {
		return Chunk{}, 0
	}
	i += n
	end := vp.Span.End
	if np, m := tryNounPhrase(tokens, i); m > 0 {
		end = np.Span.End
		i += m
	}
	return Chunk{Kind: Clause, Span: span(start, end), Head: vp.Head}, i - start
}
