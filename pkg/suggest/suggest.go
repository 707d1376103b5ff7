// Package suggest proposes a concept mask for a free-text object
// annotation. Known vocabulary phrases are preferred; noun phrases found by
// the chunker fill the remaining tokens.
package suggest

import (
	"sort"

	"github.com/kittclouds/annokitt/pkg/chunker"
	"github.com/kittclouds/annokitt/pkg/concept"
	"github.com/kittclouds/annokitt/pkg/vocab"
)

// Origin records why a concept was proposed.
type Origin string

const (
	FromVocabulary Origin = "vocabulary"
	FromChunk      Origin = "chunk"
)

// Proposal is a tokenized annotation with its proposed concepts.
type Proposal struct {
	Tokens   []string          `json:"tokens"`
	Mask     []int             `json:"mask"`
	Concepts []concept.Concept `json:"concepts"`
	Origins  []Origin          `json:"origins"`
}

// Suggester turns annotation text into a Proposal.
type Suggester struct {
	chunker *chunker.Chunker
	dict    *vocab.Dictionary
}

// New creates a Suggester. dict may be nil.
func New(dict *vocab.Dictionary) *Suggester {
	return &Suggester{chunker: chunker.New(), dict: dict}
}

// SetDictionary swaps the vocabulary used for matching.
func (s *Suggester) SetDictionary(dict *vocab.Dictionary) {
	s.dict = dict
}

type candidate struct {
	r      concept.Range
	origin Origin
}

// Propose tokenizes text and proposes non-overlapping concepts numbered in
// token order.
func (s *Suggester) Propose(text string) Proposal {
	tokens := s.chunker.Tag(text)
	words := chunker.Words(tokens)
	taken := make([]bool, len(tokens))

	var picked []candidate
	claim := func(r concept.Range, origin Origin) {
		for i := r.Start; i <= r.End; i++ {
			if taken[i] {
				return
			}
		}
		for i := r.Start; i <= r.End; i++ {
			taken[i] = true
		}
		picked = append(picked, candidate{r: r, origin: origin})
	}

	for _, m := range s.dict.Scan(text) {
		if r, ok := tokenSpan(tokens, m.Start, m.End); ok {
			claim(r, FromVocabulary)
		}
	}
	for _, r := range s.chunker.Concepts(tokens) {
		claim(r, FromChunk)
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i].r.Start < picked[j].r.Start })

	mask := make([]int, len(tokens))
	for i := range mask {
		mask[i] = concept.None
	}
	origins := make([]Origin, len(picked))
	for k, c := range picked {
		for i := c.r.Start; i <= c.r.End; i++ {
			mask[i] = k
		}
		origins[k] = c.origin
	}

	return Proposal{
		Tokens:   words,
		Mask:     mask,
		Concepts: concept.Build(words, mask),
		Origins:  origins,
	}
}

// tokenSpan maps a byte span onto the tokens it covers.
func tokenSpan(tokens []chunker.Token, start, end int) (concept.Range, bool) {
	first, last := -1, -1
	for i, t := range tokens {
		if t.Range.Start >= start && t.Range.End <= end {
			if first == -1 {
				first = i
			}
			last = i
		}
	}
	if first == -1 {
		return concept.Range{}, false
	}
	return concept.Range{Start: first, End: last}, true
}
