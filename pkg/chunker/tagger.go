package chunker

import (
	"strings"
	"unicode"

	"github.com/kittclouds/annokitt/pkg/vocab"
)

// ============================================================================
// POS (Part of Speech)
// ============================================================================

// POS represents a part-of-speech tag
type POS int

const (
	Noun POS = iota
	Pronoun
	ProperNoun
	Verb
	Auxiliary
	Modal
	Adjective
	Adverb
	Determiner
	Preposition
	Conjunction
	RelativePronoun
	Punctuation
	Other
)

// IsNominal returns true if the POS is noun-like
func (p POS) IsNominal() bool {
	return p == Noun || p == ProperNoun
}

// IsModifier returns true if the POS is a modifier
func (p POS) IsModifier() bool {
	return p == Adjective || p == Adverb
}

// ============================================================================
// Tagger
// ============================================================================

// Tagger assigns POS tags from closed-class word lists, a lexicon of
// visual attributes, suffix rules and a stopword list. Unknown words are
// nouns, which suits object descriptions.
type Tagger struct {
	lexicon map[string]POS
}

// NewTagger builds a tagger with the default lexicon.
func NewTagger() *Tagger {
	t := &Tagger{lexicon: make(map[string]POS, 512)}
	t.add(Determiner, "the a an this that these those each every some any no its his her their my your our another both either neither all")
	t.add(Preposition, "in on at by with without of from to into onto over under above below near behind beside between through across along around against inside outside within toward towards for about like upon beneath next")
	t.add(Conjunction, "and or but nor yet")
	t.add(Pronoun, "i you he she it we they me him us them")
	t.add(RelativePronoun, "which who whom whose where")
	t.add(Auxiliary, "is are was were be been being am has have had does do did")
	t.add(Modal, "can could will would shall should may might must")
	t.add(Adverb, "very quite rather slightly too really mostly partly almost fairly extremely somewhat")
	t.add(Verb, "sitting standing holding wearing lying hanging looking running walking parked covered facing leaning resting showing")

	// Colour, size, shape, material, texture and state.
	t.add(Adjective, "red orange yellow green blue purple pink brown black white grey gray silver gold golden beige dark light bright pale")
	t.add(Adjective, "small large big tiny huge tall short long wide narrow thin thick little giant")
	t.add(Adjective, "round square rectangular circular oval flat curved pointed straight triangular")
	t.add(Adjective, "wooden metal metallic plastic glass stone leather cotton wool concrete brick paper ceramic rubber steel iron")
	t.add(Adjective, "smooth rough shiny dull soft hard wet dry dirty clean old new broken open closed empty full furry fluffy hairy striped spotted plain transparent opaque young fresh")
	return t
}

func (t *Tagger) add(pos POS, words string) {
	for _, w := range strings.Fields(words) {
		t.lexicon[w] = pos
	}
}

// Tag assigns a POS to every word.
func (t *Tagger) Tag(words []string) []POS {
	tags := make([]POS, len(words))
	for i, w := range words {
		tags[i] = t.tagWord(w)
	}
	return tags
}

func (t *Tagger) tagWord(word string) POS {
	if word == "" {
		return Other
	}
	first := []rune(word)[0]
	if !unicode.IsLetter(first) && !unicode.IsDigit(first) {
		return Punctuation
	}
	if unicode.IsDigit(first) {
		// Counts behave like attributes: "two dogs".
		return Adjective
	}

	lower := strings.ToLower(word)
	if pos, ok := t.lexicon[lower]; ok {
		return pos
	}
	if vocab.IsStopWord(lower) {
		return Other
	}
	if pos, ok := bySuffix(lower); ok {
		return pos
	}
	return Noun
}

var adjectiveSuffixes = []string{"ous", "ful", "ish", "less", "ive", "ed"}

func bySuffix(w string) (POS, bool) {
	if len(w) <= 4 {
		return 0, false
	}
	if strings.HasSuffix(w, "ly") {
		return Adverb, true
	}
	for _, s := range adjectiveSuffixes {
		if strings.HasSuffix(w, s) {
			return Adjective, true
		}
	}
	return 0, false
}
