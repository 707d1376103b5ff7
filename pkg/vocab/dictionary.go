// Package vocab holds a project's concept vocabulary: phrases users have
// already linked to object regions. A single Aho-Corasick automaton serves
// both dictionary lookup and scanning of new annotation text.
package vocab

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// ============================================================================
// Normalization
// ============================================================================

// NormalizeRaw lowercases text, maps punctuation to spaces and collapses
// runs of whitespace.
func NormalizeRaw(s string) string {
	return normalize(s, false).text
}

// normalized is NormalizeRaw output. With offsets kept, start[i] and end[i]
// bound the source rune that produced byte i.
type normalized struct {
	text  string
	start []int
	end   []int
}

func normalize(s string, offsets bool) normalized {
	var b strings.Builder
	b.Grow(len(s))
	var n normalized
	if offsets {
		n.start = make([]int, 0, len(s))
		n.end = make([]int, 0, len(s))
	}
	emit := func(r rune, from, to int) {
		w, _ := b.WriteRune(r)
		if !offsets {
			return
		}
		for k := 0; k < w; k++ {
			n.start = append(n.start, from)
			n.end = append(n.end, to)
		}
	}

	gap, gapEnd := -1, 0
	for i := 0; i < len(s); {
		ch, size := utf8.DecodeRuneInString(s[i:])
		c := unicode.ToLower(ch)
		if c == '’' {
			c = '\''
		}
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '\'' || c == '-' {
			if gap >= 0 && b.Len() > 0 {
				emit(' ', gap, gapEnd)
			}
			gap = -1
			emit(c, i, i+size)
		} else if gap < 0 {
			gap, gapEnd = i, i+size
		}
		i += size
	}
	n.text = b.String()
	return n
}

// TokenizeNorm splits and normalizes, filtering stop words.
func TokenizeNorm(text string) []string {
	words := strings.Fields(NormalizeRaw(text))
	result := make([]string, 0, len(words))
	for _, w := range words {
		if !IsStopWord(w) {
			result = append(result, w)
		}
	}
	return result
}

// ============================================================================
// Dictionary
// ============================================================================

// Entry is one vocabulary phrase with its alternative spellings.
type Entry struct {
	ID      string   `json:"id"`
	Phrase  string   `json:"phrase"`
	Aliases []string `json:"aliases,omitempty"`
}

// Match is a vocabulary hit in scanned text.
type Match struct {
	Start int      `json:"start"` // byte offset
	End   int      `json:"end"`   // byte offset, exclusive
	Text  string   `json:"text"`
	IDs   []string `json:"ids"`
}

// Dictionary is a compiled vocabulary.
type Dictionary struct {
	ac    ahocorasick.AhoCorasick
	built bool

	// Normalized surface form -> pattern index
	patternIndex map[string]int
	// Pattern index -> entry IDs sharing that surface form
	patternToIDs [][]string
	patterns     []string

	entries map[string]*Entry
}

// Compile builds a Dictionary from vocabulary entries. Surface forms that
// reduce to stop words only are skipped.
func Compile(entries []Entry) (*Dictionary, error) {
	d := &Dictionary{
		patternIndex: make(map[string]int),
		entries:      make(map[string]*Entry, len(entries)),
	}

	for _, e := range entries {
		entry := e
		d.entries[e.ID] = &entry

		surfaces := append([]string{e.Phrase}, e.Aliases...)
		for _, surface := range surfaces {
			key := NormalizeRaw(surface)
			if key == "" || len(TokenizeNorm(key)) == 0 {
				continue
			}
			if idx, ok := d.patternIndex[key]; ok {
				d.patternToIDs[idx] = appendUnique(d.patternToIDs[idx], e.ID)
				continue
			}
			d.patternIndex[key] = len(d.patterns)
			d.patterns = append(d.patterns, key)
			d.patternToIDs = append(d.patternToIDs, []string{e.ID})
		}
	}

	if len(d.patterns) > 0 {
		builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
			AsciiCaseInsensitive: true,
			MatchOnlyWholeWords:  false,
			MatchKind:            ahocorasick.LeftMostLongestMatch,
		})
		d.ac = builder.Build(d.patterns)
		d.built = true
	}
	return d, nil
}

// Len returns the number of distinct surface forms.
func (d *Dictionary) Len() int {
	return len(d.patterns)
}

// Lookup returns the entries whose phrase or alias normalizes to surface.
func (d *Dictionary) Lookup(surface string) []*Entry {
	idx, ok := d.patternIndex[NormalizeRaw(surface)]
	if !ok {
		return nil
	}
	out := make([]*Entry, 0, len(d.patternToIDs[idx]))
	for _, id := range d.patternToIDs[idx] {
		if e, ok := d.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Contains reports whether surface is a known phrase.
func (d *Dictionary) Contains(surface string) bool {
	_, ok := d.patternIndex[NormalizeRaw(surface)]
	return ok
}

// Entries returns every entry sorted by phrase.
func (d *Dictionary) Entries() []Entry {
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phrase < out[j].Phrase })
	return out
}

// Scan finds whole-word vocabulary phrases in text. Matching runs on the
// normalized text, so "Red,  CAR" still hits "red car"; offsets refer to
// text itself.
func (d *Dictionary) Scan(text string) []Match {
	if d == nil || !d.built {
		return nil
	}

	norm := normalize(text, true)
	hits := d.ac.FindAll(norm.text)
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		if h.End() <= h.Start() || !wordBoundary(norm.text, h.Start(), h.End()) {
			continue
		}
		start, end := norm.start[h.Start()], norm.end[h.End()-1]
		out = append(out, Match{
			Start: start,
			End:   end,
			Text:  text[start:end],
			IDs:   append([]string(nil), d.patternToIDs[h.Pattern()]...),
		})
	}
	return out
}

func wordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

func appendUnique(slice []string, item string) []string {
	for _, s := range slice {
		if s == item {
			return slice
		}
	}
	return append(slice, item)
}
