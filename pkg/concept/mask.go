package concept

import "strings"

// JoinTokens rebuilds display text from tokens.
// Commas and periods attach to the previous token; everything else is
// separated by a single space.
func JoinTokens(tokens []string) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 && !attaches(tok) {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func attaches(tok string) bool {
	return tok == "," || tok == "."
}

// BuildRanges scans a concept mask once, left to right, and returns the
// token range and display substring of every run.
//
// Any negative mask value means "no concept". Two different values side by
// side close one run and open the next. A value that reappears after a gap
// opens a new run rather than extending the old one. When tokens and mask
// differ in length only the common prefix is scanned.
func BuildRanges(tokens []string, mask []int) ([]Range, []string) {
	n := len(tokens)
	if len(mask) < n {
		n = len(mask)
	}

	ranges := make([]Range, 0)
	substrings := make([]string, 0)

	run := None
	var start int
	var acc strings.Builder

	closeRun := func(end int) {
		ranges = append(ranges, Range{Start: start, End: end})
		substrings = append(substrings, acc.String())
		acc.Reset()
	}

	for i := 0; i < n; i++ {
		v := mask[i]
		if v < 0 {
			v = None
		}

		switch {
		case v == None:
			if run != None {
				closeRun(i - 1)
			}
		case run == None:
			start = i
			acc.WriteString(tokens[i])
		case v != run:
			closeRun(i - 1)
			start = i
			acc.WriteString(tokens[i])
		default:
			if !attaches(tokens[i]) {
				acc.WriteByte(' ')
			}
			acc.WriteString(tokens[i])
		}
		run = v
	}

	if run != None {
		closeRun(n - 1)
	}

	return ranges, substrings
}

// Build lifts BuildRanges into concept records. New concepts are visible
// and carry no feature yet.
func Build(tokens []string, mask []int) []Concept {
	ranges, substrings := BuildRanges(tokens, mask)
	concepts := make([]Concept, len(ranges))
	for i := range ranges {
		concepts[i] = Concept{
			Range:     ranges[i],
			Substring: substrings[i],
			Visible:   true,
		}
	}
	return concepts
}

// Mask is the inverse of Build: concept k stamps k over its range.
// Ranges reaching past n are cut off.
func Mask(n int, concepts []Concept) []int {
	mask := make([]int, n)
	for i := range mask {
		mask[i] = None
	}
	for k, c := range concepts {
		for i := max(c.Range.Start, 0); i <= c.Range.End && i < n; i++ {
			mask[i] = k
		}
	}
	return mask
}

// Substring returns the display text of r within tokens.
func Substring(tokens []string, r Range) string {
	if !r.Valid() || r.Start >= len(tokens) {
		return ""
	}
	end := min(r.End, len(tokens)-1)
	return JoinTokens(tokens[r.Start : end+1])
}
