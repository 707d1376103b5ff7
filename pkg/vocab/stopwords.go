package vocab

import (
	"strings"

	"github.com/orsinium-labs/stopwords"
)

var english = stopwords.MustGet("en")

// IsStopWord reports whether word is an English function word.
func IsStopWord(word string) bool {
	return english.Contains(strings.ToLower(word))
}
