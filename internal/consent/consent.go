// Package consent decides whether a respondent agreed to be recorded based
// on their spoken answer.
package consent

import "strings"

// Spoken answers are noisy, so detection is keyword based. Refusals are
// checked first: "no, yes I mind" must read as a refusal, and an answer that
// matches nothing defaults to refusal.
var negativeIndicators = []string{
	"no",
	"nope",
	"don't",
	"do not",
	"not okay",
	"not ok",
	"decline",
	"refuse",
	"rather not",
	"disagree",
}

var positiveIndicators = []string{
	"yes",
	"yeah",
	"yep",
	"sure",
	"okay",
	"ok",
	"fine",
	"agree",
	"go ahead",
	"that's fine",
	"of course",
	"absolutely",
}

// Detect reports whether the spoken answer grants recording consent.
func Detect(speech string) bool {
	normalized := " " + strings.ToLower(strings.TrimSpace(speech)) + " "

	for _, word := range negativeIndicators {
		if containsWord(normalized, word) {
			return false
		}
	}
	for _, word := range positiveIndicators {
		if containsWord(normalized, word) {
			return true
		}
	}
	return false
}

// containsWord matches the indicator on word boundaries so "no" does not
// fire inside "know".
func containsWord(padded, word string) bool {
	idx := 0
	for {
		i := strings.Index(padded[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := padded[i-1]
		after := padded[i+len(word)]
		if !isWordChar(before) && !isWordChar(after) {
			return true
		}
		idx = i + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '\''
}
