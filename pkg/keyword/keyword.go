// Package keyword scans transcribed text for alert words.
//
// The primary matcher is a case-insensitive substring scan tuned for the
// capture loop's per-frame budget: matching allocates nothing. A slower
// phonetic assist (see [Phonetic]) can catch misrecognized keywords when
// enabled.
package keyword

import "strings"

// DefaultVocabulary is the alert vocabulary used when none is configured.
var DefaultVocabulary = []string{"emergency", "help", "alert"}

// Matcher reports whether text contains any word from a fixed vocabulary.
// The comparison is ASCII-case-insensitive and matches substrings, so
// "helpful" triggers on "help" — deliberate for an alerting device, where a
// false positive costs a vibration and a false negative costs a missed
// emergency.
//
// A Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	words []string
}

// New builds a matcher for the given vocabulary. Words are normalized to
// lower case; empty entries are dropped. A nil or empty vocabulary falls
// back to DefaultVocabulary.
func New(vocabulary []string) *Matcher {
	words := make([]string, 0, len(vocabulary))
	for _, w := range vocabulary {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		words = append(words, w)
	}
	if len(words) == 0 {
		words = append(words, DefaultVocabulary...)
	}
	return &Matcher{words: words}
}

// Vocabulary returns a copy of the active vocabulary.
func (m *Matcher) Vocabulary() []string {
	return append([]string(nil), m.words...)
}

// Match reports whether text contains any vocabulary word. It allocates
// nothing; the capture loop calls it once per transcribed frame.
func (m *Matcher) Match(text string) bool {
	for _, w := range m.words {
		if containsFold(text, w) {
			return true
		}
	}
	return false
}

// MatchWord returns the first vocabulary word found in text.
func (m *Matcher) MatchWord(text string) (string, bool) {
	for _, w := range m.words {
		if containsFold(text, w) {
			return w, true
		}
	}
	return "", false
}

// containsFold reports whether s contains sub, ignoring ASCII case. sub must
// already be lower case. Bytes outside the ASCII letters compare verbatim.
func containsFold(s, sub string) bool {
	if len(sub) == 0 || len(s) < len(sub) {
		return false
	}
	for i := 0; i+len(sub) <= len(s); i++ {
		if foldEqualAt(s, i, sub) {
			return true
		}
	}
	return false
}

// foldEqualAt reports whether s[i:i+len(sub)] equals sub under ASCII folding.
func foldEqualAt(s string, i int, sub string) bool {
	for j := 0; j < len(sub); j++ {
		c := s[i+j]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != sub[j] {
			return false
		}
	}
	return true
}
