package keyword

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultPhoneticThreshold = 0.70

// PhoneticOption configures a [Phonetic] matcher.
type PhoneticOption func(*Phonetic)

// WithThreshold sets the minimum Jaro-Winkler score a phonetic candidate
// needs to count as a match. Default: 0.70.
func WithThreshold(threshold float64) PhoneticOption {
	return func(p *Phonetic) { p.threshold = threshold }
}

// Phonetic catches alert words the transcription engine mangled: "halp"
// still triggers on "help". Each text token is Double-Metaphone encoded and
// compared against the precomputed codes of the vocabulary; sound-alike
// candidates are then ranked by Jaro-Winkler similarity and accepted above
// the threshold.
//
// Matching tokenizes and allocates, so the pipeline only consults it after
// the substring matcher found nothing. Read-only after construction.
type Phonetic struct {
	words     []string
	codes     []map[string]struct{}
	threshold float64
}

// NewPhonetic builds a phonetic matcher over the given vocabulary, encoding
// every word up front. Empty vocabularies fall back to DefaultVocabulary.
func NewPhonetic(vocabulary []string, opts ...PhoneticOption) *Phonetic {
	base := New(vocabulary)
	p := &Phonetic{
		words:     base.words,
		threshold: defaultPhoneticThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	p.codes = make([]map[string]struct{}, len(p.words))
	for i, w := range p.words {
		p.codes[i] = metaphoneCodes(w)
	}
	return p
}

// Match scans text for a token that sounds like a vocabulary word. It
// returns the matched vocabulary word, not the mangled token.
func (p *Phonetic) Match(text string) (string, bool) {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return "", false
	}

	bestScore := 0.0
	bestWord := ""
	for _, token := range tokens {
		tokenCodes := metaphoneCodes(token)
		for i, w := range p.words {
			if !codesOverlap(tokenCodes, p.codes[i]) {
				continue
			}
			if score := matchr.JaroWinkler(token, w, false); score >= p.threshold && score > bestScore {
				bestScore = score
				bestWord = w
			}
		}
	}
	return bestWord, bestWord != ""
}

// metaphoneCodes returns the set of Double Metaphone codes for a word.
// Empty codes (words with no consonant structure) are excluded.
func metaphoneCodes(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	primary, secondary := matchr.DoubleMetaphone(word)
	if primary != "" {
		codes[primary] = struct{}{}
	}
	if secondary != "" {
		codes[secondary] = struct{}{}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
