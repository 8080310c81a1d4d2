// Package tokenize splits phrase text into sets of lowercased words.
package tokenize

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Policy selects how text is split into words.
type Policy string

const (
	// Strict splits on every run of non-word characters, so contractions and
	// hyphenated compounds break apart. Each Han ideograph is its own word.
	Strict Policy = "strict"
	// Permissive splits on whitespace and trims surrounding punctuation,
	// keeping contractions and hyphenated compounds intact.
	Permissive Policy = "permissive"
	// Morphological segments text with a Japanese dictionary and yields base forms.
	Morphological Policy = "morphological"
)

// ParsePolicy validates a policy name. The empty string selects Strict.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Strict, nil
	case Strict, Permissive, Morphological:
		return p, nil
	default:
		return "", fmt.Errorf("unknown tokenizer policy %q", s)
	}
}

// Tokenizer turns text into a de-duplicated word set. It is safe for
// concurrent use.
type Tokenizer struct {
	policy   Policy
	analyzer *Analyzer
}

// New builds a tokenizer for the given policy. The morphological policy loads
// the IPA dictionary, which takes a moment.
func New(policy Policy) (*Tokenizer, error) {
	t := &Tokenizer{policy: policy}
	switch policy {
	case Strict, Permissive:
	case Morphological:
		a, err := NewAnalyzer()
		if err != nil {
			return nil, fmt.Errorf("load dictionary: %w", err)
		}
		t.analyzer = a
	default:
		return nil, fmt.Errorf("unknown tokenizer policy %q", policy)
	}
	return t, nil
}

// Policy reports the active policy.
func (t *Tokenizer) Policy() Policy { return t.policy }

// Tokenize returns the distinct words of text in order of first appearance.
// Order carries no meaning for callers.
func (t *Tokenizer) Tokenize(text string) []string {
	// cases.Caser keeps state and must not be shared between goroutines.
	lower := cases.Lower(language.Und)
	text = lower.String(norm.NFC.String(text))

	var words []string
	switch t.policy {
	case Permissive:
		words = permissive(text)
	case Morphological:
		for _, m := range t.analyzer.Analyze(text) {
			if m.POS == posSymbol {
				continue
			}
			words = append(words, lower.String(m.BaseForm))
		}
	default:
		words = strict(text)
	}
	return dedupe(words)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) || r == '_'
}

func strict(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			words = append(words, string(r))
		case isWordRune(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return words
}

func isEdgePunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func permissive(text string) []string {
	var words []string
	for _, f := range strings.Fields(text) {
		if w := strings.TrimFunc(f, isEdgePunct); w != "" {
			words = append(words, w)
		}
	}
	return words
}

func dedupe(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := words[:0]
	for _, w := range words {
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
