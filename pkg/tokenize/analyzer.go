package tokenize

import (
	"strings"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// Morpheme is one segment of Japanese text.
type Morpheme struct {
	Surface  string // as written, e.g. "行っ"
	BaseForm string // dictionary form, e.g. "行く"
	POS      string
}

// IPA feature columns.
const (
	featPOS      = 0
	featBaseForm = 6
)

// posSymbol is the IPA part of speech for punctuation and symbols.
const posSymbol = "記号"

// Analyzer segments Japanese text with the IPA dictionary.
type Analyzer struct {
	t *tokenizer.Tokenizer
}

// NewAnalyzer loads the IPA dictionary.
func NewAnalyzer() (*Analyzer, error) {
	t, err := tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	if err != nil {
		return nil, err
	}
	return &Analyzer{t: t}, nil
}

// feature returns column i of an IPA feature list, or "" when absent or "*".
func feature(features []string, i int) string {
	if i < len(features) && features[i] != "*" {
		return features[i]
	}
	return ""
}

// Analyze segments text, skipping unknown-class dummies and blank segments.
func (a *Analyzer) Analyze(text string) []Morpheme {
	var out []Morpheme
	for _, tok := range a.t.Tokenize(text) {
		if tok.Class == tokenizer.DUMMY || strings.TrimSpace(tok.Surface) == "" {
			continue
		}
		f := tok.Features()
		m := Morpheme{
			Surface:  tok.Surface,
			BaseForm: feature(f, featBaseForm),
			POS:      feature(f, featPOS),
		}
		if m.BaseForm == "" {
			m.BaseForm = tok.Surface
		}
		out = append(out, m)
	}
	return out
}
