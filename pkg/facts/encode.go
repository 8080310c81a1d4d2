package facts

import (
	"encoding/json"
	"fmt"
)

type wireAssoc struct {
	Word1 string `json:"word1"`
	Word2 string `json:"word2"`
	Type  string `json:"type,omitempty"`
}

type wireFact struct {
	Type      string      `json:"type"`
	Spellings []string    `json:"spellings,omitempty"`
	Phonetics []string    `json:"phonetics,omitempty"`
	Assocs    []wireAssoc `json:"assocs,omitempty"`
	Phrases   []string    `json:"phrases,omitempty"`
	Source    Source      `json:"source,omitempty"`
}

// Encode renders a fact in the canonical wire format accepted by Decode.
func Encode(f Fact) ([]byte, error) {
	var w wireFact
	switch f := f.(type) {
	case WordFact:
		w = wireFact{Type: TypeWord, Spellings: f.Spellings, Phonetics: f.Phonetics, Source: f.Source}
	case AssocFact:
		w = wireFact{Type: TypeAssoc, Source: f.Source}
		for _, a := range f.Assocs {
			w.Assocs = append(w.Assocs, wireAssoc(a))
		}
	case PhraseFact:
		w = wireFact{Type: TypePhrase, Phrases: f.Phrases, Source: f.Source}
	case ParagraphFact:
		w = wireFact{Type: TypeParagraph, Source: f.Source}
	default:
		return nil, fmt.Errorf("encode %T: %w", f, ErrUnknownFactType)
	}
	return json.Marshal(w)
}
