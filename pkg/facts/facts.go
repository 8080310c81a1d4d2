// Package facts decodes lexical fact records and normalizes them into the
// relational store.
package facts

import "errors"

var (
	// ErrMalformedFact reports a record that does not have the shape its type requires.
	ErrMalformedFact = errors.New("malformed fact")
	// ErrUnknownFactType reports a record whose type discriminator is missing or unrecognized.
	ErrUnknownFactType = errors.New("unknown fact type")
)

// DefaultAssocType names associations that do not carry a type.
const DefaultAssocType = "generic"

// Canonical type discriminators.
const (
	TypeWord      = "word"
	TypeAssoc     = "word_assoc"
	TypePhrase    = "phrase"
	TypeParagraph = "paragraph"
)

// Source is a flat provenance record: field name to one or more values.
// A nil Source means the fact carries no provenance; an empty non-nil Source
// is present but has no fields.
type Source map[string][]string

// Fact is one decoded record. The set of implementations is closed.
type Fact interface {
	// Type returns the canonical type discriminator.
	Type() string
	isFact()
}

// WordFact declares a group of equivalent spellings with their phonetics.
type WordFact struct {
	Spellings []string
	Phonetics []string
	Source    Source
}

// Assoc relates two words.
type Assoc struct {
	Word1 string
	Word2 string
	// Type defaults to DefaultAssocType when empty.
	Type string
}

// AssocFact carries word associations sharing one source.
type AssocFact struct {
	Assocs []Assoc
	Source Source
	// Dropped counts entries skipped while decoding because they were not
	// objects or lacked word1/word2.
	Dropped int
}

// PhraseFact carries phrases sharing one source.
type PhraseFact struct {
	Phrases []string
	Source  Source

	// tokens holds pre-computed word sets, parallel to Phrases.
	tokens [][]string
}

// ParagraphFact is reserved for future use and is never applied.
type ParagraphFact struct {
	Source Source
}

// UnknownFact is a record whose type is missing or unrecognized.
type UnknownFact struct {
	RawType string
}

func (WordFact) Type() string      { return TypeWord }
func (AssocFact) Type() string     { return TypeAssoc }
func (PhraseFact) Type() string    { return TypePhrase }
func (ParagraphFact) Type() string { return TypeParagraph }
func (f UnknownFact) Type() string { return f.RawType }

func (WordFact) isFact()      {}
func (AssocFact) isFact()     {}
func (PhraseFact) isFact()    {}
func (ParagraphFact) isFact() {}
func (UnknownFact) isFact()   {}

// Outcome is the result of applying a fact.
type Outcome int

const (
	NoOp Outcome = iota
	Applied
)

func (o Outcome) String() string {
	if o == Applied {
		return "applied"
	}
	return "noop"
}
