package db

import "database/sql"

// NoSource is the sentinel source reference for facts that carry no provenance.
// It is stored as NULL and never allocates a source row.
var NoSource = sql.NullInt64{}

// SourceRef wraps a source id as a valid nullable reference.
func SourceRef(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: true}
}

// Phrase is a stored phrase together with the name of its attached source.
type Phrase struct {
	ID         int64
	Text       string
	IsNSFW     bool
	SourceName string
}

// PhraseFilter narrows a phrase scan.
type PhraseFilter struct {
	// Sources restricts hits to phrases whose source name is listed. Empty
	// means unrestricted.
	Sources []string
	// AllowNSFW includes phrases flagged NSFW.
	AllowNSFW bool
}

// Word is a spelling row with its phonetics.
type Word struct {
	ID        int64
	Spelling  string
	Phonetics []string
}

// Stats holds row counts for the main tables.
type Stats struct {
	Words        int64
	Phonetics    int64
	Associations int64
	Phrases      int64
	NSFWPhrases  int64
	Sources      int64
}
