package dictionary

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/facts"
)

// Importer matches stored words against a loaded dictionary.
type Importer struct {
	// index is built once and only read afterwards.
	mu    sync.RWMutex
	index map[string][]string
	// Source, if set, is attached to every fact the importer applies.
	Source facts.Source
	Logger zerolog.Logger
}

// NewImporter builds an in-memory index of the provided entries.
func NewImporter(entries []Entry) *Importer {
	idx := make(map[string][]string, len(entries))
	for _, e := range entries {
		idx[e.Word] = append(idx[e.Word], e.Phonetics...)
	}
	return &Importer{index: idx, Logger: zerolog.Nop()}
}

// Len reports the number of indexed words.
func (im *Importer) Len() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return len(im.index)
}

// Lookup returns the pronunciations of word, matched case-insensitively.
func (im *Importer) Lookup(word string) []string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.index[strings.ToLower(strings.TrimSpace(word))]
}

// Fact returns the word fact for an indexed word, or false if unknown.
func (im *Importer) Fact(word string) (facts.WordFact, bool) {
	ph := im.Lookup(word)
	if len(ph) == 0 {
		return facts.WordFact{}, false
	}
	return facts.WordFact{
		Spellings: []string{word},
		Phonetics: append([]string(nil), ph...),
		Source:    im.Source,
	}, true
}

// FillMissing attaches dictionary pronunciations to stored words that have
// none, going through the fact importer so the usual identity and source
// handling applies. limit <= 0 processes every such word. It returns the
// number of words that received phonetics.
func (im *Importer) FillMissing(ctx context.Context, conn *sql.DB, fi *facts.Importer, limit int) (int, error) {
	missing, err := db.WordsWithoutPhonetics(ctx, conn, limit)
	if err != nil {
		return 0, err
	}

	filled := 0
	for _, w := range missing {
		if err := ctx.Err(); err != nil {
			return filled, err
		}
		f, ok := im.Fact(w.Spelling)
		if !ok {
			continue
		}
		out, err := fi.Import(ctx, conn, f)
		if err != nil {
			return filled, err
		}
		if out == facts.Applied {
			filled++
		}
	}
	im.Logger.Info().Int("missing", len(missing)).Int("filled", filled).Msg("filled missing phonetics")
	return filled, nil
}
