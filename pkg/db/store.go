package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrStore marks failures reported by the backing store. They are fatal for
// the current batch.
var ErrStore = errors.New("store failure")

// DBExecutor is an interface that allows methods to accept either *sql.DB or *sql.Tx
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

// IsUniqueConstraintErr returns true when the error indicates a unique/constraint violation
func IsUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "constraint failed")
}

// InsertSource allocates a new source row. A valid fingerprint is stored so the
// row can later be found by content; an invalid one leaves the column NULL.
func InsertSource(ctx context.Context, exec DBExecutor, fingerprint sql.NullString) (int64, error) {
	res, err := exec.ExecContext(ctx, `INSERT INTO source (fingerprint) VALUES (?)`, fingerprint)
	if err != nil {
		return 0, storeErr("insert source", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("insert source", err)
	}
	return id, nil
}

// InsertMetadata stores one tag/value instance and returns its id.
func InsertMetadata(ctx context.Context, exec DBExecutor, tagID int64, val string) (int64, error) {
	res, err := exec.ExecContext(ctx, `INSERT INTO metadata (tag_id, val) VALUES (?, ?)`, tagID, val)
	if err != nil {
		return 0, storeErr("insert metadata", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("insert metadata", err)
	}
	return id, nil
}

// LinkSourceMetadata attaches a metadata row to a source.
func LinkSourceMetadata(ctx context.Context, exec DBExecutor, srcID, metadataID int64) error {
	_, err := exec.ExecContext(ctx,
		`INSERT OR IGNORE INTO source_metadata (src_id, metadata_id) VALUES (?, ?)`, srcID, metadataID)
	if err != nil {
		return storeErr("link source metadata", err)
	}
	return nil
}

// InsertAltSpelling records that alt is an alternative spelling of hub.
func InsertAltSpelling(ctx context.Context, exec DBExecutor, hubID, altID int64) error {
	_, err := exec.ExecContext(ctx,
		`INSERT OR IGNORE INTO alt_spelling (word1_id, word2_id) VALUES (?, ?)`, hubID, altID)
	if err != nil {
		return storeErr("insert alt spelling", err)
	}
	return nil
}

// InsertWordPhonetic attaches a phonetic transcription to a word.
func InsertWordPhonetic(ctx context.Context, exec DBExecutor, wordID int64, phonetic string) error {
	_, err := exec.ExecContext(ctx,
		`INSERT OR IGNORE INTO word_phonetic (word_id, phonetic) VALUES (?, ?)`, wordID, phonetic)
	if err != nil {
		return storeErr("insert word phonetic", err)
	}
	return nil
}

// InsertWordSource links a word to a source.
func InsertWordSource(ctx context.Context, exec DBExecutor, wordID, srcID int64) error {
	_, err := exec.ExecContext(ctx,
		`INSERT OR IGNORE INTO word_src (word_id, src_id) VALUES (?, ?)`, wordID, srcID)
	if err != nil {
		return storeErr("insert word source", err)
	}
	return nil
}

// InsertWordAssoc stores an association tuple. src may be NoSource.
func InsertWordAssoc(ctx context.Context, exec DBExecutor, word1ID, word2ID int64, src sql.NullInt64, typeID int64) error {
	_, err := exec.ExecContext(ctx,
		`INSERT OR IGNORE INTO word_assoc (word1_id, word2_id, src_id, assoc_type_id) VALUES (?, ?, ?, ?)`,
		word1ID, word2ID, src, typeID)
	if err != nil {
		return storeErr("insert word assoc", err)
	}
	return nil
}

// InsertPhrase always allocates a new phrase row; phrase text is not deduplicated.
func InsertPhrase(ctx context.Context, exec DBExecutor, text string) (int64, error) {
	res, err := exec.ExecContext(ctx, `INSERT INTO phrase (phrase) VALUES (?)`, text)
	if err != nil {
		return 0, storeErr("insert phrase", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("insert phrase", err)
	}
	return id, nil
}

// LinkPhraseSource attaches the single source of a phrase.
func LinkPhraseSource(ctx context.Context, exec DBExecutor, phraseID, srcID int64) error {
	_, err := exec.ExecContext(ctx,
		`INSERT OR IGNORE INTO phrase_src (phrase_id, src_id) VALUES (?, ?)`, phraseID, srcID)
	if err != nil {
		return storeErr("link phrase source", err)
	}
	return nil
}

// LinkPhraseWord records that a phrase contains a word.
func LinkPhraseWord(ctx context.Context, exec DBExecutor, phraseID, wordID int64) error {
	_, err := exec.ExecContext(ctx,
		`INSERT OR IGNORE INTO phrase_words (phrase_id, word_id) VALUES (?, ?)`, phraseID, wordID)
	if err != nil {
		return storeErr("link phrase word", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern builds the LIKE pattern for " word". SQLite LIKE folds case for
// ASCII only, so every non-ASCII rune becomes a single-character wildcard and
// folded reports that matches must be rechecked.
func likePattern(word string) (pattern string, folded bool) {
	var b strings.Builder
	b.WriteString("% ")
	for _, r := range word {
		if r > unicode.MaxASCII {
			b.WriteByte('_')
			folded = true
			continue
		}
		b.WriteString(likeEscaper.Replace(string(r)))
	}
	b.WriteByte('%')
	return b.String(), folded
}

// PhrasesContaining returns phrases in which word appears after a space,
// matched case-insensitively, in insertion order.
func PhrasesContaining(ctx context.Context, exec DBExecutor, word string, filter PhraseFilter) ([]Phrase, error) {
	pattern, folded := likePattern(word)
	needle := " " + strings.ToLower(word)

	var b strings.Builder
	b.WriteString(`SELECT p.phrase_id, p.phrase, p.is_nsfw,
		IFNULL((SELECT MIN(sn.name) FROM source_name sn WHERE sn.src_id = ps.src_id), '')
		FROM phrase p
		LEFT JOIN phrase_src ps ON ps.phrase_id = p.phrase_id
		WHERE p.phrase LIKE ? ESCAPE '\'`)
	args := []any{pattern}

	if !filter.AllowNSFW {
		b.WriteString(` AND p.is_nsfw = 0`)
	}
	if len(filter.Sources) > 0 {
		b.WriteString(` AND ps.src_id IN (SELECT src_id FROM source_name WHERE name IN (`)
		for i, s := range filter.Sources {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, s)
		}
		b.WriteString(`))`)
	}
	b.WriteString(` ORDER BY p.phrase_id`)

	rows, err := exec.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, storeErr("scan phrases", err)
	}
	defer rows.Close()

	var out []Phrase
	for rows.Next() {
		var p Phrase
		if err := rows.Scan(&p.ID, &p.Text, &p.IsNSFW, &p.SourceName); err != nil {
			return nil, storeErr("scan phrases", err)
		}
		if folded && !strings.Contains(strings.ToLower(p.Text), needle) {
			continue
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("scan phrases", err)
	}
	return out, nil
}

// LookupWordID returns the id of spelling, reporting false when it is unknown.
func LookupWordID(ctx context.Context, exec DBExecutor, spelling string) (int64, bool, error) {
	var id int64
	err := exec.QueryRowContext(ctx, `SELECT word_id FROM word_spelling WHERE spelling = ?`, spelling).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr("lookup word", err)
	}
	return id, true, nil
}

// LookupWord returns a spelling with its phonetics.
func LookupWord(ctx context.Context, exec DBExecutor, spelling string) (Word, bool, error) {
	id, ok, err := LookupWordID(ctx, exec, spelling)
	if err != nil || !ok {
		return Word{}, ok, err
	}
	w := Word{ID: id, Spelling: spelling}
	rows, err := exec.QueryContext(ctx,
		`SELECT phonetic FROM word_phonetic WHERE word_id = ? ORDER BY phonetic`, id)
	if err != nil {
		return Word{}, false, storeErr("lookup word", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ph string
		if err := rows.Scan(&ph); err != nil {
			return Word{}, false, storeErr("lookup word", err)
		}
		w.Phonetics = append(w.Phonetics, ph)
	}
	if err := rows.Err(); err != nil {
		return Word{}, false, storeErr("lookup word", err)
	}
	return w, true, nil
}

// WordsWithoutPhonetics lists spellings that have no phonetic attached either
// directly or through an alternative spelling. limit <= 0 means no limit.
func WordsWithoutPhonetics(ctx context.Context, exec DBExecutor, limit int) ([]Word, error) {
	q := `SELECT ws.word_id, ws.spelling FROM word_spelling ws
		WHERE NOT EXISTS (SELECT 1 FROM word_phonetic wp WHERE wp.word_id = ws.word_id)
		AND NOT EXISTS (
			SELECT 1 FROM alt_spelling a
			JOIN word_phonetic wp ON wp.word_id = a.word1_id
			WHERE a.word2_id = ws.word_id)
		ORDER BY ws.word_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr("words without phonetics", err)
	}
	defer rows.Close()
	var out []Word
	for rows.Next() {
		var w Word
		if err := rows.Scan(&w.ID, &w.Spelling); err != nil {
			return nil, storeErr("words without phonetics", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("words without phonetics", err)
	}
	return out, nil
}

// FlagPhrasesContaining marks every phrase linked to wordID as NSFW and returns
// the number of phrases newly flagged.
func FlagPhrasesContaining(ctx context.Context, exec DBExecutor, wordID int64) (int64, error) {
	res, err := exec.ExecContext(ctx,
		`UPDATE phrase SET is_nsfw = 1
		WHERE is_nsfw = 0 AND phrase_id IN (SELECT phrase_id FROM phrase_words WHERE word_id = ?)`, wordID)
	if err != nil {
		return 0, storeErr("flag phrases", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("flag phrases", err)
	}
	return n, nil
}

// CountStats returns row counts for the main tables.
func CountStats(ctx context.Context, exec DBExecutor) (Stats, error) {
	var s Stats
	err := exec.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM word_spelling),
		(SELECT COUNT(*) FROM word_phonetic),
		(SELECT COUNT(*) FROM word_assoc),
		(SELECT COUNT(*) FROM phrase),
		(SELECT COUNT(*) FROM phrase WHERE is_nsfw = 1),
		(SELECT COUNT(*) FROM source)`).Scan(
		&s.Words, &s.Phonetics, &s.Associations, &s.Phrases, &s.NSFWPhrases, &s.Sources)
	if err != nil {
		return Stats{}, storeErr("count stats", err)
	}
	return s, nil
}
