package db

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), DriverCGO, ":memory:")
	require.NoError(t, err, "open db")
	t.Cleanup(func() { db.Close() })
	return db
}

func mustExec(t *testing.T, db *sql.DB, q string, args ...any) int64 {
	t.Helper()
	res, err := db.Exec(q, args...)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func count(t *testing.T, db *sql.DB, q string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(q, args...).Scan(&n))
	return n
}

// namedSource creates a source carrying a single name metadata value.
func namedSource(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	ctx := context.Background()
	src, err := InsertSource(ctx, db, sql.NullString{})
	require.NoError(t, err)
	var tagID int64
	err = db.QueryRow(`SELECT tag_id FROM tag WHERE name = 'name'`).Scan(&tagID)
	if err == sql.ErrNoRows {
		tagID = mustExec(t, db, `INSERT INTO tag (name) VALUES ('name')`)
	} else {
		require.NoError(t, err)
	}
	md, err := InsertMetadata(ctx, db, tagID, name)
	require.NoError(t, err)
	require.NoError(t, LinkSourceMetadata(ctx, db, src, md))
	return src
}

func TestLinkInsertsAreIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	w1 := mustExec(t, db, `INSERT INTO word_spelling (spelling) VALUES ('theater')`)
	w2 := mustExec(t, db, `INSERT INTO word_spelling (spelling) VALUES ('theatre')`)
	typ := mustExec(t, db, `INSERT INTO assoc_type (name) VALUES ('generic')`)
	src, err := InsertSource(ctx, db, sql.NullString{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, InsertAltSpelling(ctx, db, w1, w2))
		require.NoError(t, InsertWordPhonetic(ctx, db, w1, "TH IY1 AH0 T ER0"))
		require.NoError(t, InsertWordSource(ctx, db, w1, src))
		require.NoError(t, InsertWordAssoc(ctx, db, w1, w2, SourceRef(src), typ))
		require.NoError(t, InsertWordAssoc(ctx, db, w1, w2, NoSource, typ))
	}

	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM alt_spelling`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM word_phonetic`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM word_src`))
	assert.Equal(t, 2, count(t, db, `SELECT COUNT(*) FROM word_assoc`))
	assert.Equal(t, 1, count(t, db, `SELECT COUNT(*) FROM word_assoc WHERE src_id IS NULL`))
}

func TestPhrasesAreNeverDeduplicated(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id1, err := InsertPhrase(ctx, db, "break a leg")
	require.NoError(t, err)
	id2, err := InsertPhrase(ctx, db, "break a leg")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestPhrasesContaining(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	idioms := namedSource(t, db, "Idioms")
	anime := namedSource(t, db, "Anime Quotes")

	p1, err := InsertPhrase(ctx, db, "a stitch in time saves nine")
	require.NoError(t, err)
	require.NoError(t, LinkPhraseSource(ctx, db, p1, idioms))
	p2, err := InsertPhrase(ctx, db, "Cloud Nine is where I live")
	require.NoError(t, err)
	require.NoError(t, LinkPhraseSource(ctx, db, p2, anime))
	_, err = InsertPhrase(ctx, db, "nine lives")
	require.NoError(t, err)
	p4, err := InsertPhrase(ctx, db, "dressed to the nines")
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE phrase SET is_nsfw = 1 WHERE phrase_id = ?`, p4)
	require.NoError(t, err)

	got, err := PhrasesContaining(ctx, db, "nine", PhraseFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a stitch in time saves nine", got[0].Text)
	assert.Equal(t, "Idioms", got[0].SourceName)
	assert.Equal(t, "Cloud Nine is where I live", got[1].Text)

	got, err = PhrasesContaining(ctx, db, "nine", PhraseFilter{AllowNSFW: true})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[2].IsNSFW)

	got, err = PhrasesContaining(ctx, db, "nine", PhraseFilter{Sources: []string{"Anime Quotes"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Anime Quotes", got[0].SourceName)
}

func TestPhrasesContainingEscapesWildcards(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	_, err := InsertPhrase(ctx, db, "one hundred percent")
	require.NoError(t, err)

	got, err := PhrasesContaining(ctx, db, "%", PhraseFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPhrasesContainingFoldsNonASCIICase(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	for _, text := range []string{"Deutschland Über alles", "a xber driver", "das Ölfass"} {
		_, err := InsertPhrase(ctx, db, text)
		require.NoError(t, err)
	}

	got, err := PhrasesContaining(ctx, db, "über", PhraseFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Deutschland Über alles", got[0].Text)

	got, err = PhrasesContaining(ctx, db, "ÖLFASS", PhraseFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "das Ölfass", got[0].Text)

	got, err = PhrasesContaining(ctx, db, "uber", PhraseFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWordsWithoutPhoneticsAndFlagging(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	hub := mustExec(t, db, `INSERT INTO word_spelling (spelling) VALUES ('color')`)
	alt := mustExec(t, db, `INSERT INTO word_spelling (spelling) VALUES ('colour')`)
	bare := mustExec(t, db, `INSERT INTO word_spelling (spelling) VALUES ('heck')`)
	require.NoError(t, InsertAltSpelling(ctx, db, hub, alt))
	require.NoError(t, InsertWordPhonetic(ctx, db, hub, "K AH1 L ER0"))

	missing, err := WordsWithoutPhonetics(ctx, db, 0)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "heck", missing[0].Spelling)

	p, err := InsertPhrase(ctx, db, "what the heck")
	require.NoError(t, err)
	require.NoError(t, LinkPhraseWord(ctx, db, p, bare))

	n, err := FlagPhrasesContaining(ctx, db, bare)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = FlagPhrasesContaining(ctx, db, bare)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	stats, err := CountStats(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Words)
	assert.EqualValues(t, 1, stats.NSFWPhrases)

	w, ok, err := LookupWord(ctx, db, "color")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"K AH1 L ER0"}, w.Phonetics)

	_, ok, err = LookupWord(ctx, db, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreErrorsWrapSentinel(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	// foreign keys are enforced, so an unknown word id is rejected.
	err := InsertWordPhonetic(ctx, db, 999, "X")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
}
