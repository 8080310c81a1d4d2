package ingest

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/facts"
	"github.com/lanceczlt/Pun-Generator/pkg/tokenize"
	"github.com/lanceczlt/Pun-Generator/pkg/worker"
)

func setupDB(t testing.TB) *sql.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), db.DriverCGO, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newIngester(t testing.TB, conn *sql.DB) *Ingester {
	t.Helper()
	tok, err := tokenize.New(tokenize.Strict)
	require.NoError(t, err)
	return NewIngester(conn, facts.NewImporter(tok, zerolog.Nop()))
}

func count(t *testing.T, conn *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

const mixedStream = `{"type":"word","spellings":["theatre","theater"],"phonetics":["TH IY1 AH0 T ER0"]}
not json at all

{"type":"sonnet","lines":14}
{"type":"paragraph","text":"reserved"}
{"type":"phrases","phrases":["a stitch in time saves nine","nine lives"],"source":{"name":"Idioms"}}
{"type":"assoc","assocs":[{"word1":"apple"},{"word1":"apple","word2":"banana"}]}
`

func TestIngestSkipsBadRecordsAndContinues(t *testing.T) {
	conn := setupDB(t)
	ig := newIngester(t, conn)

	sum, err := ig.Ingest(context.Background(), strings.NewReader(mixedStream))
	require.NoError(t, err)
	assert.Equal(t, Summary{Records: 6, Applied: 3, NoOps: 1, Skipped: 2}, sum)

	assert.Equal(t, 1, count(t, conn, "word_phonetic"))
	assert.Equal(t, 2, count(t, conn, "phrase"))
	assert.Equal(t, 1, count(t, conn, "word_assoc"))
}

func TestIngestIsIdempotentForUnsourcedFacts(t *testing.T) {
	conn := setupDB(t)
	stream := `{"type":"word","spellings":["colour","color"],"phonetics":"K AH1 L ER0"}
{"type":"assoc","assoc":{"word1":"salt","word2":"pepper","type":"pair"}}
`
	for i := 0; i < 2; i++ {
		_, err := newIngester(t, conn).Ingest(context.Background(), strings.NewReader(stream))
		require.NoError(t, err)
	}
	assert.Equal(t, 4, count(t, conn, "word_spelling"))
	assert.Equal(t, 1, count(t, conn, "word_phonetic"))
	assert.Equal(t, 1, count(t, conn, "alt_spelling"))
	assert.Equal(t, 1, count(t, conn, "word_assoc"))
}

func TestIngestPreservesInputOrder(t *testing.T) {
	conn := setupDB(t)
	ig := newIngester(t, conn)
	ig.Workers = 8

	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString(`{"type":"phrase","phrase":"phrase number `)
		b.WriteString(strings.Repeat("x", i%7+1))
		b.WriteString(`"}` + "\n")
	}
	sum, err := ig.Ingest(context.Background(), strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Equal(t, 200, sum.Applied)

	rows, err := conn.Query(`SELECT phrase FROM phrase ORDER BY phrase_id`)
	require.NoError(t, err)
	defer rows.Close()
	i := 0
	for rows.Next() {
		var p string
		require.NoError(t, rows.Scan(&p))
		assert.Equal(t, "phrase number "+strings.Repeat("x", i%7+1), p)
		i++
	}
	assert.Equal(t, 200, i)
}

func TestIngestCustomSeparator(t *testing.T) {
	conn := setupDB(t)
	ig := newIngester(t, conn)
	ig.Separator = "\x1e"

	stream := `{"type":"word","spelling":"one"}` + "\x1e" + `{"type":"word",` + "\n" + `"spelling":"two"}` + "\x1e"
	sum, err := ig.Ingest(context.Background(), strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Applied)
	assert.Equal(t, 2, count(t, conn, "word_spelling"))
}

func TestIngestSkipsOversizedRecord(t *testing.T) {
	huge := `{"type":"phrase","phrase":"` + strings.Repeat("la ", 70_000) + `"}`

	tests := []struct {
		name string
		sep  string
	}{
		{"newline", ""},
		{"multi byte separator", "<>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := setupDB(t)
			ig := newIngester(t, conn)
			ig.MaxRecordSize = 1024
			ig.Separator = tt.sep
			sep := tt.sep
			if sep == "" {
				sep = "\n"
			}

			stream := `{"type":"word","spelling":"first"}` + sep + huge + sep + `{"type":"word","spelling":"after"}` + sep
			sum, err := ig.Ingest(context.Background(), strings.NewReader(stream))
			require.NoError(t, err)
			assert.Equal(t, Summary{Records: 3, Applied: 2, Skipped: 1}, sum)
			assert.Equal(t, 2, count(t, conn, "word_spelling"))
			assert.Equal(t, 0, count(t, conn, "phrase"))
		})
	}
}

func TestIngestRecordLargerThanReadBuffer(t *testing.T) {
	conn := setupDB(t)
	ig := newIngester(t, conn)

	long := strings.Repeat("la ", 50_000) + "end"
	stream := `{"type":"phrase","phrase":"` + long + `"}` + "\n" + `{"type":"word","spelling":"after"}`
	sum, err := ig.Ingest(context.Background(), strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, Summary{Records: 2, Applied: 2}, sum)

	var got string
	require.NoError(t, conn.QueryRow(`SELECT phrase FROM phrase`).Scan(&got))
	assert.Equal(t, long, got)
}

func TestIngestBatchedTransactions(t *testing.T) {
	conn := setupDB(t)
	ig := newIngester(t, conn)
	ig.BatchSize = 3

	var progress []Summary
	var mu sync.Mutex
	ig.ProgressEvery = 2
	ig.OnProgress = func(s Summary) {
		mu.Lock()
		progress = append(progress, s)
		mu.Unlock()
	}

	var b strings.Builder
	for _, w := range []string{"a", "b", "c", "d", "e"} {
		b.WriteString(`{"type":"word","spelling":"` + w + `"}` + "\n")
	}
	sum, err := ig.Ingest(context.Background(), strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Applied)
	assert.Equal(t, 5, count(t, conn, "word_spelling"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progress)
	assert.Equal(t, 5, progress[len(progress)-1].Applied)
}

func TestIngestStopsOnStoreFailure(t *testing.T) {
	conn := setupDB(t)
	ig := newIngester(t, conn)
	// break the store underneath the importer
	_, err := conn.Exec(`DROP TABLE word_phonetic`)
	require.NoError(t, err)

	stream := `{"type":"word","spelling":"a","phonetic":"AH0"}
{"type":"word","spelling":"b"}
`
	_, err = ig.Ingest(context.Background(), strings.NewReader(stream))
	require.Error(t, err)
	assert.ErrorIs(t, err, db.ErrStore)
}

func TestIngestContextCancel(t *testing.T) {
	conn := setupDB(t)
	ig := newIngester(t, conn)

	// Create a context that is ALREADY canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := ig.Ingest(ctx, strings.NewReader(mixedStream))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sum.Applied)
	assert.Equal(t, 0, count(t, conn, "word_spelling"))
}

// failingPool always returns an error on Submit to simulate producer error.
type failingPool struct{}

func (f *failingPool) Start(ctx context.Context)      {}
func (f *failingPool) Submit(job worker.Job) error { return errors.New("submit failed") }
func (f *failingPool) SubmitCtx(ctx context.Context, job worker.Job) error {
	return errors.New("submit failed")
}
func (f *failingPool) Close() {}

func TestIngestHandlesSubmitError(t *testing.T) {
	conn := setupDB(t)
	ig := newIngester(t, conn)
	// Inject failing pool so first Submit() returns an error
	ig.PoolFactory = func(workers, queue int) WorkerPoolInterface { return &failingPool{} }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ig.Ingest(ctx, strings.NewReader(mixedStream))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit failed")
}
