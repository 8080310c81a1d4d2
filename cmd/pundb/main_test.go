package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const factStream = `{"type":"word","spellings":["theatre","theater"],"phonetics":["TH IY1 AH0 T ER0"]}
{"type":"phrase","phrase":"a stitch in time saves nine","source":{"name":"proverbs"}}
{"type":"phrase","phrase":"cloud nine","source":{"name":"idioms"}}
not json
`

// testEnv isolates HOME and writes a config file pointing at a fresh database
// and a stub rhyme service.
func testEnv(t *testing.T) (cfgPath string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	rhymes := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("rel_rhy") == "pine" {
			fmt.Fprint(w, `[{"word":"nine","score":100}]`)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	t.Cleanup(rhymes.Close)

	cfgPath = filepath.Join(dir, "pundb.yaml")
	cfg := fmt.Sprintf(`database:
  path: %s
resolver:
  base_url: %s
  rate: 100
  burst: 100
log:
  level: error
`, filepath.Join(dir, "pundb.db"), rhymes.URL)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	testEnv(t)
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "pundb v"+version+"\n", out)
}

func TestImportAndQuery(t *testing.T) {
	cfg := testEnv(t)
	facts := filepath.Join(t.TempDir(), "facts.jsonl")
	require.NoError(t, os.WriteFile(facts, []byte(factStream), 0o644))

	out, err := run(t, "--config", cfg, "import", facts)
	require.NoError(t, err)
	assert.Equal(t, "records=4 applied=3 noop=0 skipped=1\n", out)

	out, err = run(t, "--config", cfg, "query", "pine")
	require.NoError(t, err)
	assert.Contains(t, out, "a stitch in time saves pine")
	assert.Contains(t, out, "cloud pine")

	out, err = run(t, "--config", cfg, "query", "pine", "--source", "proverbs", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"rhymed_phrase": "a stitch in time saves pine"`)
	assert.NotContains(t, out, "cloud")

	out, err = run(t, "--config", cfg, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "phrases:      2 (0 nsfw)")
}

func TestImportSeparatorFlag(t *testing.T) {
	cfg := testEnv(t)
	stream := strings.ReplaceAll(strings.TrimSuffix(factStream, "not json\n"), "\n", "\x1e")
	path := filepath.Join(t.TempDir(), "facts.rs")
	require.NoError(t, os.WriteFile(path, []byte(stream), 0o644))

	out, err := run(t, "--config", cfg, "import", "--separator", `\x1e`, "--batch-size", "10", path)
	require.NoError(t, err)
	assert.Equal(t, "records=3 applied=3 noop=0 skipped=0\n", out)
}

func TestFlagNSFWAndPhonetics(t *testing.T) {
	cfg := testEnv(t)
	dir := t.TempDir()
	factsPath := filepath.Join(dir, "facts.jsonl")
	require.NoError(t, os.WriteFile(factsPath, []byte(factStream), 0o644))
	_, err := run(t, "--config", cfg, "import", factsPath)
	require.NoError(t, err)

	deny := filepath.Join(dir, "deny.txt")
	require.NoError(t, os.WriteFile(deny, []byte("# test list\ncloud\n"), 0o644))
	out, err := run(t, "--config", cfg, "flag-nsfw", deny)
	require.NoError(t, err)
	assert.Equal(t, "matched 1 of 1 words, flagged 1 phrases\n", out)

	out, err = run(t, "--config", cfg, "query", "pine")
	require.NoError(t, err)
	assert.NotContains(t, out, "cloud pine")
	out, err = run(t, "--config", cfg, "query", "pine", "--nsfw")
	require.NoError(t, err)
	assert.Contains(t, out, "cloud pine")

	out, err = run(t, "--config", cfg, "missing-phonetics")
	require.NoError(t, err)
	assert.Contains(t, out, "nine\n")
	assert.NotContains(t, out, "theater")

	dict := filepath.Join(dir, "cmudict.dict")
	require.NoError(t, os.WriteFile(dict, []byte("nine N AY1 N\ncloud K L AW1 D\n"), 0o644))
	out, err = run(t, "--config", cfg, "fill-phonetics", "--offline", "--dict", dict)
	require.NoError(t, err)
	assert.Equal(t, "Filled phonetics for 2 words.\n", out)

	out, err = run(t, "--config", cfg, "missing-phonetics")
	require.NoError(t, err)
	assert.NotContains(t, out, "nine")
}

func TestExtractFromFile(t *testing.T) {
	cfg := testEnv(t)
	page := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(page, []byte(`<html><head><title>Time</title></head><body><article>
<p>A stitch in time saves nine. Measure twice and cut once! Nobody disputes the value of mending clothes early.</p>
<p>The same proverb applies to software, where small fixes made early prevent larger failures later on.</p>
</article></body></html>`), 0o644))

	out, err := run(t, "--config", cfg, "extract", "https://proverbs.example.com/time", "--file", page)
	require.NoError(t, err)
	assert.Contains(t, out, `"type":"phrase"`)
	assert.Contains(t, out, "A stitch in time saves nine.")
	assert.Contains(t, out, `"url":["https://proverbs.example.com/time"]`)

	out, err = run(t, "--config", cfg, "extract", "https://proverbs.example.com/time", "--file", page, "--import")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "applied: "), out)
}

func TestConfigInitAndShow(t *testing.T) {
	testEnv(t)
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	out, err := run(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = run(t, "--config", path, "config", "init")
	require.Error(t, err)

	t.Setenv("PUNDB_QUERY_MODE", "phrase")
	out, err = run(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "mode: phrase")
	assert.Contains(t, out, "driver: sqlite3")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	testEnv(t)
	t.Setenv("PUNDB_DATABASE_DRIVER", "postgres")
	_, err := run(t, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}
