// Package query answers "which known phrases could rhyme with this word" by
// substituting the word into stored phrases that contain one of its rhymes.
package query

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/metrics"
	"github.com/lanceczlt/Pun-Generator/pkg/rhyme"
	"github.com/lanceczlt/Pun-Generator/pkg/worker"
)

// DefaultMaxRhymes caps the rhymes requested per input word.
const DefaultMaxRhymes = 500

// ErrInvalidMode is returned for an unrecognized input mode.
var ErrInvalidMode = errors.New("invalid query mode")

// Mode controls how inputs are split into words.
type Mode string

const (
	// ModeWord treats every input as one word.
	ModeWord Mode = "word"
	// ModeWordBlob splits every input on whitespace.
	ModeWordBlob Mode = "wordblob"
	// ModePhrase splits every input on whitespace.
	ModePhrase Mode = "phrase"
)

// ParseMode validates a mode name. The empty string selects ModeWord.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeWord, nil
	case ModeWord, ModeWordBlob, ModePhrase:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Request is one rhyme query.
type Request struct {
	Inputs []string
	Mode   Mode
	// Sources restricts results to phrases from these source names. Empty
	// means every source.
	Sources   []string
	AllowNSFW bool
}

// Metadata attributes a result.
type Metadata struct {
	Source string `json:"source"`
	Rhyme  string `json:"rhyme"`
	Input  string `json:"input"`
}

// Result is a stored phrase and its variant with the input word substituted
// for the rhyme.
type Result struct {
	OriginalPhrase string   `json:"original_phrase"`
	RhymedPhrase   string   `json:"rhymed_phrase"`
	Metadata       Metadata `json:"metadata"`
}

// Engine runs rhyme queries against a phrase store.
type Engine struct {
	DB        db.DBExecutor
	Resolver  rhyme.Resolver
	MaxRhymes int
	// Workers bounds the number of concurrent phrase scans.
	Workers int
	Logger  zerolog.Logger
}

// NewEngine returns an Engine with default limits.
func NewEngine(exec db.DBExecutor, resolver rhyme.Resolver) *Engine {
	return &Engine{
		DB:        exec,
		Resolver:  resolver,
		MaxRhymes: DefaultMaxRhymes,
		Workers:   4,
		Logger:    zerolog.Nop(),
	}
}

type candidate struct {
	rhyme string
	input string
}

// FindRhymes returns phrase variants in discovery order. Any resolver failure
// fails the whole call; no partial results are returned.
func (e *Engine) FindRhymes(ctx context.Context, req Request) ([]Result, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeWord
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	}()

	words := flatten(req.Inputs, mode)
	if len(words) == 0 {
		return []Result{}, nil
	}

	cands, err := e.candidates(ctx, words)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return []Result{}, nil
	}

	hits, err := e.scan(ctx, cands, db.PhraseFilter{Sources: req.Sources, AllowNSFW: req.AllowNSFW})
	if err != nil {
		return nil, err
	}

	results := merge(cands, hits)
	metrics.QueryResults.Observe(float64(len(results)))
	e.Logger.Debug().
		Strs("words", words).
		Int("candidates", len(cands)).
		Int("results", len(results)).
		Msg("rhyme query")
	return results, nil
}

// flatten splits inputs into distinct words according to mode.
func flatten(inputs []string, mode Mode) []string {
	seen := make(map[string]struct{})
	var words []string
	add := func(w string) {
		w = strings.TrimSpace(w)
		if w == "" {
			return
		}
		k := strings.ToLower(w)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		words = append(words, w)
	}
	for _, in := range inputs {
		if mode == ModeWord {
			add(in)
			continue
		}
		for _, w := range strings.Fields(in) {
			add(w)
		}
	}
	return words
}

// candidates resolves rhymes for every word and unions them in discovery
// order. The first input that produced a rhyme owns it.
func (e *Engine) candidates(ctx context.Context, words []string) ([]candidate, error) {
	max := e.MaxRhymes
	if max <= 0 {
		max = DefaultMaxRhymes
	}
	seen := make(map[string]struct{})
	var out []candidate
	for _, w := range words {
		rhymes, err := e.Resolver.Rhymes(ctx, w, max)
		if err != nil {
			if !errors.Is(err, rhyme.ErrResolver) {
				err = &rhyme.Error{Word: w, Err: err}
			}
			return nil, err
		}
		for _, r := range rhymes {
			r = strings.TrimSpace(r)
			k := strings.ToLower(r)
			if r == "" || strings.EqualFold(r, w) {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, candidate{rhyme: r, input: w})
		}
	}
	return out, nil
}

// scan looks up phrases for every candidate in parallel. hits[i] belongs to cands[i].
func (e *Engine) scan(ctx context.Context, cands []candidate, filter db.PhraseFilter) ([][]db.Phrase, error) {
	hits := make([][]db.Phrase, len(cands))
	errs := make([]error, len(cands))

	workers := e.Workers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := worker.New(workers, workers*2)
	pool.Start(ctx)
	for i := range cands {
		i := i
		err := pool.SubmitCtx(ctx, func(ctx context.Context) error {
			hits[i], errs[i] = db.PhrasesContaining(ctx, e.DB, cands[i].rhyme, filter)
			if errs[i] != nil {
				cancel()
			}
			return errs[i]
		})
		if err != nil {
			break
		}
	}
	pool.Close()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

// merge substitutes inputs into phrase hits, dropping phrases already emitted.
func merge(cands []candidate, hits [][]db.Phrase) []Result {
	seen := make(map[string]struct{})
	results := []Result{}
	for i, c := range cands {
		if len(hits[i]) == 0 {
			continue
		}
		re := tokenPattern(c.rhyme)
		for _, p := range hits[i] {
			key := strings.ToLower(p.Text)
			if _, ok := seen[key]; ok {
				continue
			}
			rhymed, ok := substituteFirst(re, p.Text, c.input)
			if !ok {
				continue
			}
			seen[key] = struct{}{}
			results = append(results, Result{
				OriginalPhrase: p.Text,
				RhymedPhrase:   rhymed,
				Metadata:       Metadata{Source: p.SourceName, Rhyme: c.rhyme, Input: c.input},
			})
		}
	}
	return results
}

// tokenPattern matches word as a whole token, case-insensitively. Group 2 is
// the word itself.
func tokenPattern(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}_])(` + regexp.QuoteMeta(word) + `)($|[^\p{L}\p{N}_])`)
}

// substituteFirst replaces the first whole-token match of re in text.
func substituteFirst(re *regexp.Regexp, text, replacement string) (string, bool) {
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", false
	}
	return text[:loc[4]] + replacement + text[loc[5]:], true
}
