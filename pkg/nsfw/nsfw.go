// Package nsfw marks stored phrases that contain denylisted words.
package nsfw

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/metrics"
)

// ReadDenylist reads one word per line. Blank lines and lines starting with
// '#' are ignored; words are lowercased and deduplicated.
func ReadDenylist(r io.Reader) ([]string, error) {
	var words []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		w := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if w == "" || strings.HasPrefix(w, "#") || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read denylist: %w", err)
	}
	return words, nil
}

// Result reports what a flagging run did.
type Result struct {
	// Matched lists denylisted words present in the store.
	Matched []string
	Flagged int64
}

// Flag marks every phrase containing one of words as NSFW, in a single
// transaction. Words unknown to the store are ignored.
func Flag(ctx context.Context, conn *sql.DB, words []string, logger zerolog.Logger) (Result, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("flag nsfw: %w: %w", db.ErrStore, err)
	}
	defer tx.Rollback()

	var res Result
	for _, w := range words {
		id, ok, err := db.LookupWordID(ctx, tx, w)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			continue
		}
		n, err := db.FlagPhrasesContaining(ctx, tx, id)
		if err != nil {
			return Result{}, err
		}
		res.Matched = append(res.Matched, w)
		res.Flagged += n
		logger.Debug().Str("word", w).Int64("flagged", n).Msg("flagged phrases")
	}

	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("flag nsfw: %w: %w", db.ErrStore, err)
	}
	metrics.PhrasesFlaggedTotal.Add(float64(res.Flagged))
	logger.Info().Int("matched", len(res.Matched)).Int64("flagged", res.Flagged).Msg("nsfw flagging finished")
	return res, nil
}
