package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/facts"
	"github.com/lanceczlt/Pun-Generator/pkg/ingest"
)

// signalContext cancels on SIGINT/SIGTERM for graceful shutdown.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func (a *app) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database schema and print table counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			stats, err := db.CountStats(ctx, conn)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database initialized at %s\n", a.cfg.Database.Path)
			fmt.Fprintf(out, "  words:        %d\n", stats.Words)
			fmt.Fprintf(out, "  phonetics:    %d\n", stats.Phonetics)
			fmt.Fprintf(out, "  associations: %d\n", stats.Associations)
			fmt.Fprintf(out, "  phrases:      %d (%d nsfw)\n", stats.Phrases, stats.NSFWPhrases)
			fmt.Fprintf(out, "  sources:      %d\n", stats.Sources)
			return nil
		},
	}
}

func (a *app) newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file...]",
		Short: "Import fact records from files or stdin",
		Long: `Import reads fact records (one JSON object per record) and stores them.
With no file, or "-", records are read from stdin. Malformed records are
logged and skipped; a storage failure stops the import.

Example:
  pundb import words.jsonl phrases.jsonl
  cat facts.jsonl | pundb import --batch-size 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			conn, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			im, err := a.newImporter()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				args = []string{"-"}
			}

			var total ingest.Summary
			for _, name := range args {
				s, err := a.importOne(ctx, conn, im, name)
				total.Records += s.Records
				total.Applied += s.Applied
				total.NoOps += s.NoOps
				total.Skipped += s.Skipped
				if err != nil {
					return fmt.Errorf("import %s: %w", name, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "records=%d applied=%d noop=%d skipped=%d\n",
				total.Records, total.Applied, total.NoOps, total.Skipped)
			return nil
		},
	}

	f := cmd.Flags()
	f.String("separator", "", `record separator (default newline; escapes like "\x1e" allowed)`)
	f.Int("workers", 0, "decode workers")
	f.Int("batch-size", 0, "records per transaction (1 auto-commits every statement)")
	f.String("tokenizer", "", "tokenizer policy (strict, permissive, morphological)")
	f.String("source-policy", "", "source policy (distinct or fingerprint)")
	_ = a.v.BindPFlag("ingest.separator", f.Lookup("separator"))
	_ = a.v.BindPFlag("ingest.workers", f.Lookup("workers"))
	_ = a.v.BindPFlag("ingest.batch_size", f.Lookup("batch-size"))
	_ = a.v.BindPFlag("ingest.tokenizer", f.Lookup("tokenizer"))
	_ = a.v.BindPFlag("ingest.source_policy", f.Lookup("source-policy"))
	return cmd
}

func (a *app) importOne(ctx context.Context, conn *sql.DB, im *facts.Importer, name string) (ingest.Summary, error) {
	r, err := openInput(name)
	if err != nil {
		return ingest.Summary{}, err
	}
	defer r.Close()

	ig := ingest.NewIngester(conn, im)
	ig.Workers = a.cfg.Ingest.Workers
	ig.BatchSize = a.cfg.Ingest.BatchSize
	ig.FlushInterval = a.cfg.Ingest.FlushEvery
	ig.Separator = unescape(a.cfg.Ingest.Separator)
	ig.Logger = a.logger.With().Str("input", name).Logger()
	ig.OnProgress = func(s ingest.Summary) {
		ig.Logger.Info().Int("applied", s.Applied).Int("noop", s.NoOps).Int("skipped", s.Skipped).Msg("progress")
	}
	return ig.Ingest(ctx, r)
}

// unescape interprets Go escape sequences such as \x1e or \t in s.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	if u, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`); err == nil {
		return u
	}
	return s
}
