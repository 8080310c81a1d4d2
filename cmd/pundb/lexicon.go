package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/dictionary"
	"github.com/lanceczlt/Pun-Generator/pkg/facts"
	"github.com/lanceczlt/Pun-Generator/pkg/nsfw"
)

func (a *app) newFlagNSFWCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flag-nsfw <denylist>",
		Short: "Flag every phrase containing a denylisted word as NSFW",
		Long: `Flag-nsfw reads one word per line ("-" for stdin, "#" starts a comment)
and marks every stored phrase containing one of them. Flagged phrases are
left out of query results unless NSFW results are requested.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			r, err := openInput(args[0])
			if err != nil {
				return err
			}
			words, err := nsfw.ReadDenylist(r)
			r.Close()
			if err != nil {
				return err
			}

			conn, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			res, err := nsfw.Flag(ctx, conn, words, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "matched %d of %d words, flagged %d phrases\n",
				len(res.Matched), len(words), res.Flagged)
			return nil
		},
	}
}

func (a *app) newMissingPhoneticsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "missing-phonetics",
		Short: "List words that have no phonetic transcription",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			words, err := db.WordsWithoutPhonetics(ctx, conn, limit)
			if err != nil {
				return err
			}
			for _, w := range words {
				fmt.Fprintln(cmd.OutOrStdout(), w.Spelling)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum words to list (0 lists all)")
	return cmd
}

func (a *app) newFillPhoneticsCmd() *cobra.Command {
	var (
		dictPath string
		dictURL  string
		limit    int
		noFetch  bool
	)
	cmd := &cobra.Command{
		Use:   "fill-phonetics",
		Short: "Fill missing phonetics from a CMU pronouncing dictionary",
		Long: `Fill-phonetics loads a CMU-format pronouncing dictionary, downloading it
first if the file is missing, and attaches its pronunciations to every
stored word that has none. The dictionary is recorded as the source.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			if !noFetch {
				if err := dictionary.EnsureDictionary(ctx, dictPath, dictURL, a.logger); err != nil {
					return fmt.Errorf("failed to ensure dictionary at %s: %w", dictPath, err)
				}
			}
			entries, err := dictionary.LoadFile(dictPath)
			if err != nil {
				return fmt.Errorf("failed to load dictionary: %w", err)
			}
			a.logger.Info().Int("entries", len(entries)).Msg("dictionary loaded")

			conn, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			im, err := a.newImporter()
			if err != nil {
				return err
			}
			dict := dictionary.NewImporter(entries)
			dict.Source = facts.Source{"name": {"cmudict"}}
			dict.Logger = a.logger

			n, err := dict.FillMissing(ctx, conn, im, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Filled phonetics for %d words.\n", n)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&dictPath, "dict", "cmudict.dict", "path to the pronouncing dictionary")
	f.StringVar(&dictURL, "dict-url", dictionary.DefaultURL, "download location used when the dictionary is missing")
	f.IntVar(&limit, "limit", 0, "maximum words to fill (0 fills all)")
	f.BoolVar(&noFetch, "offline", false, "never download the dictionary")
	return cmd
}
