package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanceczlt/Pun-Generator/pkg/extract"
	"github.com/lanceczlt/Pun-Generator/pkg/facts"
)

func (a *app) newExtractCmd() *cobra.Command {
	var (
		file     string
		doImport bool
	)
	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Extract an article's sentences as a phrase fact",
		Long: `Extract fetches a web page, keeps its readable article text, splits it
into sentences and prints one phrase fact record with the page as source.
With --import the fact is stored directly instead.

Example:
  pundb extract https://example.com/story >> phrases.jsonl
  pundb extract https://example.com/story --file saved.html --import`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()
			pageURL := args[0]

			var (
				art extract.Article
				err error
			)
			if file != "" {
				body, rerr := os.ReadFile(file)
				if rerr != nil {
					return rerr
				}
				art, err = extract.FromHTML(body, pageURL)
			} else {
				a.logger.Info().Str("url", pageURL).Msg("fetching")
				art, err = extract.NewFetcher().FetchArticle(ctx, pageURL)
			}
			if err != nil {
				return err
			}
			fact := art.Fact()
			a.logger.Info().Str("title", art.Title).Int("sentences", len(fact.Phrases)).Msg("article extracted")

			if !doImport {
				line, err := facts.Encode(fact)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(line))
				return nil
			}

			conn, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			im, err := a.newImporter()
			if err != nil {
				return err
			}
			outcome, err := im.Import(ctx, conn, fact)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sentences from %q\n", outcome, len(fact.Phrases), art.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read HTML from a local file instead of fetching the URL")
	cmd.Flags().BoolVar(&doImport, "import", false, "store the fact instead of printing it")
	return cmd
}
