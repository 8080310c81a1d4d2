package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/query"
	"github.com/lanceczlt/Pun-Generator/pkg/server"
)

func (a *app) newQueryCmd() *cobra.Command {
	var (
		sources []string
		nsfw    bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "query <input>...",
		Short: "Find stored phrases that can take a rhyming substitution",
		Long: `Query looks up rhymes for every input word and returns stored phrases
containing one of them, with the rhyme swapped for the input.

Example:
  pundb query pine
  pundb query --mode phrase "time flies" --source proverbs --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			mode, err := query.ParseMode(a.cfg.Query.Mode)
			if err != nil {
				return err
			}
			conn, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			engine := a.newEngine(conn)
			results, err := engine.FindRhymes(ctx, query.Request{
				Inputs:    args,
				Mode:      mode,
				Sources:   sources,
				AllowNSFW: nsfw,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string][]query.Result{"results": results})
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No results.")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(out, "%s\n    %s (%s -> %s", r.RhymedPhrase, r.OriginalPhrase, r.Metadata.Rhyme, r.Metadata.Input)
				if r.Metadata.Source != "" {
					fmt.Fprintf(out, ", %s", r.Metadata.Source)
				}
				fmt.Fprintln(out, ")")
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.String("mode", "", "input mode (word, wordblob, phrase)")
	f.Int("max", 0, "maximum rhymes requested per word")
	f.Int("workers", 0, "concurrent phrase scans")
	f.StringSliceVar(&sources, "source", nil, "only phrases from these source names (repeatable)")
	f.BoolVar(&nsfw, "nsfw", false, "include phrases flagged NSFW")
	f.BoolVar(&asJSON, "json", false, "print results as JSON")
	_ = a.v.BindPFlag("query.mode", f.Lookup("mode"))
	_ = a.v.BindPFlag("resolver.max", f.Lookup("max"))
	_ = a.v.BindPFlag("query.workers", f.Lookup("workers"))
	return cmd
}

func (a *app) newEngine(conn db.DBExecutor) *query.Engine {
	engine := query.NewEngine(conn, a.newResolver())
	engine.MaxRhymes = a.cfg.Resolver.Max
	engine.Workers = a.cfg.Query.Workers
	engine.Logger = a.logger
	return engine
}

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve rhyme queries over HTTP",
		Long: `Serve exposes the query engine:

  POST <base>/query    {"input": "pine", "mode": "word", "sources": [], "nsfw": false}
  GET  <base>/health
  GET  /metrics        Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			conn, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			srv := server.New(a.newEngine(conn), conn, server.Options{
				BasePath: a.cfg.Server.BasePath,
				CORS:     a.cfg.Server.CORS,
				Version:  version,
			}, a.logger)
			return srv.ListenAndServe(ctx, a.cfg.Server.Addr)
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	_ = a.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}
