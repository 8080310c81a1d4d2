package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lanceczlt/Pun-Generator/pkg/config"
	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/facts"
	"github.com/lanceczlt/Pun-Generator/pkg/rhyme"
	"github.com/lanceczlt/Pun-Generator/pkg/tokenize"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

// app carries state shared by every subcommand of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "pundb",
		Short: "pundb - a phrase database for rhyming puns",
		Long: `pundb stores words, spelling variants, phonetics, word associations and
phrases with their provenance, and finds phrase variants in which a word
has been swapped for one of its rhymes.

Example:
  pundb import facts.jsonl
  pundb query pine
  pundb serve --addr :8080`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: $HOME/.pundb/config.yaml)")
	pf.String("db", "", "path to SQLite database")
	pf.String("driver", "", "database driver (sqlite3 or sqlite)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (console or json)")
	// Bind flags to viper; a flag only wins when it was set.
	_ = a.v.BindPFlag("database.path", pf.Lookup("db"))
	_ = a.v.BindPFlag("database.driver", pf.Lookup("driver"))
	_ = a.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", pf.Lookup("log-format"))

	root.AddCommand(
		a.newInitCmd(),
		a.newImportCmd(),
		a.newQueryCmd(),
		a.newServeCmd(),
		a.newExtractCmd(),
		a.newFlagNSFWCmd(),
		a.newMissingPhoneticsCmd(),
		a.newFillPhoneticsCmd(),
		a.newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pundb v%s\n", version)
		},
	}
}

func (a *app) load(stderr io.Writer) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger, err = newLogger(cfg.Log, stderr)
	if err != nil {
		return err
	}
	log.Logger = a.logger
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug().Str("file", used).Msg("using config file")
	}
	return nil
}

func newLogger(c config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if c.Level != "" {
		var err error
		level, err = zerolog.ParseLevel(strings.ToLower(c.Level))
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
	}
	if c.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

func (a *app) openDB(ctx context.Context) (*sql.DB, error) {
	conn, err := db.Open(ctx, a.cfg.Database.Driver, a.cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", a.cfg.Database.Path, err)
	}
	return conn, nil
}

func (a *app) newImporter() (*facts.Importer, error) {
	policy, err := tokenize.ParsePolicy(a.cfg.Ingest.Tokenizer)
	if err != nil {
		return nil, err
	}
	tok, err := tokenize.New(policy)
	if err != nil {
		return nil, err
	}
	sp, err := facts.ParseSourcePolicy(a.cfg.Ingest.SourcePolicy)
	if err != nil {
		return nil, err
	}
	im := facts.NewImporter(tok, a.logger)
	im.SourcePolicy = sp
	return im, nil
}

func (a *app) newResolver() rhyme.Resolver {
	r := a.cfg.Resolver
	retries := r.Retries
	if retries == 0 {
		// the client reads zero as "default"
		retries = -1
	}
	return rhyme.NewClient(rhyme.Options{
		BaseURL:       r.BaseURL,
		UserAgent:     r.UserAgent,
		Timeout:       r.Timeout,
		Retries:       retries,
		RatePerSecond: r.Rate,
		Burst:         r.Burst,
		CacheTTL:      r.CacheTTL,
		Logger:        a.logger,
	})
}

// openInput returns stdin for "" or "-", else the named file.
func openInput(name string) (io.ReadCloser, error) {
	if name == "" || name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(name)
}
