// Package config holds the pundb configuration and loads it with viper from
// defaults, an optional YAML file and PUNDB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/facts"
	"github.com/lanceczlt/Pun-Generator/pkg/query"
	"github.com/lanceczlt/Pun-Generator/pkg/rhyme"
	"github.com/lanceczlt/Pun-Generator/pkg/tokenize"
)

// EnvPrefix prefixes every environment variable, e.g. PUNDB_DATABASE_PATH.
const EnvPrefix = "PUNDB"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Ingest   IngestConfig   `mapstructure:"ingest" yaml:"ingest"`
	Resolver ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
	Query    QueryConfig    `mapstructure:"query" yaml:"query"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type DatabaseConfig struct {
	// Driver is "sqlite3" (cgo) or "sqlite" (pure Go).
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

type IngestConfig struct {
	// Separator between records; empty means newline.
	Separator    string        `mapstructure:"separator" yaml:"separator"`
	Workers      int           `mapstructure:"workers" yaml:"workers"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	FlushEvery   time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	Tokenizer    string        `mapstructure:"tokenizer" yaml:"tokenizer"`
	SourcePolicy string        `mapstructure:"source_policy" yaml:"source_policy"`
}

type ResolverConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	Max       int           `mapstructure:"max" yaml:"max"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries   int           `mapstructure:"retries" yaml:"retries"`
	Rate      float64       `mapstructure:"rate" yaml:"rate"`
	Burst     int           `mapstructure:"burst" yaml:"burst"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
}

type QueryConfig struct {
	Workers int    `mapstructure:"workers" yaml:"workers"`
	Mode    string `mapstructure:"mode" yaml:"mode"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
	// CORS lists allowed origins; "*" allows any.
	CORS []string `mapstructure:"cors" yaml:"cors"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Driver: db.DriverCGO, Path: "pundb.db"},
		Ingest: IngestConfig{
			Workers:      4,
			BatchSize:    1,
			FlushEvery:   100 * time.Millisecond,
			Tokenizer:    string(tokenize.Strict),
			SourcePolicy: string(facts.SourceDistinct),
		},
		Resolver: ResolverConfig{
			BaseURL:   rhyme.DefaultBaseURL,
			Max:       query.DefaultMaxRhymes,
			Timeout:   10 * time.Second,
			Retries:   1,
			Rate:      5,
			Burst:     5,
			CacheTTL:  time.Hour,
			UserAgent: "pundb",
		},
		Query:  QueryConfig{Workers: 4, Mode: string(query.ModeWord)},
		Server: ServerConfig{Addr: ":8080", BasePath: "/api/v1", CORS: []string{"*"}},
		Log:    LogConfig{Level: "info", Format: "console"},
	}
}

// DefaultPath returns $HOME/.pundb/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error finding home directory: %w", err)
	}
	return filepath.Join(home, ".pundb", "config.yaml"), nil
}

// SetDefaults registers every key of Default on v so environment variables
// and Unmarshal see the full key set.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("ingest.separator", d.Ingest.Separator)
	v.SetDefault("ingest.workers", d.Ingest.Workers)
	v.SetDefault("ingest.batch_size", d.Ingest.BatchSize)
	v.SetDefault("ingest.flush_interval", d.Ingest.FlushEvery)
	v.SetDefault("ingest.tokenizer", d.Ingest.Tokenizer)
	v.SetDefault("ingest.source_policy", d.Ingest.SourcePolicy)
	v.SetDefault("resolver.base_url", d.Resolver.BaseURL)
	v.SetDefault("resolver.max", d.Resolver.Max)
	v.SetDefault("resolver.timeout", d.Resolver.Timeout)
	v.SetDefault("resolver.retries", d.Resolver.Retries)
	v.SetDefault("resolver.rate", d.Resolver.Rate)
	v.SetDefault("resolver.burst", d.Resolver.Burst)
	v.SetDefault("resolver.cache_ttl", d.Resolver.CacheTTL)
	v.SetDefault("resolver.user_agent", d.Resolver.UserAgent)
	v.SetDefault("query.workers", d.Query.Workers)
	v.SetDefault("query.mode", d.Query.Mode)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.cors", d.Server.CORS)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads configuration into v and returns the validated result. An empty
// path searches $HOME/.pundb; a missing file there is not an error, an
// explicit path that cannot be read is.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".pundb"))
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	// Read in environment variables that match PUNDB_*
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values and non-positive bounds.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Database.Driver {
	case db.DriverCGO, db.DriverPure:
	default:
		bad("database.driver %q (want %s or %s)", c.Database.Driver, db.DriverCGO, db.DriverPure)
	}
	if c.Database.Path == "" {
		bad("database.path is empty")
	}
	if _, err := tokenize.ParsePolicy(c.Ingest.Tokenizer); err != nil {
		bad("ingest.tokenizer %q", c.Ingest.Tokenizer)
	}
	if _, err := facts.ParseSourcePolicy(c.Ingest.SourcePolicy); err != nil {
		bad("ingest.source_policy %q", c.Ingest.SourcePolicy)
	}
	if _, err := query.ParseMode(c.Query.Mode); err != nil {
		bad("query.mode %q", c.Query.Mode)
	}
	for name, n := range map[string]int{
		"ingest.workers":    c.Ingest.Workers,
		"ingest.batch_size": c.Ingest.BatchSize,
		"resolver.max":      c.Resolver.Max,
		"resolver.burst":    c.Resolver.Burst,
		"query.workers":     c.Query.Workers,
	} {
		if n <= 0 {
			bad("%s must be positive, got %d", name, n)
		}
	}
	if c.Resolver.Timeout <= 0 {
		bad("resolver.timeout must be positive")
	}
	if c.Resolver.Rate <= 0 {
		bad("resolver.rate must be positive")
	}
	if c.Resolver.Retries < 0 {
		bad("resolver.retries must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		bad("log.format %q (want console or json)", c.Log.Format)
	}
	return errors.Join(errs...)
}

// YAML renders the configuration as YAML.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("error marshaling config: %w", err)
	}
	return out, nil
}

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := Default().YAML()
	if err != nil {
		return err
	}
	header := "# pundb configuration\n" +
		"#\n" +
		"# Configuration hierarchy (highest to lowest priority):\n" +
		"#   1. CLI flags\n" +
		"#   2. Environment variables (PUNDB_*, e.g. PUNDB_DATABASE_PATH)\n" +
		"#   3. This config file\n" +
		"#   4. Built-in defaults\n\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}
