// Package config loads the settings of the trace parser from command-line
// flags, TRACETREE_* environment variables and .env files.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/sarchlab/tracetree/threads"
)

// EnvPrefix prefixes the environment variables that set configuration keys,
// e.g. TRACETREE_LOCAL_SERVER_PREFIX.
const EnvPrefix = "TRACETREE"

// DefaultDotEnv is the .env file read when no other is given.
const DefaultDotEnv = ".env"

// Configuration keys.
const (
	KeyTrace             = "trace"
	KeyUserTiming        = "user"
	KeyCPU               = "cpu"
	KeyBreakdown         = "breakdown"
	KeyTree              = "tree"
	KeyCSV               = "csv"
	KeyDB                = "db"
	KeyLocalServerPrefix = "local_server_prefix"
	KeyVerbose           = "verbose"
	KeyPort              = "port"
	KeyOpen              = "open"
)

// Config holds the settings of one run.
type Config struct {
	Trace      string
	UserTiming string
	CPU        string
	Breakdown  string
	Tree       string
	CSV        string
	DB         string

	LocalServerPrefix string
	Verbosity         int

	Port        int
	OpenBrowser bool
}

// NewViper creates a viper instance that reads TRACETREE_* environment
// variables. Dashes in keys map to underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeyLocalServerPrefix, threads.DefaultLocalServerPrefix)

	return v
}

// LoadDotEnv adds the variables of the given .env files to the environment.
// Files that do not exist are skipped, and variables that are already set
// are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{DefaultDotEnv}
	}

	var existing []string

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}

	if len(existing) == 0 {
		return nil
	}

	return errors.Wrap(godotenv.Load(existing...), "loading .env")
}

// Load reads the configuration from v.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Trace:             v.GetString(KeyTrace),
		UserTiming:        v.GetString(KeyUserTiming),
		CPU:               v.GetString(KeyCPU),
		Breakdown:         v.GetString(KeyBreakdown),
		Tree:              v.GetString(KeyTree),
		CSV:               v.GetString(KeyCSV),
		DB:                v.GetString(KeyDB),
		LocalServerPrefix: v.GetString(KeyLocalServerPrefix),
		Verbosity:         v.GetInt(KeyVerbose),
		Port:              v.GetInt(KeyPort),
		OpenBrowser:       v.GetBool(KeyOpen),
	}

	if c.LocalServerPrefix == "" {
		return c, errors.New("local server prefix must not be empty")
	}

	if c.Port < 0 || c.Port > 65535 {
		return c, errors.Errorf("invalid port %d", c.Port)
	}

	if c.Verbosity < 0 {
		c.Verbosity = 0
	}

	return c, nil
}

// RequireTrace fails if no input trace is configured.
func (c Config) RequireTrace() error {
	if c.Trace == "" {
		return errors.New("input trace file is not specified")
	}

	return nil
}
