package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hussein-Mazeh/passmngr/store"
)

// Environment overrides, applied by FromEnv.
const (
	EnvVault       = "PM_VAULT"
	EnvJournal     = "PM_JOURNAL"
	EnvIdleTimeout = "PM_IDLE_TIMEOUT"
	EnvLogLevel    = "PM_LOG_LEVEL"
)

// DefaultIdleTimeout locks an unlocked session after this much inactivity.
const DefaultIdleTimeout = 5 * time.Minute

// Config describes where the vault lives and how sessions behave.
type Config struct {
	VaultPath   string
	JournalPath string
	IdleTimeout time.Duration
	LogLevel    string
}

// Default places the vault at store.DefaultPath and the journal beside it.
func Default() (Config, error) {
	vaultPath, err := store.DefaultPath()
	if err != nil {
		return Config{}, err
	}
	return Config{
		VaultPath:   vaultPath,
		JournalPath: filepath.Join(filepath.Dir(vaultPath), "journal.db"),
		IdleTimeout: DefaultIdleTimeout,
		LogLevel:    zerolog.LevelInfoValue,
	}, nil
}

// FromEnv overlays the PM_* environment variables on c.
func (c Config) FromEnv(lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvVault); ok && v != "" {
		c.VaultPath = v
	}
	if v, ok := lookup(EnvJournal); ok {
		// An explicitly empty value disables the journal.
		c.JournalPath = v
	}
	if v, ok := lookup(EnvIdleTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return c, fmt.Errorf("parse %s: %w", EnvIdleTimeout, err)
		}
		c.IdleTimeout = d
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	return c, nil
}

// Validate rejects configurations no session could run with.
func (c Config) Validate() error {
	if c.VaultPath == "" {
		return errors.New("vault path is required")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Logger builds a console logger on w at the configured level. A nil w means
// stderr.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: w != os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}
