package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// knownKeys are the valid top-level keys in the config file. Unknown keys
// are fatal with a "did you mean?" suggestion — silently ignoring a typo in
// a config file leads to hard-to-debug behavior.
var knownKeys = []string{
	"server_url", "client_id", "self_number", "call_log_path",
	"batch_limit", "sync_interval", "background_interval",
	"request_timeout", "realtime", "watch_call_log", "log_level",
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config with all defaults. Supports the zero-config first run.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// CLIOverrides holds flag values the CLI layer passes in.
type CLIOverrides struct {
	ConfigPath string
	ServerURL  string
	SelfNumber string
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.ServerURL != "" {
		cfg.ServerURL = env.ServerURL
	}

	if env.SelfNumber != "" {
		cfg.SelfNumber = env.SelfNumber
	}

	if cli.ServerURL != "" {
		cfg.ServerURL = cli.ServerURL
	}

	if cli.SelfNumber != "" {
		cfg.SelfNumber = cli.SelfNumber
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the resolved configuration for nonsense values. ServerURL
// is allowed to be empty at load time — commands that need the network check
// for it themselves with a friendlier message.
func Validate(cfg *Config) error {
	if cfg.ServerURL != "" {
		u, err := url.Parse(cfg.ServerURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server_url %q is not a valid http(s) URL", cfg.ServerURL)
		}
	}

	if cfg.BatchLimit <= 0 {
		return fmt.Errorf("batch_limit must be positive, got %d", cfg.BatchLimit)
	}

	if cfg.SyncInterval.Duration <= 0 {
		return fmt.Errorf("sync_interval must be positive, got %s", cfg.SyncInterval)
	}

	if cfg.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", cfg.RequestTimeout)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", cfg.LogLevel)
	}

	return nil
}

// checkUnknownKeys fails on undecoded keys with a suggestion for the
// closest known key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var msgs []string

	for _, key := range undecoded {
		name := key.String()

		msg := fmt.Sprintf("unknown config key %q", name)
		if suggestion := closestKey(name); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
		}

		msgs = append(msgs, msg)
	}

	sort.Strings(msgs)

	return errors.New(strings.Join(msgs, "; "))
}

// maxSuggestionDistance is the Levenshtein cutoff for "did you mean?".
const maxSuggestionDistance = 3

// closestKey returns the known key nearest to name, or "" when nothing is
// close enough to be a plausible typo.
func closestKey(name string) string {
	best := ""
	bestDist := maxSuggestionDistance + 1

	for _, key := range knownKeys {
		if d := levenshtein(name, key); d < bestDist {
			best = key
			bestDist = d
		}
	}

	return best
}

// levenshtein computes the edit distance between two short strings.
func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i

		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
