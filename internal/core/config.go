package core

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "LEDGERSYNC_"

// Config holds client settings. Zero-valued fields fall back to defaults.
type Config struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`

	BackoffFloor    time.Duration `yaml:"backoff_floor"`
	BackoffCap      time.Duration `yaml:"backoff_cap"`
	MaxStreamErrors int           `yaml:"max_stream_errors"`
	PollInterval    time.Duration `yaml:"poll_interval"`

	ContextDebounce time.Duration   `yaml:"context_debounce"`
	RosterDebounce  time.Duration   `yaml:"roster_debounce"`
	WarmupDelays    []time.Duration `yaml:"warmup_delays"`
	ReconcileLines  int             `yaml:"reconcile_lines"`
	RequestTimeout  time.Duration   `yaml:"request_timeout"`

	JournalPath    string   `yaml:"journal_path"`
	NotifyPatterns []string `yaml:"notify_patterns"`
	MetricsAddr    string   `yaml:"metrics_addr"`
	GotoFile       string   `yaml:"goto_file"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://127.0.0.1:8848",
		BackoffFloor:    time.Second,
		BackoffCap:      30 * time.Second,
		MaxStreamErrors: 5,
		PollInterval:    10 * time.Second,
		ContextDebounce: 150 * time.Millisecond,
		RosterDebounce:  250 * time.Millisecond,
		WarmupDelays:    []time.Duration{3 * time.Second, 8 * time.Second, 15 * time.Second},
		ReconcileLines:  200,
		RequestTimeout:  15 * time.Second,
	}
}

// DefaultConfigPath returns ~/.config/ledgersync/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ledgersync", "config.yaml"), nil
}

// LoadConfig layers defaults, the yaml file, a .env file in the working
// directory and LEDGERSYNC_* environment variables. An explicit path that
// does not exist is an error; a missing default file is not.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		defaultPath, err := DefaultConfigPath()
		if err == nil {
			path = defaultPath
		}
	}
	if path != "" {
		if err := mergeConfigFile(&cfg, path); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Merge(fileCfg)
	return nil
}

// Merge copies every non-zero field of other onto c.
func (c *Config) Merge(other Config) {
	if other.BaseURL != "" {
		c.BaseURL = other.BaseURL
	}
	if other.Token != "" {
		c.Token = other.Token
	}
	if other.BackoffFloor > 0 {
		c.BackoffFloor = other.BackoffFloor
	}
	if other.BackoffCap > 0 {
		c.BackoffCap = other.BackoffCap
	}
	if other.MaxStreamErrors > 0 {
		c.MaxStreamErrors = other.MaxStreamErrors
	}
	if other.PollInterval > 0 {
		c.PollInterval = other.PollInterval
	}
	if other.ContextDebounce > 0 {
		c.ContextDebounce = other.ContextDebounce
	}
	if other.RosterDebounce > 0 {
		c.RosterDebounce = other.RosterDebounce
	}
	if len(other.WarmupDelays) > 0 {
		c.WarmupDelays = append([]time.Duration(nil), other.WarmupDelays...)
	}
	if other.ReconcileLines > 0 {
		c.ReconcileLines = other.ReconcileLines
	}
	if other.RequestTimeout > 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if other.JournalPath != "" {
		c.JournalPath = other.JournalPath
	}
	if len(other.NotifyPatterns) > 0 {
		c.NotifyPatterns = append([]string(nil), other.NotifyPatterns...)
	}
	if other.MetricsAddr != "" {
		c.MetricsAddr = other.MetricsAddr
	}
	if other.GotoFile != "" {
		c.GotoFile = other.GotoFile
	}
}

func applyEnv(cfg *Config) {
	var env Config
	env.BaseURL = envString("BASE_URL")
	env.Token = envString("TOKEN")
	env.BackoffFloor = envDuration("BACKOFF_FLOOR")
	env.BackoffCap = envDuration("BACKOFF_CAP")
	env.MaxStreamErrors = envInt("MAX_STREAM_ERRORS")
	env.PollInterval = envDuration("POLL_INTERVAL")
	env.ReconcileLines = envInt("RECONCILE_LINES")
	env.RequestTimeout = envDuration("REQUEST_TIMEOUT")
	env.JournalPath = envString("JOURNAL")
	env.MetricsAddr = envString("METRICS_ADDR")
	env.GotoFile = envString("GOTO_FILE")
	if raw := envString("NOTIFY_PATTERNS"); raw != "" {
		env.NotifyPatterns = splitList(raw)
	}
	cfg.Merge(env)
}

func envString(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func envDuration(name string) time.Duration {
	raw := envString(name)
	if raw == "" {
		return 0
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("ignoring invalid duration", "var", envPrefix+name, "value", raw)
		return 0
	}
	return value
}

func envInt(name string) int {
	raw := envString(name)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ignoring invalid integer", "var", envPrefix+name, "value", raw)
		return 0
	}
	return value
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base url cannot be empty")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("base url must include scheme and host (http://host:port)")
	}
	if c.BackoffCap < c.BackoffFloor {
		return fmt.Errorf("backoff cap %s is below floor %s", c.BackoffCap, c.BackoffFloor)
	}
	return nil
}
