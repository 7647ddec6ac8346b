package command

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/adamavenir/ledgersync/internal/api"
	"github.com/adamavenir/ledgersync/internal/core"
	"github.com/spf13/cobra"
)

// Env is what every subcommand needs: settings, a client and a logger.
type Env struct {
	Config   core.Config
	Client   *api.Client
	Logger   *slog.Logger
	JSONMode bool
}

// GetEnv loads the config and applies the persistent flag overrides.
func GetEnv(cmd *cobra.Command) (*Env, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := core.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if baseURL, _ := cmd.Flags().GetString("base-url"); strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = baseURL
	}
	if token, _ := cmd.Flags().GetString("token"); strings.TrimSpace(token) != "" {
		cfg.Token = token
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	debug, _ := cmd.Flags().GetBool("debug")
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	client, err := api.NewClient(cfg.BaseURL, api.Options{
		Token:      cfg.Token,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
	})
	if err != nil {
		return nil, err
	}

	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Env{Config: cfg, Client: client, Logger: logger, JSONMode: jsonMode}, nil
}
