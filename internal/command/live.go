package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/adamavenir/ledgersync/internal/journal"
	"github.com/adamavenir/ledgersync/internal/metrics"
	"github.com/adamavenir/ledgersync/internal/nav"
	"github.com/adamavenir/ledgersync/internal/notify"
	"github.com/adamavenir/ledgersync/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// addLiveFlags registers the flags shared by commands that hold a session.
func addLiveFlags(cmd *cobra.Command) {
	cmd.Flags().String("journal", "", "sqlite journal path (overrides journal_path)")
	cmd.Flags().Bool("no-journal", false, "do not persist or preload events")
	cmd.Flags().Bool("notify", false, "send desktop notifications for unread messages")
	cmd.Flags().StringSlice("notify-match", nil, "only notify for authors matching these globs")
	cmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address")
	cmd.Flags().String("goto-file", "", "watch this file for addresses to open")
	cmd.Flags().StringSlice("forget", nil, "drop journaled events for these groups before loading")
}

// liveSession is a running session plus the resources hung off it.
type liveSession struct {
	Session *session.Session

	journal *journal.Journal
	server  *http.Server
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func startLiveSession(ctx context.Context, cmd *cobra.Command, env *Env) (*liveSession, error) {
	cfg := env.Config
	if path, _ := cmd.Flags().GetString("journal"); path != "" {
		cfg.JournalPath = path
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.MetricsAddr = addr
	}
	if path, _ := cmd.Flags().GetString("goto-file"); path != "" {
		cfg.GotoFile = path
	}
	if patterns, _ := cmd.Flags().GetStringSlice("notify-match"); len(patterns) > 0 {
		cfg.NotifyPatterns = patterns
	}
	noJournal, _ := cmd.Flags().GetBool("no-journal")
	wantNotify, _ := cmd.Flags().GetBool("notify")

	ctx, cancel := context.WithCancel(ctx)
	live := &liveSession{cancel: cancel}
	opts := session.Options{
		Backend: env.Client,
		Config:  cfg,
		Logger:  env.Logger,
	}

	if cfg.JournalPath != "" && !noJournal {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		live.journal = j
		opts.Journal = j

		forget, _ := cmd.Flags().GetStringSlice("forget")
		for _, groupID := range forget {
			count, err := j.Count(ctx, groupID)
			if err == nil {
				err = j.Forget(ctx, groupID)
			}
			if err != nil {
				live.Close()
				return nil, fmt.Errorf("forget journal for %s: %w", groupID, err)
			}
			env.Logger.Info("forgot journaled events", "group", groupID, "events", count)
		}
	}

	if wantNotify || len(cfg.NotifyPatterns) > 0 {
		notifier, err := notify.New(notify.Options{Patterns: cfg.NotifyPatterns, Logger: env.Logger})
		if err != nil {
			live.Close()
			return nil, err
		}
		opts.Notifier = notifier
	}

	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		opts.Metrics = metrics.New(registry)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(registry))
		live.server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		live.wg.Add(1)
		go func() {
			defer live.wg.Done()
			if err := live.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				env.Logger.Error("metrics server stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	env.Logger.Debug("starting session", "client", env.Client.ClientID(), "base_url", cfg.BaseURL)
	s, err := session.New(opts)
	if err != nil {
		live.Close()
		return nil, err
	}
	live.Session = s

	if err := s.Start(ctx); err != nil {
		live.Close()
		return nil, err
	}

	if cfg.GotoFile != "" {
		live.wg.Add(1)
		go func() {
			defer live.wg.Done()
			if err := nav.WatchGotoFile(ctx, cfg.GotoFile, s, env.Logger); err != nil && ctx.Err() == nil {
				env.Logger.Error("goto file watcher stopped", "path", cfg.GotoFile, "error", err)
			}
		}()
	}

	return live, nil
}

// Close stops the session and releases the journal and metrics server.
func (l *liveSession) Close() {
	l.cancel()
	if l.Session != nil {
		l.Session.Close()
	}
	if l.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = l.server.Shutdown(shutdownCtx)
		cancel()
	}
	l.wg.Wait()
	if l.journal != nil {
		_ = l.journal.Close()
	}
}
