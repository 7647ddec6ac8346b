package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/adamavenir/ledgersync/internal/session"
	"github.com/adamavenir/ledgersync/internal/types"
	"github.com/spf13/cobra"
)

type tailRecord struct {
	Type    string                  `json:"type"`
	Event   *types.Event            `json:"event,omitempty"`
	Status  *types.ConnectionStatus `json:"status,omitempty"`
	Address string                  `json:"address,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// NewTailCmd creates the tail command.
func NewTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail <group>",
		Short: "Follow a group's ledger until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := GetEnv(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			live, err := startLiveSession(ctx, cmd, env)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer live.Close()

			live.Session.SelectGroup(args[0])
			if err := followSession(ctx, live.Session, cmd.OutOrStdout(), env.JSONMode); err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	addLiveFlags(cmd)
	return cmd
}

// followSession prints events as they reach the store, plus connection
// and navigation changes, until ctx is done.
func followSession(ctx context.Context, s *session.Session, out io.Writer, jsonMode bool) error {
	wake := make(chan struct{}, 1)
	var (
		addresses = make(chan string, 8)
		failures  = make(chan error, 8)
	)
	unsubscribe := s.Subscribe(func(change session.Change) {
		switch change.Kind {
		case session.ChangeAddress:
			select {
			case addresses <- change.Address:
			default:
			}
		case session.ChangeError:
			if change.Err == nil {
				break
			}
			select {
			case failures <- change.Err:
			default:
			}
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	printer := &tailPrinter{out: out, json: jsonMode, session: s}
	for {
		if err := printer.flush(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case address := <-addresses:
			if err := printer.emit(tailRecord{Type: "address", Address: address}, "open "+address); err != nil {
				return err
			}
		case failure := <-failures:
			if err := printer.emit(tailRecord{Type: "error", Error: failure.Error()}, "error: "+failure.Error()); err != nil {
				return err
			}
		case <-wake:
		}
	}
}

type tailPrinter struct {
	out     io.Writer
	json    bool
	session *session.Session

	group   string
	printed int
	status  types.ConnectionStatus
}

func (p *tailPrinter) flush() error {
	if group := p.session.Selected().GroupID; group != p.group {
		p.group = group
		p.printed = 0
	}

	status := p.session.ConnectionStatus()
	if status != p.status {
		p.status = status
		if err := p.emit(tailRecord{Type: "status", Status: &status}, "-- "+formatStatus(status)); err != nil {
			return err
		}
	}

	events := p.session.Events()
	if p.printed > len(events) {
		p.printed = 0
	}
	for _, ev := range events[p.printed:] {
		ev := ev
		if err := p.emit(tailRecord{Type: "event", Event: &ev}, formatEvent(ev, p.session.Ledger())); err != nil {
			return err
		}
	}
	p.printed = len(events)
	return nil
}

func (p *tailPrinter) emit(record tailRecord, plain string) error {
	if p.json {
		return json.NewEncoder(p.out).Encode(record)
	}
	_, err := fmt.Fprintln(p.out, plain)
	return err
}
