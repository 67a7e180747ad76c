package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mcdev12/ladder/go/internal/ladder"
	"github.com/mcdev12/ladder/go/internal/session"
	"github.com/mcdev12/ladder/go/internal/supervisor"
	"github.com/mcdev12/ladder/go/internal/timer"
	"github.com/spf13/cobra"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the session live until interrupted",
		Long: `Follow the session live until interrupted.

The countdown is recomputed every second from the shared start time, and
time running out flags the speaker for every client.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cmd, opts)
		},
	}
}

func watch(ctx context.Context, cmd *cobra.Command, opts *RootOptions) error {
	views := make(chan timer.View, 1)
	s, _, err := openSession(ctx, opts, func(c *ladder.Config) {
		c.OnView = func(v timer.View) {
			select {
			case views <- v:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	cancel := s.Supervisor().OnChange(func(st supervisor.State) {
		fmt.Fprintf(out, "-- %s\n", st.Status)
	})
	defer cancel()

	var lastLine, lastQueue string
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case v := <-views:
			st := s.Engine().Snapshot()
			line, queue := timerLine(st, v), queueKey(st)
			switch {
			case queue != lastQueue || (opts.Format == "json" && line != lastLine):
				if err := renderState(out, opts.Format, st, v); err != nil {
					return err
				}
			case line != lastLine:
				fmt.Fprintln(out, line)
			}
			lastLine, lastQueue = line, queue
		}
	}
}

// queueKey changes whenever the queue as printed would change.
func queueKey(st session.State) string {
	var b strings.Builder
	for _, sp := range st.Speakers {
		fmt.Fprintf(&b, "%s|%s|%t;", sp.Name, sp.Status, sp.Breakout)
	}
	fmt.Fprintf(&b, "%d/%d", st.PresentMins, st.QAMins)
	return b.String()
}
