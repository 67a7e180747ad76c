package main

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ladder/go/internal/channel"
	"github.com/mcdev12/ladder/go/internal/config"
	"github.com/mcdev12/ladder/go/internal/ladder"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "text" | "json"

	// dial and clock replace the configured transport in tests.
	dial  ladder.Dialer
	clock clockwork.Clock
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the ladder CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ladder",
		Short: "Lightning Ladder - a shared lightning talk queue",
		Long: `Lightning Ladder keeps a queue of speakers, a present/Q&A countdown and
shared notes in sync between everyone on the same deployment.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $LADDER_CONFIG or ladder.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		NewWatchCommand(opts),
		NewJoinCommand(opts),
		NewNextCommand(opts),
		NewStartCommand(opts),
		NewPauseCommand(opts),
		NewQACommand(opts),
		NewDoneCommand(opts),
		NewExpireCommand(opts),
		NewDeleteCommand(opts),
		NewMoveCommand(opts),
		NewReorderCommand(opts),
		NewRenameCommand(opts),
		NewResetCommand(opts),
		NewMinutesCommand(opts),
		NewNotesCommand(opts),
		NewThemeCommand(opts),
	)
	return cmd
}

// openSession loads configuration and opens a session that is ready to
// mutate. Callers must Close it to flush their change.
func openSession(ctx context.Context, opts *RootOptions, tune func(*ladder.Config)) (*ladder.Session, config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, config.Config{}, err
	}
	names, err := channel.ForDeployment(cfg.DeploymentURL)
	if err != nil {
		return nil, config.Config{}, err
	}

	dial := opts.dial
	if dial == nil {
		if dial, err = ladder.DialerFor(cfg, nil); err != nil {
			return nil, config.Config{}, err
		}
	}

	lc := ladder.DefaultConfig(names).Apply(cfg)
	if opts.clock != nil {
		lc.Clock = opts.clock
	}
	if tune != nil {
		tune(&lc)
	}

	s, err := ladder.Open(ctx, lc, dial)
	if err != nil {
		return nil, config.Config{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, lc.ReadyFallback+time.Second)
	defer cancel()
	if err := s.Supervisor().WaitReady(waitCtx); err != nil {
		s.Close()
		return nil, config.Config{}, fmt.Errorf("session never became ready: %w", err)
	}
	return s, cfg, nil
}

// withSession runs fn against a ready session, closes it and prints the
// resulting state.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(s *ladder.Session) error) error {
	s, _, err := openSession(cmd.Context(), opts, nil)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		s.Close()
		return err
	}
	state, view := s.Engine().Snapshot(), s.View()
	if err := s.Close(); err != nil {
		return err
	}
	return renderState(cmd.OutOrStdout(), opts.Format, state, view)
}
