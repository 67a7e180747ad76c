package main

import (
	"fmt"
	"strings"

	"github.com/mcdev12/ladder/go/internal/ladder"
	"github.com/mcdev12/ladder/go/internal/session"
	"github.com/spf13/cobra"
)

// resolveSpeaker accepts a speaker id, a case-insensitive name or a
// 1-based queue position.
func resolveSpeaker(st session.State, ref string) (string, error) {
	if st.IndexOf(ref) >= 0 {
		return ref, nil
	}
	var pos int
	if _, err := fmt.Sscanf(ref, "#%d", &pos); err == nil {
		if pos < 1 || pos > len(st.Speakers) {
			return "", fmt.Errorf("position %d: %w", pos, session.ErrIndexOutOfRange)
		}
		return st.Speakers[pos-1].ID, nil
	}
	for _, sp := range st.Speakers {
		if strings.EqualFold(sp.Name, ref) {
			return sp.ID, nil
		}
	}
	return "", fmt.Errorf("%q: %w", ref, session.ErrSpeakerNotFound)
}

// engineCommand builds a command that applies one engine operation.
func engineCommand(opts *RootOptions, use, short string, args cobra.PositionalArgs, op func(e *session.Engine, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *ladder.Session) error {
				return op(s.Engine(), args)
			})
		},
	}
}

// NewJoinCommand creates the join command.
func NewJoinCommand(opts *RootOptions) *cobra.Command {
	return engineCommand(opts, "join <name>", "Add a speaker to the end of the queue", cobra.MinimumNArgs(1),
		func(e *session.Engine, args []string) error {
			_, err := e.Join(strings.Join(args, " "))
			return err
		})
}

// NewNextCommand creates the next command.
func NewNextCommand(opts *RootOptions) *cobra.Command {
	return engineCommand(opts, "next", "Bring up the first waiting speaker", cobra.NoArgs,
		func(e *session.Engine, _ []string) error { return e.StartNextWaiting() })
}

// NewStartCommand creates the start command.
func NewStartCommand(opts *RootOptions) *cobra.Command {
	return engineCommand(opts, "start", "Start or resume the countdown", cobra.NoArgs,
		func(e *session.Engine, _ []string) error { return e.StartTimer() })
}

// NewPauseCommand creates the pause command.
func NewPauseCommand(opts *RootOptions) *cobra.Command {
	return engineCommand(opts, "pause", "Pause the countdown", cobra.NoArgs,
		func(e *session.Engine, _ []string) error { return e.PauseTimer() })
}

// NewQACommand creates the qa command.
func NewQACommand(opts *RootOptions) *cobra.Command {
	return engineCommand(opts, "qa", "Move the active speaker to Q&A", cobra.NoArgs,
		func(e *session.Engine, _ []string) error { return e.AdvancePhase() })
}

// NewDoneCommand creates the done command.
func NewDoneCommand(opts *RootOptions) *cobra.Command {
	return engineCommand(opts, "done", "Finish the active speaker", cobra.NoArgs,
		func(e *session.Engine, _ []string) error { return e.MarkDone() })
}

// NewExpireCommand creates the expire command.
func NewExpireCommand(opts *RootOptions) *cobra.Command {
	return engineCommand(opts, "expire", "Flag the active speaker as over time", cobra.NoArgs,
		func(e *session.Engine, _ []string) error { return e.HandleExpiry() })
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return engineCommand(opts, "delete <speaker>", "Remove a speaker who is not on stage", cobra.ExactArgs(1),
		func(e *session.Engine, args []string) error {
			id, err := resolveSpeaker(e.Snapshot(), args[0])
			if err != nil {
				return err
			}
			return e.DeleteSpeaker(id)
		})
}

// NewMoveCommand creates the move command.
func NewMoveCommand(opts *RootOptions) *cobra.Command {
	return engineCommand(opts, "move <speaker> <up|down>", "Swap a speaker with a neighbour", cobra.ExactArgs(2),
		func(e *session.Engine, args []string) error {
			id, err := resolveSpeaker(e.Snapshot(), args[0])
			if err != nil {
				return err
			}
			var dir session.Direction
			switch strings.ToLower(args[1]) {
			case "up":
				dir = session.Up
			case "down":
				dir = session.Down
			default:
				return fmt.Errorf("direction must be up or down, got %q", args[1])
			}
			return e.MoveSpeaker(id, dir)
		})
}

// NewReorderCommand creates the reorder command.
func NewReorderCommand(opts *RootOptions) *cobra.Command {
	return engineCommand(opts, "reorder <speaker> <target>", "Move a speaker to the target's position", cobra.ExactArgs(2),
		func(e *session.Engine, args []string) error {
			st := e.Snapshot()
			id, err := resolveSpeaker(st, args[0])
			if err != nil {
				return err
			}
			target, err := resolveSpeaker(st, args[1])
			if err != nil {
				return err
			}
			return e.Reorder(id, target)
		})
}

// NewRenameCommand creates the rename command.
func NewRenameCommand(opts *RootOptions) *cobra.Command {
	return engineCommand(opts, "rename <speaker> <name>", "Change a speaker's display name", cobra.MinimumNArgs(2),
		func(e *session.Engine, args []string) error {
			id, err := resolveSpeaker(e.Snapshot(), args[0])
			if err != nil {
				return err
			}
			return e.RenameSpeaker(id, strings.Join(args[1:], " "))
		})
}

// NewResetCommand creates the reset command.
func NewResetCommand(opts *RootOptions) *cobra.Command {
	return engineCommand(opts, "reset", "Clear the queue, keeping the minute settings", cobra.NoArgs,
		func(e *session.Engine, _ []string) error { return e.ResetSession() })
}

// MinutesOptions holds flags for the minutes command.
type MinutesOptions struct {
	*RootOptions
	Present int
	QA      int
}

// NewMinutesCommand creates the minutes command.
func NewMinutesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MinutesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "minutes",
		Short: "Set the present and Q&A lengths (1-30 minutes)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			present, qa := cmd.Flags().Changed("present"), cmd.Flags().Changed("qa")
			if !present && !qa {
				return fmt.Errorf("at least one of --present or --qa is required")
			}
			return withSession(cmd, opts.RootOptions, func(s *ladder.Session) error {
				if present {
					if err := s.Engine().SetPresentMins(opts.Present); err != nil {
						return err
					}
				}
				if qa {
					return s.Engine().SetQAMins(opts.QA)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&opts.Present, "present", session.DefaultMinutes, "present minutes")
	cmd.Flags().IntVar(&opts.QA, "qa", session.DefaultMinutes, "Q&A minutes")
	return cmd
}
