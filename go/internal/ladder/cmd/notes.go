package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mcdev12/ladder/go/internal/notes"
	"github.com/mcdev12/ladder/go/internal/prefs"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewNotesCommand creates the notes command group.
func NewNotesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Read and edit the shared notes",
	}
	cmd.AddCommand(
		newNotesShowCommand(opts),
		newNotesSetCommand(opts),
		newNotesClearCommand(opts),
		newNotesExternalCommand(opts),
		newNotesBuiltinCommand(opts),
		newNotesExportCommand(opts),
	)
	return cmd
}

// withNotes runs fn against a ready session's notes and flushes on close.
func withNotes(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, n *notes.Engine) error) (notes.Snapshot, error) {
	s, _, err := openSession(cmd.Context(), opts, nil)
	if err != nil {
		return notes.Snapshot{}, err
	}
	if err := fn(cmd.Context(), s.Notes()); err != nil {
		s.Close()
		return notes.Snapshot{}, err
	}
	snap := s.Notes().Snapshot()
	return snap, s.Close()
}

func printNotes(cmd *cobra.Command, snap notes.Snapshot) {
	out := cmd.OutOrStdout()
	if snap.Mode() == notes.ModeExternal {
		fmt.Fprintf(out, "External notes: %s\n", snap.ExternalURL)
		return
	}
	text := notes.PlainText(snap.Document)
	if text == "" {
		fmt.Fprintln(out, "(no notes)")
		return
	}
	fmt.Fprintln(out, text)
}

func newNotesShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the shared notes as text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := withNotes(cmd, opts, func(context.Context, *notes.Engine) error { return nil })
			if err != nil {
				return err
			}
			printNotes(cmd, snap)
			return nil
		},
	}
}

func newNotesSetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <markup>",
		Short: "Replace the shared notes document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := withNotes(cmd, opts, func(_ context.Context, n *notes.Engine) error {
				return n.Edit(strings.Join(args, " "))
			})
			if err != nil {
				return err
			}
			printNotes(cmd, snap)
			return nil
		},
	}
}

func newNotesClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the shared notes for everyone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := withNotes(cmd, opts, func(ctx context.Context, n *notes.Engine) error {
				return n.Clear(ctx)
			})
			if err != nil {
				return err
			}
			printNotes(cmd, snap)
			return nil
		},
	}
}

// ExternalOptions holds flags for the notes external command.
type ExternalOptions struct {
	*RootOptions
	Token string
}

func newNotesExternalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExternalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "external <url>",
		Short: "Point every client at an externally hosted notes page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := withNotes(cmd, opts.RootOptions, func(ctx context.Context, n *notes.Engine) error {
				return n.SetExternalURL(ctx, args[0])
			})
			if err != nil {
				return err
			}
			// The pointer is shared; the mode and token stay on this device.
			if err := savePrefs(cmd.Context(), opts.ConfigPath, func(ctx context.Context, p *prefs.Store) error {
				if err := p.SetNotesMode(ctx, prefs.NotesExternal); err != nil {
					return err
				}
				return p.SetExternalNotes(ctx, snap.ExternalURL, opts.Token)
			}); err != nil {
				log.Warn().Err(err).Msg("failed to save notes preference")
			}
			printNotes(cmd, snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Token, "token", "", "session token for the external notes page (kept on this device)")
	return cmd
}

func newNotesBuiltinCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "builtin",
		Short: "Switch every client back to the built-in notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := withNotes(cmd, opts, func(ctx context.Context, n *notes.Engine) error {
				return n.ClearExternalURL(ctx)
			})
			if err != nil {
				return err
			}
			if err := savePrefs(cmd.Context(), opts.ConfigPath, func(ctx context.Context, p *prefs.Store) error {
				if err := p.SetNotesMode(ctx, prefs.NotesBuiltin); err != nil {
					return err
				}
				return p.SetExternalNotes(ctx, "", "")
			}); err != nil {
				log.Warn().Err(err).Msg("failed to save notes preference")
			}
			printNotes(cmd, snap)
			return nil
		},
	}
}

// ExportOptions holds flags for the notes export command.
type ExportOptions struct {
	*RootOptions
	As  string // "text" | "html"
	Dir string
}

func newNotesExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Save the shared notes to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := withNotes(cmd, opts.RootOptions, func(context.Context, *notes.Engine) error { return nil })
			if err != nil {
				return err
			}

			var name, body string
			switch opts.As {
			case "text":
				name, body = notes.TextFileName, notes.PlainText(snap.Document)
			case "html":
				name, body = notes.HTMLFileName, notes.HTMLDocument(snap.Document)
			default:
				return fmt.Errorf("invalid export type %q: must be text or html", opts.As)
			}

			path := filepath.Join(opts.Dir, name)
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.As, "as", "text", "export type (text|html)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "directory to write into (default current)")
	return cmd
}
