package main

import (
	"context"
	"fmt"

	"github.com/mcdev12/ladder/go/internal/config"
	"github.com/mcdev12/ladder/go/internal/prefs"
	"github.com/spf13/cobra"
)

// openPrefs opens the device preference store named by the configuration.
func openPrefs(configPath string) (*prefs.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return prefs.Open(cfg.PrefsPath)
}

// savePrefs applies fn to the configured preference store.
func savePrefs(ctx context.Context, configPath string, fn func(context.Context, *prefs.Store) error) error {
	store, err := openPrefs(configPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

// NewThemeCommand creates the theme command.
func NewThemeCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "theme [dark|light|toggle]",
		Short: "Show or change this device's theme",
		Long: `Show or change this device's theme.

The theme is stored on this device only and never shared with other clients.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"dark", "light", "toggle"},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openPrefs(opts.ConfigPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var theme prefs.Theme
			switch {
			case len(args) == 0:
				theme, err = store.Theme(ctx, prefs.ThemeDark)
			case args[0] == "toggle":
				theme, err = store.ToggleTheme(ctx, prefs.ThemeDark)
			default:
				theme = prefs.Theme(args[0])
				err = store.SetTheme(ctx, theme)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme)
			return nil
		},
	}
	return cmd
}
