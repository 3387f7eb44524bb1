package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/crafttrack/internal/app"
	"github.com/kimhsiao/crafttrack/internal/logging"
)

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Push local changes, then pull from the server",
		Long: `Run one sync pass.

The pass only runs with a linked account, cloud sync enabled and the server
reachable. Local creates, edits and deletes are pushed first; then every
collection is pulled and merged.`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			res, err := a.Sync(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), app.ResultSummary(res))
		}),
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show pending changes, tombstones and the last sync time",
		Args:    cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			st, err := a.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		}),
	}
}

func (c *cli) accountCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "account", GroupID: "sync", Short: "Link or unlink the sync account"}

	var user, token string
	linkCmd := &cobra.Command{
		Use:   "link",
		Short: "Store the account credential on this device",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			if err := a.Accounts.Link(ctx, user, token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Linked account %s\n", user)
			return nil
		}),
	}
	linkCmd.Flags().StringVar(&user, "user", "", "account user id")
	linkCmd.Flags().StringVar(&token, "token", "", "bearer token")
	_ = linkCmd.MarkFlagRequired("user")
	_ = linkCmd.MarkFlagRequired("token")

	unlinkCmd := &cobra.Command{
		Use:   "unlink",
		Short: "Forget the account credential; local data is kept",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			if err := a.Accounts.Unlink(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Account unlinked")
			return nil
		}),
	}

	cmd.AddCommand(linkCmd, unlinkCmd)
	return cmd
}

func (c *cli) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "settings", GroupID: "sync", Short: "Change persisted settings"}
	cmd.AddCommand(&cobra.Command{
		Use:       "sync <on|off>",
		Short:     "Turn cloud sync on or off",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: c.withApp(func(_ context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			enabled := args[0] == "on"
			if err := a.Config.SetSyncEnabled(enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cloud sync %s (%s)\n", args[0], a.Config.Path())
			return nil
		}),
	})
	return cmd
}

func (c *cli) resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "reset",
		GroupID: "sync",
		Short:   "Delete all local data, including unsynced changes",
		Args:    cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reset discards unsynced changes; pass --yes to confirm")
			}
			if err := a.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Local data cleared")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		GroupID: "sync",
		Short:   "Run background sync and the local status server",
		Long: `Run the sync scheduler until interrupted.

Passes run at startup, when connectivity returns, periodically and when
cloud sync is switched on. Status, manual sync and a WebSocket event stream
are served on server.addr (default 127.0.0.1:8090).`,
		Args: cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, _ *cobra.Command, _ []string) error {
			if !a.SyncConfigured() {
				logging.Warn("api.base_url is not set; serving local data only", nil)
			}
			return a.Serve(ctx)
		}),
	}
}
