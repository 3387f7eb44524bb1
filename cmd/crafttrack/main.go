// Package main is the crafttrack command line: local record editing, manual
// sync and the background sync server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/crafttrack/internal/app"
	"github.com/kimhsiao/crafttrack/internal/config"
	"github.com/kimhsiao/crafttrack/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
)

type cli struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "crafttrack",
		Short:         "Offline-first craft project tracker",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := root.PersistentFlags()
	f.StringVar(&c.configPath, "config", "", "config file (default <data_dir>/config.yaml)")
	f.BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level")

	root.AddGroup(
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
	)
	root.AddCommand(
		c.projectCmd(),
		c.materialCmd(),
		c.sessionCmd(),
		c.noteCmd(),
		c.photoCmd(),
		c.categoryCmd(),
		c.backupCmd(),
		c.syncCmd(),
		c.statusCmd(),
		c.accountCmd(),
		c.settingsCmd(),
		c.resetCmd(),
		c.serveCmd(),
	)
	return root
}

// runFunc is a command body with an open application.
type runFunc func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error

// withApp loads configuration, opens the data directory for the duration
// of fn and closes it afterwards.
func (c *cli) withApp(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return err
		}
		c.initLogging(cfg, cmd.ErrOrStderr())

		a, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a, cmd, args)
	}
}

func (c *cli) initLogging(cfg *config.Config, stderr io.Writer) {
	level := logging.ParseLevel(cfg.Log.Level)
	if c.verbose {
		level = logging.LevelDebug
	}
	if cfg.Log.File != "" {
		logging.InitFile(cfg.Log.File, level, logMaxSizeMB, logMaxBackups)
		return
	}
	logging.Init(stderr, level)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
