package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/crafttrack/internal/app"
	"github.com/kimhsiao/crafttrack/internal/export"
	backup "github.com/kimhsiao/crafttrack/internal/export/scheduler"
)

func (c *cli) backupCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "backup", GroupID: "records", Short: "Write or restore local backup archives"}

	var (
		out      string
		password string
		noPhotos bool
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Write a backup archive now",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			var (
				res *export.ExportResult
				err error
			)
			if out == "" && password == "" && !noPhotos {
				res, err = a.Backup.RunOnce(ctx)
			} else {
				if out == "" {
					out = filepath.Join(a.Config.Backup.Dir, "crafttrack_"+time.Now().UTC().Format("20060102_150405")+".tar.gz")
				}
				res, err = a.Backups.Export(ctx, &export.ExportConfig{
					OutputPath:   out,
					Password:     password,
					IncludeMedia: !noPhotos,
				})
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"path":      res.FilePath,
				"records":   res.ItemCount,
				"photos":    res.Blobs,
				"bytes":     res.SizeBytes,
				"checksum":  res.Checksum,
				"encrypted": res.Encrypted,
			})
		}),
	}
	createCmd.Flags().StringVarP(&out, "out", "o", "", "archive path (default: backup.dir)")
	createCmd.Flags().StringVar(&password, "password", "", "encrypt the archive")
	createCmd.Flags().BoolVar(&noPhotos, "no-photos", false, "leave out photo payloads")

	var restorePassword string
	restoreCmd := &cobra.Command{
		Use:   "restore <archive>",
		Short: "Add records from an archive that are missing locally",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			res, err := a.Backups.Import(ctx, args[0], restorePassword)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d records (%d skipped, %d deletions, %d photos)\n",
				res.ImportedCount, res.SkippedCount, res.TombstoneCount, res.BlobCount)
			return nil
		}),
	}
	restoreCmd.Flags().StringVar(&restorePassword, "password", "", "archive password")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archives in backup.dir, newest first",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(_ context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			archives, err := backup.ListArchives(a.Config.Backup.Dir)
			if err != nil {
				return err
			}
			if archives == nil {
				archives = []*backup.ArchiveInfo{}
			}
			return printJSON(cmd.OutOrStdout(), archives)
		}),
	}

	cmd.AddCommand(createCmd, restoreCmd, listCmd)
	return cmd
}
