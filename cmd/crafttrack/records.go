package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/crafttrack/internal/app"
	"github.com/kimhsiao/crafttrack/internal/gateway"
	"github.com/kimhsiao/crafttrack/internal/models"
)

// changed returns &v when the flag was given on the command line.
func changed[T any](cmd *cobra.Command, name string, v T) *T {
	if cmd.Flags().Changed(name) {
		return &v
	}
	return nil
}

func (c *cli) listCmd(kind models.Kind) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %s records", kind),
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			var (
				list []models.Entity
				err  error
			)
			if project != "" {
				list, err = a.Gateway.ListByProject(ctx, kind, project)
			} else {
				list, err = a.Gateway.List(ctx, kind)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		}),
	}
	if kind != models.KindProject && kind != models.KindMaterial && kind != models.KindCategory {
		cmd.Flags().StringVar(&project, "project", "", "only records of this project")
	}
	return cmd
}

func (c *cli) showCmd(kind models.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: fmt.Sprintf("Show one %s", kind),
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			e, err := a.Gateway.Get(ctx, kind, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		}),
	}
}

func (c *cli) deleteCmd(kind models.Kind) *cobra.Command {
	short := fmt.Sprintf("Delete a %s", kind)
	if kind == models.KindProject {
		short = "Delete a project with its sessions, notes and photos"
	}
	return &cobra.Command{
		Use:   "delete <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			if err := a.Gateway.Delete(ctx, kind, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s\n", kind, args[0])
			return nil
		}),
	}
}

// =====================================================
// Projects
// =====================================================

type projectFlags struct {
	title, description, category, status, pattern string
	totalRows                                     int
	materials                                     []string
}

func (f *projectFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.title, "title", "", "project title")
	fl.StringVar(&f.description, "description", "", "description")
	fl.StringVar(&f.category, "category", "", "category id")
	fl.StringVar(&f.status, "status", "", "in_progress, completed, paused or frogged")
	fl.StringVar(&f.pattern, "pattern-url", "", "pattern link")
	fl.IntVar(&f.totalRows, "total-rows", 0, "planned row count")
	fl.StringSliceVar(&f.materials, "material", nil, "material id (repeatable)")
}

func (f *projectFlags) input(cmd *cobra.Command, id string) gateway.ProjectInput {
	in := gateway.ProjectInput{
		ID:          id,
		Title:       changed(cmd, "title", f.title),
		Description: changed(cmd, "description", f.description),
		CategoryID:  changed(cmd, "category", f.category),
		PatternURL:  changed(cmd, "pattern-url", f.pattern),
		TotalRows:   changed(cmd, "total-rows", f.totalRows),
		MaterialIDs: changed(cmd, "material", f.materials),
	}
	if cmd.Flags().Changed("status") {
		in.Status = gateway.Ptr(models.ProjectStatus(f.status))
	}
	return in
}

func (c *cli) projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects", GroupID: "records"}

	var add projectFlags
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a project",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			p, err := a.Gateway.SaveProject(ctx, add.input(cmd, ""))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		}),
	}
	add.register(addCmd)
	_ = addCmd.MarkFlagRequired("title")

	var upd projectFlags
	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change project fields",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			p, err := a.Gateway.SaveProject(ctx, upd.input(cmd, args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		}),
	}
	upd.register(updateCmd)

	rowCmd := &cobra.Command{
		Use:   "row <id> [delta]",
		Short: "Advance the row counter (default +1)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			delta := 1
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid delta %q: %w", args[1], err)
				}
				delta = n
			}
			p, err := a.Gateway.AdvanceRow(ctx, args[0], delta)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: row %d\n", p.Title, p.CurrentRow)
			return nil
		}),
	}
	rowCmd.Flags().SetInterspersed(false)

	cmd.AddCommand(addCmd, updateCmd, rowCmd,
		c.listCmd(models.KindProject), c.showCmd(models.KindProject), c.deleteCmd(models.KindProject))
	return cmd
}

// =====================================================
// Materials
// =====================================================

type materialFlags struct {
	name, typ, brand, color, weight, unit, notes string
	quantity                                     float64
}

func (f *materialFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "material name")
	fl.StringVar(&f.typ, "type", "", "yarn, fabric, thread...")
	fl.StringVar(&f.brand, "brand", "", "brand")
	fl.StringVar(&f.color, "color", "", "colour")
	fl.StringVar(&f.weight, "weight", "", "weight class")
	fl.Float64Var(&f.quantity, "quantity", 0, "amount on hand")
	fl.StringVar(&f.unit, "unit", "", "unit of quantity")
	fl.StringVar(&f.notes, "notes", "", "free text")
}

func (f *materialFlags) input(cmd *cobra.Command, id string) gateway.MaterialInput {
	return gateway.MaterialInput{
		ID:       id,
		Name:     changed(cmd, "name", f.name),
		Type:     changed(cmd, "type", f.typ),
		Brand:    changed(cmd, "brand", f.brand),
		Color:    changed(cmd, "color", f.color),
		Weight:   changed(cmd, "weight", f.weight),
		Quantity: changed(cmd, "quantity", f.quantity),
		Unit:     changed(cmd, "unit", f.unit),
		Notes:    changed(cmd, "notes", f.notes),
	}
}

func (c *cli) materialCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "material", Short: "Manage the material stash", GroupID: "records"}

	var add materialFlags
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a material",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			m, err := a.Gateway.SaveMaterial(ctx, add.input(cmd, ""))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		}),
	}
	add.register(addCmd)
	_ = addCmd.MarkFlagRequired("name")

	var upd materialFlags
	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change material fields",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			m, err := a.Gateway.SaveMaterial(ctx, upd.input(cmd, args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		}),
	}
	upd.register(updateCmd)

	cmd.AddCommand(addCmd, updateCmd,
		c.listCmd(models.KindMaterial), c.showCmd(models.KindMaterial), c.deleteCmd(models.KindMaterial))
	return cmd
}

// =====================================================
// Sessions, notes and photos
// =====================================================

func (c *cli) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Log working sessions", GroupID: "records"}

	var (
		project  string
		rows     int
		duration time.Duration
		notes    string
	)
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Record a finished session and add it to the project totals",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			end := time.Now()
			in := gateway.SessionInput{
				ProjectID:       &project,
				StartedAt:       gateway.Ptr(end.Add(-duration).UnixMilli()),
				EndedAt:         gateway.Ptr(end.UnixMilli()),
				DurationSeconds: gateway.Ptr(int64(duration.Seconds())),
				RowsCompleted:   &rows,
				Notes:           changed(cmd, "notes", notes),
			}
			s, p, err := a.Gateway.LogSession(ctx, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{"session": s, "project": p})
		}),
	}
	fl := logCmd.Flags()
	fl.StringVar(&project, "project", "", "project id")
	fl.IntVar(&rows, "rows", 0, "rows completed")
	fl.DurationVar(&duration, "duration", 0, "time spent, e.g. 45m")
	fl.StringVar(&notes, "notes", "", "free text")
	_ = logCmd.MarkFlagRequired("project")

	cmd.AddCommand(logCmd, c.listCmd(models.KindSession), c.deleteCmd(models.KindSession))
	return cmd
}

func (c *cli) noteCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "note", Short: "Project notes", GroupID: "records"}

	var project, content string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Attach a note to a project",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			n, err := a.Gateway.SaveNote(ctx, gateway.NoteInput{ProjectID: &project, Content: &content})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), n)
		}),
	}
	addCmd.Flags().StringVar(&project, "project", "", "project id")
	addCmd.Flags().StringVar(&content, "content", "", "note text")
	_ = addCmd.MarkFlagRequired("project")
	_ = addCmd.MarkFlagRequired("content")

	cmd.AddCommand(addCmd, c.listCmd(models.KindNote), c.deleteCmd(models.KindNote))
	return cmd
}

func (c *cli) photoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "photo", Short: "Project photos", GroupID: "records"}

	var project, caption string
	addCmd := &cobra.Command{
		Use:   "add <image-file>",
		Short: "Attach a photo to a project; it is uploaded on the next sync",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := a.Gateway.SavePhoto(ctx, gateway.PhotoInput{
				ProjectID: &project,
				Caption:   changed(cmd, "caption", caption),
			}, payload)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		}),
	}
	addCmd.Flags().StringVar(&project, "project", "", "project id")
	addCmd.Flags().StringVar(&caption, "caption", "", "caption")
	_ = addCmd.MarkFlagRequired("project")

	cmd.AddCommand(addCmd, c.listCmd(models.KindPhoto), c.deleteCmd(models.KindPhoto))
	return cmd
}

// =====================================================
// Categories
// =====================================================

func (c *cli) categoryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "category", Short: "Project categories", GroupID: "records"}

	var label, color string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a local category",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, cmd *cobra.Command, _ []string) error {
			cat, err := a.Gateway.SaveCategory(ctx, gateway.CategoryInput{
				Label: &label,
				Color: changed(cmd, "color", color),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cat)
		}),
	}
	addCmd.Flags().StringVar(&label, "label", "", "category label")
	addCmd.Flags().StringVar(&color, "color", "", "display colour")
	_ = addCmd.MarkFlagRequired("label")

	cmd.AddCommand(addCmd, c.listCmd(models.KindCategory), c.deleteCmd(models.KindCategory))
	return cmd
}
