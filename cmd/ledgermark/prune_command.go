package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ledgermark/internal/sessions"
	"ledgermark/internal/staging"
)

func newSessionPruneCommand(ctx *commandContext) *cobra.Command {
	var (
		minAge time.Duration
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove staging directories that no session owns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *sessions.Store) error {
				list, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				active := make(map[string]struct{}, len(list))
				for _, sess := range list {
					active[sess.ID] = struct{}{}
				}

				out := cmd.OutOrStdout()
				if dryRun {
					dirs, err := staging.ListDirectories(cfg.Paths.StagingDir)
					if err != nil {
						return err
					}
					orphans := staging.Orphaned(dirs, active, minAge, time.Now())
					if len(orphans) == 0 {
						fmt.Fprintln(out, "No orphaned staging directories")
						return nil
					}
					rows := make([][]string, 0, len(orphans))
					for _, dir := range orphans {
						rows = append(rows, []string{shortID(dir.SessionID), formatBytes(dir.Size), dir.ModTime.Local().Format("2006-01-02 15:04")})
					}
					fmt.Fprintln(out, renderTable(
						[]string{"Session", "Size", "Modified"},
						rows,
						[]columnAlignment{alignLeft, alignRight, alignLeft},
					))
					return nil
				}

				result := staging.CleanOrphaned(cmd.Context(), cfg.Paths.StagingDir, active, minAge, ctx.log())
				for _, path := range result.Removed {
					fmt.Fprintf(out, "Removed %s\n", path)
				}
				for _, failure := range result.Errors {
					fmt.Fprintf(out, "%s: %v\n", failure.Path, failure.Error)
				}
				if len(result.Removed) == 0 && len(result.Errors) == 0 {
					fmt.Fprintln(out, "No orphaned staging directories")
				}
				if len(result.Errors) > 0 {
					return fmt.Errorf("could not remove %d staging path(s)", len(result.Errors))
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&minAge, "min-age", time.Hour, "Keep directories modified more recently than this")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List orphaned directories without removing them")
	return cmd
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
