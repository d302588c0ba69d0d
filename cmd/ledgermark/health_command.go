package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ledgermark/internal/api"
	"ledgermark/internal/preflight"
	"ledgermark/internal/stage"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that every pipeline component is reachable and configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, runtimeOptions{noStore: true}, func(rt *runtime) error {
				resp := api.NewHealthResponse(
					stage.CheckAll(cmd.Context(), rt.checkers...),
					preflight.RunAll(cmd.Context(), rt.cfg)...,
				)
				if jsonOut {
					if err := writeJSON(cmd, resp); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					colorize := shouldColorize(out)
					for _, line := range healthLines("Components", resp.Components, colorize) {
						fmt.Fprintln(out, line)
					}
					if len(resp.Paths) > 0 {
						fmt.Fprintln(out)
						for _, line := range healthLines("Paths", resp.Paths, colorize) {
							fmt.Fprintln(out, line)
						}
					}
				}
				if !resp.Ready {
					return errors.New("one or more components or paths are not ready")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func healthLines(title string, records []stage.Health, colorize bool) []string {
	lines := renderSectionHeader(title, colorize)
	for _, record := range records {
		if record.Ready {
			lines = append(lines, renderStatusLine(record.Name, statusOK, record.Detail, colorize))
			continue
		}
		lines = append(lines, renderStatusLine(record.Name, statusError, record.Detail, colorize))
	}
	return lines
}
