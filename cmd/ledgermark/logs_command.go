package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ledgermark/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines     int
		follow    bool
		raw       bool
		sessionID string
		component string
		level     string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent log records, optionally following new ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.LogFilePath()
			out := cmd.OutOrStdout()
			filter := logs.Filter{SessionID: strings.TrimSpace(sessionID), Component: strings.TrimSpace(component), MinLevel: level}
			emit := func(line string) {
				if formatted, ok := formatLogLine(line, filter, raw, shouldColorize(out)); ok {
					fmt.Fprintln(out, formatted)
				}
			}

			result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: lines})
			if err != nil {
				return err
			}
			for _, line := range result.Lines {
				emit(line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, result.Offset, emit)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new records until interrupted")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the JSON records unchanged")
	cmd.Flags().StringVar(&sessionID, "session", "", "Only records for this session id or prefix")
	cmd.Flags().StringVar(&component, "component", "", "Only records from this component")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug, info, warn, error)")
	return cmd
}

// formatLogLine filters and renders one log line. Lines that are not JSON
// records pass through unless a filter is set.
func formatLogLine(line string, filter logs.Filter, raw, colorize bool) (string, bool) {
	entry, ok := logs.ParseEntry(line)
	if !ok {
		return line, filter == (logs.Filter{})
	}
	if !filter.Match(entry) {
		return "", false
	}
	if raw {
		return line, true
	}

	var b strings.Builder
	if !entry.Time.IsZero() {
		b.WriteString(entry.Time.Local().Format("15:04:05"))
		b.WriteByte(' ')
	}
	b.WriteString(levelTag(entry.Level, colorize))
	if entry.Component != "" {
		fmt.Fprintf(&b, " [%s]", entry.Component)
	}
	if entry.SessionID != "" {
		fmt.Fprintf(&b, " %s", shortID(entry.SessionID))
	}
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	if summary := entry.Summary(); summary != "" {
		b.WriteString("  ")
		b.WriteString(paint(color.Faint, summary, colorize))
	}
	return b.String(), true
}

func levelTag(level string, colorize bool) string {
	tag := strings.ToUpper(fallback(level, "info"))
	switch tag {
	case "ERROR":
		return paint(color.FgRed, tag, colorize)
	case "WARN", "WARNING":
		return paint(color.FgYellow, "WARN", colorize)
	case "DEBUG":
		return paint(color.Faint, tag, colorize)
	default:
		return paint(color.FgCyan, tag, colorize)
	}
}
