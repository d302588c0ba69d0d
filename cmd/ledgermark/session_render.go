package main

import (
	"fmt"
	"io"
	"strings"

	"ledgermark/internal/api"
	"ledgermark/internal/pipeline"
)

func renderSession(out io.Writer, view api.SessionView, colorize bool) {
	for _, line := range sessionLines(view, colorize) {
		fmt.Fprintln(out, line)
	}
}

func sessionLines(view api.SessionView, colorize bool) []string {
	lines := renderSectionHeader("Session "+view.ID, colorize)
	lines = append(lines,
		fmt.Sprintf("%sFile:        %s (%s)", statusIndent, view.Filename, fallback(view.MediaType, "unknown type")),
		fmt.Sprintf("%sFingerprint: %s", statusIndent, fallback(view.Fingerprint, "-")),
		fmt.Sprintf("%sState:       %s (stage %s)", statusIndent, pipeline.VariantLabel(view.Variant), view.Stage),
	)
	switch {
	case view.NextStep != "":
		if step, ok := pipeline.ParseStep(view.NextStep); ok {
			lines = append(lines, fmt.Sprintf("%sNext:        %s", statusIndent, step.Label()))
		}
	case view.Terminal:
		lines = append(lines, fmt.Sprintf("%sNext:        none (terminal)", statusIndent))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Stages", colorize)...)
	for _, step := range view.Steps {
		message := step.Message
		if step.Attempts > 1 {
			message = strings.TrimSpace(fmt.Sprintf("%s (attempt %d)", message, step.Attempts))
		}
		if message == "" {
			message = step.Status
		}
		kind := stepStatusKind(pipeline.StepStatus(step.Status))
		lines = append(lines, renderStatusLine(step.Label, kind, message, colorize))
	}

	if record := recordLines(view); len(record) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Record", colorize)...)
		lines = append(lines, record...)
	}

	if failure := view.LastError; failure != nil {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Last Error", colorize)...)
		lines = append(lines, renderStatusLine(failure.Step.Label(), statusError, failure.Message, colorize))
		lines = append(lines,
			fmt.Sprintf("%sKind:        %s", statusIndent, failure.Kind),
			fmt.Sprintf("%sRetryable:   %s", statusIndent, yesNo(failure.Retryable)),
		)
		if failure.SideEffectPossible {
			lines = append(lines, renderStatusLine("Side effect", statusWarn,
				"the external service may have completed this step; check before retrying", colorize))
		}
	}
	return lines
}

func recordLines(view api.SessionView) []string {
	var lines []string
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			lines = append(lines, fmt.Sprintf("%s%-12s %s", statusIndent, label+":", value))
		}
	}
	switch view.Variant {
	case "already_registered":
		if record, ok := pipeline.RecordOf(view.Snapshot.State); ok {
			add("Owner", record.Owner)
			add("CID", record.CID)
			if !record.Timestamp.IsZero() {
				add("Registered", record.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
			}
		}
		return lines
	}
	add("CID", view.CID)
	add("Gateway", view.GatewayURL)
	if record, ok := pipeline.RecordOf(view.Snapshot.State); ok {
		add("Owner", record.Owner)
		add("Tx", record.TxHash)
		if record.BlockNumber > 0 {
			add("Block", fmt.Sprintf("%d", record.BlockNumber))
		}
		add("Content ID", record.ContentID)
		add("Strength", fmt.Sprintf("%d", record.Strength))
	}
	return lines
}

func renderSessionTable(views []api.SessionView) string {
	rows := make([][]string, 0, len(views))
	for _, view := range views {
		next := view.NextStep
		if next == "" {
			next = "-"
		}
		rows = append(rows, []string{
			shortID(view.ID),
			truncate(view.Filename, 32),
			pipeline.VariantLabel(view.Variant),
			next,
			truncate(fallback(view.CID, "-"), 20),
			fallback(view.UpdatedAt, "-"),
		})
	}
	return renderTable(
		[]string{"ID", "File", "State", "Next", "CID", "Updated"},
		rows,
		nil,
	)
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
