// Package logs reads the JSON log file written by ledgermark.
//
// Tail reads the last N lines or everything after a byte offset, optionally
// waiting for new lines to arrive. ParseEntry decodes one JSON record so the
// CLI can filter by session, component, or level and render it compactly.
// Callers supply context deadlines so follow-mode polling stops cleanly when
// the CLI exits.
package logs
