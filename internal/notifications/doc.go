// Package notifications delivers pipeline outcomes via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when notifications are disabled.
// Events cover terminal outcomes and stage failures; delivery failures are
// returned to the caller, which logs them without touching pipeline state.
package notifications
