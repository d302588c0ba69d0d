package logs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"ledgermark/internal/logging"
)

// Entry is one decoded JSON log record.
type Entry struct {
	Time      time.Time
	Level     string
	Message   string
	Component string
	SessionID string
	Stage     string
	EventType string
	// Attrs holds every remaining field.
	Attrs map[string]any
}

// ParseEntry decodes a JSON log line. Lines that are not JSON objects are
// reported as not ok.
func ParseEntry(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Entry{}, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, false
	}
	entry := Entry{
		Level:     strings.ToLower(take(raw, "level")),
		Message:   take(raw, "msg"),
		Component: take(raw, logging.FieldComponent),
		SessionID: take(raw, logging.FieldSessionID),
		Stage:     take(raw, logging.FieldStage),
		EventType: take(raw, logging.FieldEventType),
		Attrs:     raw,
	}
	if ts := take(raw, "ts"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			entry.Time = parsed
		}
	}
	return entry, true
}

func take(raw map[string]any, key string) string {
	value, ok := raw[key]
	if !ok {
		return ""
	}
	delete(raw, key)
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// Filter selects entries. Empty fields match everything.
type Filter struct {
	SessionID string
	Component string
	MinLevel  string
}

// Match reports whether entry passes the filter. A session filter matches
// id prefixes so short ids from the session table work.
func (f Filter) Match(entry Entry) bool {
	if f.SessionID != "" && !strings.HasPrefix(entry.SessionID, strings.ToLower(f.SessionID)) {
		return false
	}
	if f.Component != "" && !strings.EqualFold(entry.Component, f.Component) {
		return false
	}
	if f.MinLevel != "" && levelRank(entry.Level) < levelRank(f.MinLevel) {
		return false
	}
	return true
}

func levelRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return 0
	case "warn", "warning":
		return 2
	case "error":
		return 3
	default:
		return 1
	}
}

// Summary renders the entry's remaining attributes as sorted key=value pairs.
func (e Entry) Summary() string {
	if len(e.Attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Attrs))
	for key := range e.Attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, e.Attrs[key]))
	}
	return strings.Join(parts, " ")
}
