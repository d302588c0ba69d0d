package logging

import (
	"log/slog"
	"strings"
)

const redactedValue = "[redacted]"

// sensitiveKeys are matched against the last segment of an attribute key.
var sensitiveKeys = []string{"api_key", "api_secret", "secret", "jwt", "token", "authorization", "password"}

func sensitiveKey(key string) bool {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	key = strings.ToLower(key)
	for _, candidate := range sensitiveKeys {
		if key == candidate || strings.HasSuffix(key, "_"+candidate) {
			return true
		}
	}
	return false
}

// redact replaces the value of credential attributes. Empty values are kept
// so a missing credential stays visible.
func redact(key string, value slog.Value) slog.Value {
	if !sensitiveKey(key) {
		return value
	}
	if value.Kind() == slog.KindString && value.String() == "" {
		return value
	}
	return slog.StringValue(redactedValue)
}
