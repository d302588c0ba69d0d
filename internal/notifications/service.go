package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ledgermark/internal/config"
)

const userAgent = "ledgermark/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventRegistered        Event = "registered"
	EventAlreadyRegistered Event = "already_registered"
	EventStageFailed       Event = "stage_failed"
	EventTest              Event = "test"
)

// Payload carries event fields by name.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		registered: cfg.Notifications.Registered,
		failures:   cfg.Notifications.Failures,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	registered bool
	failures   bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventRegistered:
		if !n.registered {
			return message{}, false
		}
		body := fmt.Sprintf("✅ Registered: %s\nCID: %s", payload.text("filename"), payload.text("cid"))
		if tx := payload.text("txHash"); tx != "" {
			body += "\nTx: " + tx
		}
		return message{
			title: "ledgermark - Registered",
			body:  body,
			tags:  []string{"ledgermark", "register", "completed"},
		}, true
	case EventAlreadyRegistered:
		if !n.registered {
			return message{}, false
		}
		return message{
			title: "ledgermark - Already Registered",
			body:  fmt.Sprintf("ℹ️ %s is already registered to %s", payload.text("filename"), payload.text("owner")),
			tags:  []string{"ledgermark", "dedup", "duplicate"},
		}, true
	case EventStageFailed:
		if !n.failures {
			return message{}, false
		}
		var builder strings.Builder
		builder.WriteString("❌ ")
		if step := payload.text("stage"); step != "" {
			builder.WriteString(step)
			builder.WriteString(" failed")
		} else {
			builder.WriteString("Stage failed")
		}
		if name := payload.text("filename"); name != "" {
			builder.WriteString(" for ")
			builder.WriteString(name)
		}
		builder.WriteString(": ")
		if msg := payload.text("error"); msg != "" {
			builder.WriteString(msg)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "ledgermark - Error",
			body:     builder.String(),
			tags:     []string{"ledgermark", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "ledgermark - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"ledgermark", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) text(key string) string {
	value, ok := p[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
