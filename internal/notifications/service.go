package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flowscribe/internal/config"
)

const userAgent = "Flowscribe-Go/0.1.0"

// Event names a notification kind.
type Event string

const (
	EventStorageQuotaExceeded Event = "storage_quota_exceeded"
	EventFlushFailed          Event = "flush_failed"
	EventSessionsPruned       Event = "sessions_pruned"
	EventDaemonStarted        Event = "daemon_started"
	EventError                Event = "error"
	EventTest                 Event = "test"
)

// Payload carries event details. Keys are event specific.
type Payload map[string]any

// Service publishes events to the operator.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		quota:    cfg.Notifications.Quota,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	quota    bool
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
	case EventStorageQuotaExceeded:
		if !n.quota {
			return message{}, false
		}
		body := "💾 Session storage is full; recent edits were not saved"
		if used, quota := payload.int64("usedBytes"), payload.int64("quotaBytes"); quota > 0 {
			body = fmt.Sprintf("%s (%s of %s used)", body, humanBytes(used), humanBytes(quota))
		}
		return message{
			title:    "Flowscribe - Storage Full",
			body:     body,
			tags:     []string{"flowscribe", "storage", "quota"},
			priority: "high",
		}, true
	case EventFlushFailed:
		body := "❌ Session flush failed"
		if errText := payload.string("error"); errText != "" {
			body += ": " + errText
		}
		return message{
			title:    "Flowscribe - Flush Failed",
			body:     body,
			tags:     []string{"flowscribe", "storage", "error"},
			priority: "high",
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := payload.string("context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if errText := payload.string("error"); errText != "" {
			builder.WriteString(errText)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "Flowscribe - Error",
			body:     builder.String(),
			tags:     []string{"flowscribe", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Flowscribe - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"flowscribe", "test"},
			priority: "low",
		}, true
	default:
		// Routine lifecycle events are logged, not pushed.
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
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

func (p Payload) string(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (p Payload) int64(key string) int64 {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
