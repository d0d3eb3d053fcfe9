package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"cliparr/internal/config"
)

const userAgent = "Cliparr-Go/0.1.0"

// Event identifies a notification type understood by the notifier implementation.
type Event string

const (
	EventExtractionCompleted   Event = "extraction_completed"
	EventFingerprintCompleted  Event = "fingerprint_completed"
	EventDetectionCompleted    Event = "detection_completed"
	EventTrimCompleted         Event = "trim_completed"
	EventJobDeleted            Event = "job_deleted"
	EventQueueStarted          Event = "queue_started"
	EventQueueCompleted        Event = "queue_completed"
	EventError                 Event = "error"
	EventResourceAlert         Event = "resource_alert"
	EventTestNotification      Event = "test"
)

// Payload carries contextual fields associated with a notification event.
type Payload map[string]any

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.NtfyRequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	host, _ := os.Hostname()
	return &ntfyService{
		endpoint: topic,
		client:   client,
		cfg:      buildNotifyConfig(cfg),
		host:     strings.TrimSpace(host),
		lastSent: make(map[string]time.Time),
	}
}

type payload struct {
	title    string
	message  string
	priority string
	tags     []string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	cfg      notifyConfig
	host     string

	mu       sync.Mutex
	lastSent map[string]time.Time
}

type notifyConfig struct {
	notifyExtraction     bool
	notifyFingerprinting bool
	notifyDetection      bool
	notifyTrim           bool
	notifyQueue          bool
	notifyErrors         bool
	queueMinItems        int
	dedupeWindow         time.Duration
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	switch event {
	case EventExtractionCompleted:
		if !n.cfg.notifyExtraction {
			return nil
		}
		file := strings.TrimSpace(payloadString(data, "file"))
		return n.sendOnce(ctx, event, data, payload{
			title:   "Cliparr - Audio Extracted",
			message: fmt.Sprintf("🎧 Extracted audio: %s", file),
			tags:    []string{"extract"},
		})
	case EventFingerprintCompleted:
		if !n.cfg.notifyFingerprinting {
			return nil
		}
		file := strings.TrimSpace(payloadString(data, "file"))
		windows := payloadInt(data, "windows")
		return n.sendOnce(ctx, event, data, payload{
			title:   "Cliparr - Fingerprinted",
			message: fmt.Sprintf("🔊 Fingerprinted %s (%d windows)", file, windows),
			tags:    []string{"fingerprint"},
		})
	case EventDetectionCompleted:
		if !n.cfg.notifyDetection {
			return nil
		}
		show := strings.TrimSpace(payloadString(data, "show"))
		season := payloadInt(data, "season")
		confidence := payloadFloat(data, "confidence")
		approval := strings.TrimSpace(payloadString(data, "approval"))
		message := fmt.Sprintf("🧩 Detected segments for %s season %d (confidence %.2f)", show, season, confidence)
		if approval != "" {
			message = fmt.Sprintf("%s\nApproval: %s", message, approval)
		}
		return n.sendOnce(ctx, event, data, payload{
			title:   "Cliparr - Detection Complete",
			message: message,
			tags:    []string{"detect"},
		})
	case EventTrimCompleted:
		if !n.cfg.notifyTrim {
			return nil
		}
		file := strings.TrimSpace(payloadString(data, "file"))
		output := strings.TrimSpace(payloadString(data, "output"))
		message := fmt.Sprintf("✂️ Trimmed: %s", file)
		if output != "" {
			message = fmt.Sprintf("%s\nOutput: %s", message, output)
		}
		return n.sendOnce(ctx, event, data, payload{
			title:   "Cliparr - Trim Complete",
			message: message,
			tags:    []string{"trim"},
		})
	case EventJobDeleted:
		return nil
	case EventError:
		if !n.cfg.notifyErrors {
			return nil
		}
		contextLabel := strings.TrimSpace(payloadString(data, "context"))
		errVal := payloadError(data, "error")
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if contextLabel != "" {
			builder.WriteString(" with ")
			builder.WriteString(contextLabel)
		}
		builder.WriteString(": ")
		if errVal != "" {
			builder.WriteString(errVal)
		} else {
			builder.WriteString("unknown")
		}
		return n.sendOnce(ctx, event, data, payload{
			title:    "Cliparr - Error",
			message:  builder.String(),
			priority: "high",
			tags:     []string{"error"},
		})
	case EventResourceAlert:
		detail := strings.TrimSpace(payloadString(data, "detail"))
		return n.sendOnce(ctx, event, data, payload{
			title:    "Cliparr - Resource Exhaustion",
			message:  fmt.Sprintf("🛑 Resource exhaustion: %s", detail),
			priority: "urgent",
			tags:     []string{"resources"},
		})
	case EventTestNotification:
		return n.sendOnce(ctx, event, data, payload{
			title:    "Cliparr - Test",
			message:  "🧪 Notification system test",
			priority: "low",
			tags:     []string{"test"},
		})
	case EventQueueStarted:
		if !n.cfg.notifyQueue {
			return nil
		}
		count := payloadInt(data, "count")
		if count < n.cfg.queueMinItems {
			return nil
		}
		return n.sendOnce(ctx, event, data, payload{
			title:   "Cliparr - Queue Started",
			message: fmt.Sprintf("Jobs: %d\nHost: %s", count, n.host),
			tags:    []string{"queue"},
		})
	case EventQueueCompleted:
		if !n.cfg.notifyQueue {
			return nil
		}
		processed := payloadInt(data, "processed")
		failed := payloadInt(data, "failed")
		duration := payloadDuration(data, "duration")
		if processed+failed < n.cfg.queueMinItems {
			return nil
		}
		lines := []string{
			fmt.Sprintf("Completed: %d", processed),
			fmt.Sprintf("Failed: %d", failed),
		}
		if duration > 0 {
			lines = append(lines, fmt.Sprintf("Elapsed: %s", duration.Truncate(time.Second)))
		}
		return n.sendOnce(ctx, event, data, payload{
			title:   "Cliparr - Queue Completed",
			message: strings.Join(lines, "\n"),
			tags:    []string{"queue"},
		})
	default:
		return fmt.Errorf("unsupported notification event: %s", event)
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
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

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

func (n *ntfyService) sendOnce(ctx context.Context, event Event, data Payload, built payload) error {
	if n.isDuplicate(event, data) {
		return nil
	}
	return n.send(ctx, built)
}

func buildNotifyConfig(cfg *config.Config) notifyConfig {
	if cfg == nil {
		return notifyConfig{
			notifyDetection: true,
			notifyTrim:      true,
			notifyQueue:     true,
			notifyErrors:    true,
			queueMinItems:   2,
			dedupeWindow:    10 * time.Minute,
		}
	}
	window := time.Duration(cfg.NotifyDedupWindowSeconds) * time.Second
	if window < 0 {
		window = 0
	}
	return notifyConfig{
		notifyExtraction:     cfg.NotifyExtraction,
		notifyFingerprinting: cfg.NotifyFingerprinting,
		notifyDetection:      cfg.NotifyDetection,
		notifyTrim:           cfg.NotifyTrim,
		notifyQueue:          cfg.NotifyQueue,
		notifyErrors:         cfg.NotifyErrors,
		queueMinItems:        cfg.NotifyQueueMinItems,
		dedupeWindow:         window,
	}
}

func (n *ntfyService) isDuplicate(event Event, data Payload) bool {
	if n.cfg.dedupeWindow <= 0 {
		return false
	}
	key := dedupeKey(event, data)
	if key == "" {
		return false
	}
	now := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()
	if prev, ok := n.lastSent[key]; ok && now.Sub(prev) < n.cfg.dedupeWindow {
		return true
	}
	n.lastSent[key] = now
	return false
}

func dedupeKey(event Event, data Payload) string {
	labelFields := []string{"file", "show", "output", "context"}
	parts := []string{string(event)}
	for _, field := range labelFields {
		if val := strings.TrimSpace(payloadString(data, field)); val != "" {
			parts = append(parts, val)
			break
		}
	}
	switch event {
	case EventQueueStarted:
		if count := payloadInt(data, "count"); count > 0 {
			parts = append(parts, fmt.Sprintf("count=%d", count))
		}
	case EventQueueCompleted:
		processed := payloadInt(data, "processed")
		failed := payloadInt(data, "failed")
		if processed > 0 || failed > 0 {
			parts = append(parts, fmt.Sprintf("p=%d,f=%d", processed, failed))
		}
	}
	return strings.Join(parts, "|")
}

func payloadString(data Payload, key string) string {
	if data == nil {
		return ""
	}
	if value, ok := data[key]; ok && value != nil {
		switch typed := value.(type) {
		case string:
			return typed
		case fmt.Stringer:
			return typed.String()
		default:
			return fmt.Sprintf("%v", typed)
		}
	}
	return ""
}

func payloadError(data Payload, key string) string {
	if data == nil {
		return ""
	}
	if value, ok := data[key]; ok && value != nil {
		switch typed := value.(type) {
		case error:
			return strings.TrimSpace(typed.Error())
		case string:
			return strings.TrimSpace(typed)
		case fmt.Stringer:
			return strings.TrimSpace(typed.String())
		}
	}
	return ""
}

func payloadDuration(data Payload, key string) time.Duration {
	if data == nil {
		return 0
	}
	if value, ok := data[key]; ok && value != nil {
		switch typed := value.(type) {
		case time.Duration:
			return typed
		case int64:
			return time.Duration(typed)
		case int:
			return time.Duration(typed)
		}
	}
	return 0
}

func payloadInt(data Payload, key string) int {
	if data == nil {
		return 0
	}
	if value, ok := data[key]; ok && value != nil {
		switch typed := value.(type) {
		case int:
			return typed
		case int64:
			return int(typed)
		case float64:
			return int(typed)
		}
	}
	return 0
}

func payloadFloat(data Payload, key string) float64 {
	if data == nil {
		return 0
	}
	if value, ok := data[key]; ok && value != nil {
		switch typed := value.(type) {
		case float64:
			return typed
		case float32:
			return float64(typed)
		case int:
			return float64(typed)
		case int64:
			return float64(typed)
		}
	}
	return 0
}
