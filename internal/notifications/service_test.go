package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cliparr/internal/config"
	"cliparr/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTrimCompleted, notifications.Payload{"file": "Example"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectPriority string
		expectTags     string
	}{
		{
			name:  "extraction completed",
			event: notifications.EventExtractionCompleted,
			payload: notifications.Payload{
				"file": "S01E01.wav",
			},
			expectTitle:   "Cliparr - Audio Extracted",
			expectMessage: "🎧 Extracted audio: S01E01.wav",
			expectTags:    "extract",
		},
		{
			name:  "detection completed",
			event: notifications.EventDetectionCompleted,
			payload: notifications.Payload{
				"show":       "Example Show",
				"season":     1,
				"confidence": 0.92,
				"approval":   "auto_approved",
			},
			expectTitle:   "Cliparr - Detection Complete",
			expectMessage: "🧩 Detected segments for Example Show season 1 (confidence 0.92)\nApproval: auto_approved",
			expectTags:    "detect",
		},
		{
			name:  "trim completed",
			event: notifications.EventTrimCompleted,
			payload: notifications.Payload{
				"file":   "S01E01.mkv",
				"output": "/output/Example Show/S01E01.mkv",
			},
			expectTitle:   "Cliparr - Trim Complete",
			expectMessage: "✂️ Trimmed: S01E01.mkv\nOutput: /output/Example Show/S01E01.mkv",
			expectTags:    "trim",
		},
		{
			name:  "error",
			event: notifications.EventError,
			payload: notifications.Payload{
				"context": "extractor",
				"error":   "ffmpeg exited with status 1",
			},
			expectTitle:    "Cliparr - Error",
			expectMessage:  "❌ Error with extractor: ffmpeg exited with status 1",
			expectPriority: "high",
			expectTags:     "error",
		},
		{
			name:  "resource alert",
			event: notifications.EventResourceAlert,
			payload: notifications.Payload{
				"detail": "insufficient scratch disk space",
			},
			expectTitle:    "Cliparr - Resource Exhaustion",
			expectMessage:  "🛑 Resource exhaustion: insufficient scratch disk space",
			expectPriority: "urgent",
			expectTags:     "resources",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.NtfyTopic = server.URL
			cfg.NtfyRequestTimeout = 5
			cfg.NotifyExtraction = true

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if strings.TrimSpace(captured.tags) != strings.TrimSpace(tc.expectTags) {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresSuppressedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	suppressed := []notifications.Event{
		notifications.EventJobDeleted,
	}

	for _, event := range suppressed {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"value": "ignored"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestQueueNotificationsRespectMinimumCount(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.NtfyTopic = server.URL
	cfg.NotifyQueueMinItems = 2

	svc := notifications.NewService(&cfg)
	// Should suppress because below threshold.
	if err := svc.Publish(context.Background(), notifications.EventQueueStarted, notifications.Payload{"count": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Should send because count meets threshold.
	if err := svc.Publish(context.Background(), notifications.EventQueueStarted, notifications.Payload{"count": 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 notification sent, got %d", calls)
	}
}
