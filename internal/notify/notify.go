// Package notify delivers task lifecycle notifications to operators.
// Delivery is fire-and-forget: sinks log their own failures and never block
// or fail orchestration.
package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"taskmill/internal/state"
)

// Level grades the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is one notification.
type Event struct {
	TaskID    string      `json:"task_id"`
	Phase     state.Phase `json:"phase"`
	Level     Level       `json:"level"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// Sink publishes notification events.
type Sink interface {
	Publish(event Event)
}

// LogSink writes notifications to the process log.
type LogSink struct{}

func (LogSink) Publish(e Event) {
	log.Printf("NOTIFY [%s] task=%s phase=%s: %s", e.Level, e.TaskID, e.Phase, e.Message)
}

// WebhookSink POSTs notifications as JSON to a fixed URL. Failures are
// logged and swallowed.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

// NewWebhookSink creates a webhook sink with a short request timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Publish(e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		log.Printf("WARNING: failed to encode notification: %v", err)
		return
	}

	resp, err := s.Client.Post(s.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("WARNING: webhook notification failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("WARNING: webhook notification returned status %d", resp.StatusCode)
	}
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}
