package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskmill/internal/state"
)

func TestWebhookSink_PostsEventJSON(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("failed to decode webhook body: %v", err)
		}
		received <- e
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	sink.Publish(Event{
		TaskID:    "task-a",
		Phase:     state.PhaseFailed,
		Level:     LevelError,
		Message:   "retries exhausted",
		Timestamp: time.Now(),
	})

	select {
	case e := <-received:
		if e.TaskID != "task-a" || e.Level != LevelError || e.Phase != state.PhaseFailed {
			t.Errorf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("webhook never received the event")
	}
}

func TestWebhookSink_FailureDoesNotPanic(t *testing.T) {
	// No listener on this address; Publish must swallow the error.
	sink := NewWebhookSink("http://127.0.0.1:1/unreachable")
	sink.Publish(Event{TaskID: "task-a", Level: LevelInfo, Message: "hello"})
}

func TestMultiSink_FansOut(t *testing.T) {
	var got []Event
	rec := sinkFunc(func(e Event) { got = append(got, e) })

	MultiSink{rec, rec}.Publish(Event{TaskID: "task-a"})
	if len(got) != 2 {
		t.Errorf("expected 2 deliveries, got %d", len(got))
	}
}

type sinkFunc func(Event)

func (f sinkFunc) Publish(e Event) { f(e) }
