package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/lockbox/internal/logic"
)

func TestFormatPayloadExactJSON(t *testing.T) {
	event := logic.Event{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Type:      logic.EventLocked,
		Mode:      logic.ModeFortress,
		State:     logic.StateLockedTimed,
		Duration:  90 * time.Minute,
		Progress:  4,
		Session:   "abc",
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"lockbox":{"timestamp":"2026-02-02T22:18:12Z","event":"LOCKED","mode":"FORTRESS","state":"LOCKED_TIMED","session":"abc","duration_seconds":5400,"progress":4,"child_lock":false}}`
	if string(payload) != want {
		t.Errorf("payload mismatch\ngot:  %s\nwant: %s", payload, want)
	}
}

func TestFormatPayloadEventTypes(t *testing.T) {
	tests := []struct {
		event      logic.Event
		wantEvent  string
		wantReason string
		wantEarned int
	}{
		{logic.Event{Type: logic.EventUnlocked, Reason: logic.ReasonDeadline}, "UNLOCKED", "DEADLINE", 0},
		{logic.Event{Type: logic.EventUnlocked, Reason: logic.ReasonEmergency}, "UNLOCKED", "EMERGENCY", 0},
		{logic.Event{Type: logic.EventCheckin, Earned: 1, Progress: 7}, "CHECKIN", "", 1},
		{logic.Event{Type: logic.EventReward, Progress: 0}, "REWARD", "", 0},
		{logic.Event{Type: logic.EventExtended, Duration: time.Hour}, "EXTENDED", "", 0},
		{logic.Event{Type: logic.EventFactoryReset}, "FACTORY_RESET", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.wantEvent+tt.wantReason, func(t *testing.T) {
			payload, err := FormatPayload(tt.event)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var parsed Payload
			if err := json.Unmarshal(payload, &parsed); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if parsed.Lockbox.Event != tt.wantEvent {
				t.Errorf("expected event %s, got %s", tt.wantEvent, parsed.Lockbox.Event)
			}
			if parsed.Lockbox.Reason != tt.wantReason {
				t.Errorf("expected reason %q, got %q", tt.wantReason, parsed.Lockbox.Reason)
			}
			if parsed.Lockbox.Earned != tt.wantEarned {
				t.Errorf("expected earned %d, got %d", tt.wantEarned, parsed.Lockbox.Earned)
			}
		})
	}
}

func TestFormatPayloadTruncatesDuration(t *testing.T) {
	payload, err := FormatPayload(logic.Event{Type: logic.EventUnlocked, Duration: 61*time.Second + 900*time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Lockbox.DurationSeconds != 61 {
		t.Errorf("expected 61, got %d", parsed.Lockbox.DurationSeconds)
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	event := logic.Event{
		Timestamp: time.Date(2026, 2, 3, 0, 30, 0, 0, loc),
		Type:      logic.EventLocked,
	}
	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Lockbox.Timestamp != "2026-02-02T22:30:00Z" {
		t.Errorf("expected UTC timestamp, got %s", parsed.Lockbox.Timestamp)
	}
}

func TestTopics(t *testing.T) {
	if TopicEvents != "lockbox/events" {
		t.Errorf("unexpected events topic: %s", TopicEvents)
	}
	if TopicSystem != "lockbox/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"system":{"timestamp":"2026-02-02T22:18:12Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != want {
		t.Errorf("payload mismatch\ngot:  %s\nwant: %s", payload, want)
	}
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Event:     "OFFLINE",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["system"]["reason"]; ok {
		t.Error("reason should be omitted when empty")
	}
}

func TestFormatSystemPayloadRawPassthrough(t *testing.T) {
	raw := []byte(`{"status":{"event":"HEARTBEAT"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("expected raw payload, got %s", payload)
	}
}

func TestFakePublisherRecordsEvents(t *testing.T) {
	pub := NewFakePublisher()
	events := []logic.Event{
		{Type: logic.EventLocked, Mode: logic.ModeNormal},
		{Type: logic.EventExtended, Duration: 2 * time.Hour},
		{Type: logic.EventUnlocked, Reason: logic.ReasonPassword},
	}
	for _, e := range events {
		if err := pub.Publish(e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got := pub.Events()
	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	for i := range events {
		if got[i].Type != events[i].Type {
			t.Errorf("event %d: expected %s, got %s", i, events[i].Type, got[i].Type)
		}
	}
	if len(pub.Payloads()) != len(events) {
		t.Errorf("expected %d payloads, got %d", len(events), len(pub.Payloads()))
	}
}

func TestFakePublisherErrors(t *testing.T) {
	pub := NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	pub.PublishSystemError = errors.New("broker down")

	if err := pub.Publish(logic.Event{Type: logic.EventLocked}); err == nil {
		t.Error("expected publish error")
	}
	if err := pub.PublishSystem(SystemEvent{Event: "STARTUP"}); err == nil {
		t.Error("expected publish system error")
	}
	if len(pub.Events()) != 0 || len(pub.SystemEvents()) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}

func TestFakePublisherSystemEventsAndRetained(t *testing.T) {
	pub := NewFakePublisher()
	if err := pub.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := pub.PublishSystem(SystemEvent{Event: "SHUTDOWN", Reason: "SIGINT"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := pub.SystemEvents()
	if len(got) != 2 {
		t.Fatalf("expected 2 system events, got %d", len(got))
	}
	if !got[0].Retained || got[1].Retained {
		t.Error("retained flag not preserved")
	}
	if got[1].Reason != "SIGINT" {
		t.Errorf("expected SIGINT, got %s", got[1].Reason)
	}
}

func TestFakePublisherConnectionAndClose(t *testing.T) {
	pub := NewFakePublisher()
	var _ ConnectionStatus = pub
	var _ Publisher = pub

	if !pub.IsConnected() {
		t.Error("new fake should be connected")
	}
	pub.SetConnected(false)
	if pub.IsConnected() {
		t.Error("expected disconnected")
	}
	if pub.Closed() {
		t.Error("should not be closed yet")
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pub.Closed() {
		t.Error("expected closed")
	}
}

func TestNewRealPublisherRequiresBroker(t *testing.T) {
	if _, err := NewRealPublisher(Config{}); err == nil {
		t.Error("expected error for empty broker")
	}
}

func TestDiscard(t *testing.T) {
	var d Discard
	var _ Publisher = d
	if err := d.Publish(logic.Event{Type: logic.EventLocked}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if d.IsConnected() {
		t.Error("Discard is never connected")
	}
}
