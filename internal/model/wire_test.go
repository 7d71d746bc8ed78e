package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelope_BroadcastDecode(t *testing.T) {
	raw := `{
		"type": "broadcast",
		"timestamp": "2026-01-15T12:00:00Z",
		"data": {
			"event": "TASKS_UPDATED",
			"channelKey": "/repos/alpha",
			"timestamp": "2026-01-15T12:00:00Z",
			"payload": {"tasks": [{"id": 1, "title": "Design schema", "status": "pending"}]}
		}
	}`

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if env.Kind != KindBroadcast {
		t.Errorf("Kind = %q, want broadcast", env.Kind)
	}
	if env.Data == nil {
		t.Fatal("Data is nil")
	}
	if env.Data.Event != EventTasksUpdated {
		t.Errorf("Event = %q, want TASKS_UPDATED", env.Data.Event)
	}
	if env.Data.ChannelKey != "/repos/alpha" {
		t.Errorf("ChannelKey = %q, want /repos/alpha", env.Data.ChannelKey)
	}

	payload, err := env.Data.DecodeTasksPayload()
	if err != nil {
		t.Fatalf("DecodeTasksPayload failed: %v", err)
	}
	if len(payload.Tasks) != 1 || payload.Tasks[0].ID != 1 {
		t.Errorf("payload tasks = %+v, want one task with id 1", payload.Tasks)
	}
}

func TestDecodeTasksPayload_WrongEvent(t *testing.T) {
	ev := ChangeEvent{Event: EventRepositoryAdded}
	if _, err := ev.DecodeTasksPayload(); err == nil {
		t.Error("expected error decoding tasks payload of repository event")
	}
}

func TestDecodeRepositoryPayload(t *testing.T) {
	ev := ChangeEvent{
		Event:   EventRepositoryAdded,
		Payload: json.RawMessage(`{"path": "/repos/beta", "name": "beta"}`),
	}
	p, err := ev.DecodeRepositoryPayload()
	if err != nil {
		t.Fatalf("DecodeRepositoryPayload failed: %v", err)
	}
	if p.Path != "/repos/beta" {
		t.Errorf("Path = %q, want /repos/beta", p.Path)
	}
}

func TestPingFrame(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(NewPingFrame(now))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	want := `{"type":"ping","timestamp":"2026-01-15T12:00:00Z"}`
	if string(data) != want {
		t.Errorf("ping frame = %s, want %s", data, want)
	}
}

func TestRefreshRequestFrame(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	frame := NewRefreshRequestFrame("/repos/alpha", now)

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if parsed["type"] != "request_refresh" {
		t.Errorf("type = %q, want request_refresh", parsed["type"])
	}
	if parsed["channelKey"] != "/repos/alpha" {
		t.Errorf("channelKey = %q, want /repos/alpha", parsed["channelKey"])
	}
}

func TestTaskChange_Predicates(t *testing.T) {
	if !(TaskChange{}).IsZero() {
		t.Error("empty change should be zero")
	}

	status := StatusDone
	if (TaskChange{Status: &status}).IsZero() {
		t.Error("status change should not be zero")
	}
	if !(TaskChange{Status: &status}).StatusOnly() {
		t.Error("status-only change not detected")
	}

	title := "x"
	if (TaskChange{Status: &status, Title: &title}).StatusOnly() {
		t.Error("mixed change reported as status-only")
	}
}
