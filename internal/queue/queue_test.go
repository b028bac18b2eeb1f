package queue

import (
	"encoding/json"
	"testing"
)

func TestTaskMarshalRoundTrip(t *testing.T) {
	t1 := Task{
		EventID:      42,
		TraceHeaders: map[string]string{"traceparent": "00-abc-def-01"},
	}

	b, err := json.Marshal(t1)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var t2 Task
	if err := json.Unmarshal(b, &t2); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if t2.EventID != t1.EventID {
		t.Errorf("EventID = %d, want %d", t2.EventID, t1.EventID)
	}
	if t2.TraceHeaders["traceparent"] != t1.TraceHeaders["traceparent"] {
		t.Errorf("TraceHeaders mismatch: %v", t2.TraceHeaders)
	}
}

func TestTaskMarshalOmitsEmptyTraceHeaders(t *testing.T) {
	t1 := Task{EventID: 7}
	b, err := json.Marshal(t1)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["trace_headers"]; ok {
		t.Errorf("expected trace_headers to be omitted, got %v", m["trace_headers"])
	}
}

// TODO: NewQueue/Enqueue/Consume require a live nsqd; covered by the
// delivery engine's fake-queue tests instead.
