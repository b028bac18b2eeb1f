package queue

// Task is the wire envelope carried on the deliveries topic: "deliver event
// E". It carries no business payload of its own — the worker re-reads the
// event from the store on claim — only enough to route the work and
// propagate trace context across the queue boundary.
type Task struct {
	EventID      int64             `json:"event_id"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}
