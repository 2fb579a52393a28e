package model

// EventKind tags the variant carried by an Event
type EventKind string

const (
	EventStatusChanged EventKind = "status_changed"
	EventProgress      EventKind = "progress"
	EventMessage       EventKind = "message"
)

// Event is a fire-and-forget notification emitted while jobs run
type Event struct {
	Kind   EventKind `json:"kind"`
	JobID  string    `json:"job_id"`
	Status Status    `json:"status"`
	// Progress fields
	Fraction float64 `json:"fraction,omitempty"`
	Bytes    int64   `json:"bytes,omitempty"`
	Total    int64   `json:"total,omitempty"`
	// Message text
	Text string `json:"text,omitempty"`
}

// StatusChanged builds a status event
func StatusChanged(id string, status Status) Event {
	return Event{Kind: EventStatusChanged, JobID: id, Status: status}
}

// Progress builds a progress event. Fraction is clamped to [0, 1].
func Progress(id string, fraction float64, bytes, total int64) Event {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return Event{Kind: EventProgress, JobID: id, Fraction: fraction, Bytes: bytes, Total: total}
}

// Message builds a free-text event
func Message(id, text string) Event {
	return Event{Kind: EventMessage, JobID: id, Text: text}
}
