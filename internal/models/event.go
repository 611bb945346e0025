package models

// EventType identifies the kind of an outbound stream event.
type EventType string

// Outbound event kinds. EventComplete and EventError are terminal: no event follows them on the same stream.
const (
	EventFragment EventType = "fragment"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Question is the inbound request body of both /ask and /stream.
type Question struct {
	Question string `json:"question"`
}

// Event is one unit delivered to the client, either as the whole /ask response or as a single SSE frame of /stream.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
	Done    bool      `json:"done"`
}

// Frame is one decoded line of the backend's newline-delimited JSON stream.
type Frame struct {
	Fragment string
	IsFinal  bool

	// Err carries the message of an in-band backend failure ({"error": "..."}).
	Err string
}

// Health is the payload of the health endpoint.
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Time    string `json:"time"`
}

// FragmentEvent returns a non-terminal event carrying a piece of model output.
func FragmentEvent(fragment string) Event {
	return Event{Type: EventFragment, Content: fragment}
}

// CompleteEvent returns the terminal event carrying the full answer.
func CompleteEvent(answer string) Event {
	return Event{Type: EventComplete, Content: answer, Done: true}
}

// ErrorEvent returns the terminal event describing a failure.
func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Content: msg, Done: true}
}

// Terminal reports whether no further events may follow e.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
