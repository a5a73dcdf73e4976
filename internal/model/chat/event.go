package chat

import "encoding/json"

// EventType discriminates StreamEvent variants on the wire.
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventChunk        EventType = "chunk"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// StreamEvent is one frame of a streamed reply. A stream is exactly one
// session_start, zero or more chunk, then one complete or error.
type StreamEvent struct {
	Type      EventType
	SessionID string
	// Text holds the increment for chunk, the full reply for complete and
	// the failure message for error.
	Text string
}

// SessionStartEvent opens a stream for id.
func SessionStartEvent(id string) StreamEvent {
	return StreamEvent{Type: EventSessionStart, SessionID: id}
}

// ChunkEvent carries one text increment.
func ChunkEvent(id, content string) StreamEvent {
	return StreamEvent{Type: EventChunk, SessionID: id, Text: content}
}

// CompleteEvent closes a stream with the full reply.
func CompleteEvent(id, fullText string) StreamEvent {
	return StreamEvent{Type: EventComplete, SessionID: id, Text: fullText}
}

// ErrorEvent closes a stream with a human readable failure.
func ErrorEvent(id, message string) StreamEvent {
	return StreamEvent{Type: EventError, SessionID: id, Text: message}
}

// Terminal reports whether e ends a stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// MarshalJSON writes the variant specific payload. Complete also carries
// full_response and error also carries message for older clients.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	payload := map[string]any{
		"type":       e.Type,
		"session_id": e.SessionID,
	}
	switch e.Type {
	case EventChunk:
		payload["content"] = e.Text
	case EventComplete:
		payload["full_text"] = e.Text
		payload["full_response"] = e.Text
	case EventError:
		payload["error"] = e.Text
		payload["message"] = e.Text
	}
	return json.Marshal(payload)
}

// UnmarshalJSON is the inverse of MarshalJSON; clients such as chatcli use it.
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type         EventType `json:"type"`
		SessionID    string    `json:"session_id"`
		Content      string    `json:"content"`
		FullText     string    `json:"full_text"`
		FullResponse string    `json:"full_response"`
		Error        string    `json:"error"`
		Message      string    `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.Type = raw.Type
	e.SessionID = raw.SessionID
	switch raw.Type {
	case EventChunk:
		e.Text = raw.Content
	case EventComplete:
		e.Text = raw.FullText
		if e.Text == "" {
			e.Text = raw.FullResponse
		}
	case EventError:
		e.Text = raw.Error
		if e.Text == "" {
			e.Text = raw.Message
		}
	default:
		e.Text = ""
	}
	return nil
}
