// Package stream defines the typed event protocol delivered to clients
// and the SSE transport that carries it. Events arrive in emission order;
// done and error are terminal.
package stream

import "fmt"

type EventType string

const (
	EventToken     EventType = "token"
	EventToolDelta EventType = "tool_delta"
	EventEvent     EventType = "event"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is the tagged union written to the wire. tool_delta events carry
// an index plus name/arguments fragments; the client accumulates
// fragments per index until a call is complete.
type Event struct {
	Type      EventType `json:"type"`
	Data      string    `json:"data,omitempty"`
	Index     int       `json:"index"`
	Name      string    `json:"name,omitempty"`
	Arguments string    `json:"arguments,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Terminal reports whether no further events may follow this one.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func Token(text string) Event {
	return Event{Type: EventToken, Data: text}
}

func ToolDelta(index int, name, arguments string) Event {
	return Event{Type: EventToolDelta, Index: index, Name: name, Arguments: arguments}
}

func Notice(data string) Event {
	return Event{Type: EventEvent, Data: data}
}

func Done() Event {
	return Event{Type: EventDone}
}

func Errorf(format string, args ...any) Event {
	return Event{Type: EventError, Error: fmt.Sprintf(format, args...)}
}

// Sink receives events in order. Implementations must tolerate sends
// after the peer is gone.
type Sink interface {
	Send(Event)
}

// CollectSink buffers events for tests and for the non-streaming path.
type CollectSink struct {
	Events []Event
}

func (c *CollectSink) Send(e Event) {
	c.Events = append(c.Events, e)
}

// Text concatenates the token events in emission order.
func (c *CollectSink) Text() string {
	var out string
	for _, e := range c.Events {
		if e.Type == EventToken {
			out += e.Data
		}
	}
	return out
}
