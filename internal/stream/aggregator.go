// Package stream reassembles a token-by-token completion stream into
// discrete events: incremental text in arrival order, and tool calls
// whose fragments arrive out of band, keyed by a stream-assigned index.
// Tool calls are finalized only once the underlying stream has fully
// drained; partial tool calls are never emitted mid-stream.
package stream

import (
	"sort"

	"github.com/google/uuid"

	"github.com/chatpad-dev/chatpad/internal/json"
	log "github.com/chatpad-dev/chatpad/internal/logging"
)

// RawInputKey is the sentinel key under which unparseable tool-call
// arguments are surfaced instead of failing the stream.
const RawInputKey = "_raw"

// DefaultToolName is substituted when no fragment ever named the call.
const DefaultToolName = "unknown_tool"

// EventType tags an Event variant.
type EventType string

const (
	EventTypeText     EventType = "text"
	EventTypeToolCall EventType = "tool_call"
)

// Event is one discrete unit of aggregator output.
type Event struct {
	Type     EventType
	Text     string
	ToolCall *ToolCall
}

// ToolCall is a finalized tool invocation.
type ToolCall struct {
	ID   string
	Name string
	// Input is the parsed argument object, or {RawInputKey: raw} when
	// the accumulated buffer is not valid JSON.
	Input map[string]any
	// RawInput is the accumulated argument text as received.
	RawInput string
}

// Delta is one incoming chunk of the completion stream.
type Delta struct {
	Text      string
	Fragments []Fragment
}

// Fragment is a partial tool call carried by a delta. Index is assigned
// by the stream and groups fragments belonging to one call. HasID and
// HasName distinguish "absent" from "empty" for last-writer-wins fields.
type Fragment struct {
	Index     int
	ID        string
	HasID     bool
	Name      string
	HasName   bool
	Arguments string
}

// accumulator assembles one tool call from its fragments. Arguments are
// append-only; id and name are last-writer-wins.
type accumulator struct {
	id   string
	name string
	args []byte
}

// Aggregator merges deltas into text events and pending tool-call
// accumulators. Not safe for concurrent use; one stream, one consumer.
type Aggregator struct {
	pending map[int]*accumulator
}

// NewAggregator returns an empty aggregator for a single stream.
func NewAggregator() *Aggregator {
	return &Aggregator{pending: make(map[int]*accumulator)}
}

// Absorb merges one delta. Text content is returned immediately as
// events; tool-call fragments only mutate the pending accumulators.
func (a *Aggregator) Absorb(d Delta) []Event {
	var events []Event
	if d.Text != "" {
		events = append(events, Event{Type: EventTypeText, Text: d.Text})
	}
	for _, f := range d.Fragments {
		acc := a.pending[f.Index]
		if acc == nil {
			acc = &accumulator{}
			a.pending[f.Index] = acc
		}
		if f.HasID {
			acc.id = f.ID
		}
		if f.HasName {
			acc.name = f.Name
		}
		if f.Arguments != "" {
			acc.args = append(acc.args, f.Arguments...)
		}
	}
	return events
}

// Finalize converts every pending accumulator into a tool_call event,
// ordered by ascending index regardless of fragment arrival order. Only
// call this after the transport stream has closed naturally; abandoned
// streams must skip finalization entirely.
func (a *Aggregator) Finalize() []Event {
	if len(a.pending) == 0 {
		return nil
	}

	indices := make([]int, 0, len(a.pending))
	for idx := range a.pending {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	events := make([]Event, 0, len(indices))
	for _, idx := range indices {
		acc := a.pending[idx]
		events = append(events, Event{
			Type:     EventTypeToolCall,
			ToolCall: acc.finalize(idx),
		})
	}
	a.pending = make(map[int]*accumulator)
	return events
}

func (acc *accumulator) finalize(index int) *ToolCall {
	call := &ToolCall{
		ID:       acc.id,
		Name:     acc.name,
		RawInput: string(acc.args),
	}
	if call.ID == "" {
		call.ID = "call_" + uuid.NewString()
	}
	if call.Name == "" {
		call.Name = DefaultToolName
	}

	if len(acc.args) > 0 {
		var input map[string]any
		if err := json.Unmarshal(acc.args, &input); err == nil {
			call.Input = input
			return call
		}
		log.Debugf("stream: tool call %d arguments are not valid JSON, passing raw", index)
	}
	call.Input = map[string]any{RawInputKey: call.RawInput}
	return call
}
