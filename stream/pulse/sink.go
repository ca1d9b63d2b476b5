package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/hooks"
	"github.com/agentrun/runtime/stream"
)

// Envelope wraps one run event for transmission over a Pulse stream. Mirrors
// features/stream/pulse/sink.go's Envelope shape.
type Envelope struct {
	Type      string          `json:"type"`
	RunID     string          `json:"runId"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Sink publishes every event it receives as a hooks.Subscriber onto a
// per-run Pulse stream, so a consumer attached to a different process
// instance than the one driving the run can still tail it.
type Sink struct {
	client  Client
	streams map[string]Stream
	name    func(runID string) string
}

// NewSink builds a Sink over an already-constructed Pulse Client. name, if
// nil, defaults to "run/<runID>".
func NewSink(client Client, name func(runID string) string) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("pulse: client is required")
	}
	if name == nil {
		name = func(runID string) string { return "run/" + runID }
	}
	return &Sink{client: client, streams: map[string]Stream{}, name: name}, nil
}

// HandleEvent satisfies hooks.Subscriber: it publishes ev onto the Pulse
// stream for its run, opening the stream on first use.
func (s *Sink) HandleEvent(ctx context.Context, ev event.Event) error {
	st, err := s.streamFor(ev.RunID())
	if err != nil {
		return err
	}
	payload, err := stream.MarshalCycleSafe(ev)
	if err != nil {
		return fmt.Errorf("pulse: marshal event: %w", err)
	}
	env := Envelope{Type: string(ev.Type()), RunID: ev.RunID(), Timestamp: ev.Timestamp(), Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulse: marshal envelope: %w", err)
	}
	if _, err := st.Add(ctx, string(ev.Type()), data); err != nil {
		return fmt.Errorf("pulse: publish event: %w", err)
	}
	return nil
}

func (s *Sink) streamFor(runID string) (Stream, error) {
	if st, ok := s.streams[runID]; ok {
		return st, nil
	}
	st, err := s.client.Stream(s.name(runID))
	if err != nil {
		return nil, err
	}
	s.streams[runID] = st
	return st, nil
}

// Close destroys the stream this sink opened for runID, if any. Call after a run's
// terminal event has been observed and any lagging subscribers have had
// time to drain.
func (s *Sink) Close(ctx context.Context, runID string) error {
	st, ok := s.streams[runID]
	if !ok {
		return nil
	}
	delete(s.streams, runID)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return st.Destroy(ctx)
}

var _ hooks.Subscriber = (*Sink)(nil)
