// Package pulse publishes run events onto goa.design/pulse streams backed by
// Redis, for multi-instance deployments where the HTTP/SSE transport serving
// a consumer's connection may not be the same process driving the run (§1
// "out of scope... treated as external collaborators"; this package is the
// distributed alternative to the in-process stream.Writer). It mirrors the
// thin client/sink layering of features/stream/pulse/clients/pulse and
// features/stream/pulse/sink.go, trimmed to what the supervisor's hooks.Bus
// needs: publish only, one stream per run.
package pulse

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
)

// Client exposes the subset of Pulse streaming used by Sink.
type Client interface {
	Stream(name string) (Stream, error)
	Close(ctx context.Context) error
}

// Stream publishes events to one named Pulse stream.
type Stream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
	Destroy(ctx context.Context) error
}

type client struct {
	redis *redis.Client
	pulse *streaming.Client
}

// Options configures the Pulse client.
type Options struct {
	// Redis is the connection Pulse streams are backed by. Required.
	Redis *redis.Client
	// StreamMaxLen is not applied: New opens every stream with Pulse's own
	// default length, whatever this field holds.
	StreamMaxLen int
}

// New builds a Client from an already-constructed Redis connection.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, fmt.Errorf("pulse: redis client is required")
	}
	pc, err := streaming.NewClient(context.Background(), opts.Redis)
	if err != nil {
		return nil, fmt.Errorf("pulse: new streaming client: %w", err)
	}
	return &client{redis: opts.Redis, pulse: pc}, nil
}

func (c *client) Stream(name string) (Stream, error) {
	s, err := c.pulse.NewStream(name)
	if err != nil {
		return nil, fmt.Errorf("pulse: open stream %q: %w", name, err)
	}
	return &streamHandle{s: s}, nil
}

func (c *client) Close(ctx context.Context) error {
	return c.redis.Close()
}

type streamHandle struct {
	s *streaming.Stream
}

func (h *streamHandle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	return h.s.Add(ctx, event, payload)
}

func (h *streamHandle) Destroy(ctx context.Context) error {
	return h.s.Destroy(ctx)
}
