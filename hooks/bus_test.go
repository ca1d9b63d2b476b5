package hooks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/hooks"
)

func TestBusPublishFanOut(t *testing.T) {
	b := hooks.NewBus()
	var got []event.Type

	sub, err := b.Register(hooks.SubscriberFunc(func(_ context.Context, ev event.Event) error {
		got = append(got, ev.Type())
		return nil
	}))
	require.NoError(t, err)

	ev := event.NewNodeStartEvent("run-1", "alpha", event.NodeTypeAgent)
	require.NoError(t, b.Publish(context.Background(), ev))
	require.Equal(t, []event.Type{event.TypeNodeStart}, got)

	require.NoError(t, sub.Close())
	require.NoError(t, b.Publish(context.Background(), ev))
	require.Len(t, got, 1, "closed subscription must not receive further events")
}

func TestBusPublishStopsAtFirstError(t *testing.T) {
	b := hooks.NewBus()
	boom := errors.New("boom")
	calls := 0

	_, err := b.Register(hooks.SubscriberFunc(func(context.Context, event.Event) error {
		calls++
		return boom
	}))
	require.NoError(t, err)

	err = b.Publish(context.Background(), event.NewNodeStartEvent("run-1", "alpha", event.NodeTypeAgent))
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}
