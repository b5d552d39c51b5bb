package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesEveryHandler(t *testing.T) {
	bus := NewBus(time.Second)
	var calls atomic.Int32
	for _, name := range []string{"a", "b", "c"} {
		bus.Subscribe(TypePhaseChanged, name, func(ctx context.Context, ev Event) error {
			calls.Add(1)
			return nil
		})
	}
	bus.Subscribe(TypeGameEnded, "other", func(ctx context.Context, ev Event) error {
		t.Error("wrong type delivered")
		return nil
	})

	ev := MustNew(TypePhaseChanged, "g1", PhaseChangedPayload{GameID: "g1", Phase: "day_voting"})
	require.NoError(t, bus.Publish(context.Background(), ev))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHandlerFailuresAreIsolated(t *testing.T) {
	bus := NewBus(50 * time.Millisecond)
	var delivered atomic.Bool

	bus.Subscribe(TypePhaseChanged, "slow", func(ctx context.Context, ev Event) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	bus.Subscribe(TypePhaseChanged, "broken", func(ctx context.Context, ev Event) error {
		return errors.New("boom")
	})
	bus.Subscribe(TypePhaseChanged, "panicky", func(ctx context.Context, ev Event) error {
		panic("nil map")
	})
	bus.Subscribe(TypePhaseChanged, "healthy", func(ctx context.Context, ev Event) error {
		delivered.Store(true)
		return nil
	})

	start := time.Now()
	err := bus.Publish(context.Background(), MustNew(TypePhaseChanged, "g1", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerTimeout)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "panicked")
	assert.True(t, delivered.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(0)
	var calls atomic.Int32
	stop := bus.Subscribe(TypeGameEnded, "h", func(ctx context.Context, ev Event) error {
		calls.Add(1)
		return nil
	})
	assert.True(t, bus.HasSubscribers(TypeGameEnded))
	stop()
	assert.False(t, bus.HasSubscribers(TypeGameEnded))

	require.NoError(t, bus.Publish(context.Background(), MustNew(TypeGameEnded, "g1", nil)))
	assert.Zero(t, calls.Load())
}

func TestPublishAsync(t *testing.T) {
	bus := NewBus(0)
	got := make(chan Event, 1)
	bus.Subscribe(ClientType("chat"), "chat", func(ctx context.Context, ev Event) error {
		got <- ev
		return nil
	})

	ev := MustNew(ClientType("chat"), "g1", ClientMessagePayload{UserID: "u1", Type: "chat"})
	bus.PublishAsync(ev)
	bus.Wait()

	select {
	case recv := <-got:
		assert.Equal(t, ev.ID, recv.ID)
		assert.True(t, recv.Type.IsClient())
		assert.Equal(t, "chat", recv.Type.ClientMessageType())
		var p ClientMessagePayload
		require.NoError(t, recv.Decode(&p))
		assert.Equal(t, "u1", p.UserID)
	default:
		t.Fatal("async event not delivered")
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "game.events.phase_changed", Subject("game.events", TypePhaseChanged))
}
