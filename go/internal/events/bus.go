package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultHandlerTimeout bounds how long a single handler may run.
const DefaultHandlerTimeout = 5 * time.Second

// Handler processes one event.
type Handler func(ctx context.Context, ev Event) error

// ErrHandlerTimeout is reported for a handler that outran its timeout.
var ErrHandlerTimeout = errors.New("event handler timed out")

type subscription struct {
	id      uint64
	name    string
	handler Handler
}

// Bus is an in-process typed publish/subscribe bus. Every handler of an event
// runs concurrently under its own timeout; a failing, panicking or hanging
// handler never affects the others.
type Bus struct {
	timeout time.Duration

	mu       sync.RWMutex
	handlers map[Type][]subscription
	nextID   uint64

	inflight sync.WaitGroup
}

// NewBus creates a bus. A non-positive timeout uses DefaultHandlerTimeout.
func NewBus(timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	return &Bus{
		timeout:  timeout,
		handlers: make(map[Type][]subscription),
	}
}

// Subscribe registers h for events of type t. The returned func removes it.
func (b *Bus) Subscribe(t Type, name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], subscription{id: id, name: name, handler: h})

	log.Debug().Str("event_type", string(t)).Str("handler", name).Msg("handler subscribed")

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[t]
		for i, s := range subs {
			if s.id == id {
				b.handlers[t] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// HasSubscribers reports whether anything listens for t.
func (b *Bus) HasSubscribers(t Type) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t]) > 0
}

// Publish delivers ev to every handler of its type and waits until each one
// finished or timed out. Handler failures are logged and joined into the
// returned error.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[ev.Type]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, s := range subs {
		wg.Add(1)
		go func(i int, s subscription) {
			defer wg.Done()
			if err := b.run(ctx, s, ev); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.name, err)
				log.Error().
					Err(err).
					Str("event_type", string(ev.Type)).
					Str("event_id", ev.ID).
					Str("handler", s.name).
					Msg("event handler failed")
			}
		}(i, s)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// PublishAsync publishes ev on a detached context without waiting.
func (b *Bus) PublishAsync(ev Event) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		_ = b.Publish(context.Background(), ev)
	}()
}

// Wait blocks until every PublishAsync call has been delivered.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

func (b *Bus) run(parent context.Context, s subscription, ev Event) error {
	ctx, cancel := context.WithTimeout(parent, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panicked: %v", r)
			}
		}()
		done <- s.handler(ctx, ev)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrHandlerTimeout
		}
		return ctx.Err()
	}
}
