package events

import (
	"context"
	"log/slog"
	"sync"
)

// Subscriber consumes events from the bus. A subscriber's error is logged
// and counted; it never propagates to the publisher and never prevents
// another subscriber from receiving the same event.
type Subscriber interface {
	HandleEvent(ctx context.Context, event Event) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event Event) error

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// subscriberBuffer is the per-subscriber queue depth. Publish blocks only
// when a subscriber falls this many events behind — events are never
// dropped.
const subscriberBuffer = 1024

// Bus is the single-process hook bus. One dispatcher goroutine per
// subscriber drains a buffered queue, so Publish returns after the enqueue
// rather than after the (possibly slow) subscriber work. Publishing with no
// subscribers registered is a silent no-op.
type Bus struct {
	clock *SessionClock

	mu          sync.RWMutex
	subscribers []*subscription
	closed      bool
	wg          sync.WaitGroup
}

type subscription struct {
	name string
	sub  Subscriber
	ch   chan Event
}

// NewBus creates a bus stamping event timestamps from the given clock.
func NewBus(clock *SessionClock) *Bus {
	if clock == nil {
		clock = NewSessionClock()
	}
	return &Bus{clock: clock}
}

// Clock returns the bus's per-session monotonic clock, shared with the
// audit store so stage/session timestamps interleave correctly with
// interaction timestamps.
func (b *Bus) Clock() *SessionClock {
	return b.clock
}

// Subscribe registers a named subscriber and starts its dispatcher.
// Must not be called after Close.
func (b *Bus) Subscribe(name string, sub Subscriber) {
	s := &subscription{
		name: name,
		sub:  sub,
		ch:   make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		slog.Warn("Subscribe on closed event bus ignored", "subscriber", name)
		return
	}
	b.subscribers = append(b.subscribers, s)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range s.ch {
			if err := s.sub.HandleEvent(context.Background(), event); err != nil {
				slog.Error("Event subscriber failed",
					"subscriber", s.name,
					"session_id", event.EventSessionID(),
					"error", err)
			}
		}
	}()
}

// Publish stamps the event and enqueues it for every subscriber. Missing
// session/stage attribution is captured from the task-local context; a zero
// timestamp is assigned from the per-session monotonic clock. Publish
// returns once all enqueues complete — normally immediate, blocking only if
// a subscriber's queue is full.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.stamp(ctx, event)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subscribers {
		s.ch <- event
	}
}

// stamp fills in attribution and timestamp fields that the call site left
// zero. Each event type keeps its fields exported so call sites that already
// know their ids can set them directly.
func (b *Bus) stamp(ctx context.Context, event Event) {
	switch e := event.(type) {
	case *LLMInteractionEvent:
		if e.SessionID == "" {
			e.SessionID = SessionFromContext(ctx)
		}
		if e.StageExecutionID == nil {
			e.StageExecutionID = StageExecutionFromContext(ctx)
		}
		if e.TsUs == 0 {
			e.TsUs = b.clock.Next(e.SessionID)
		}
	case *MCPInteractionEvent:
		if e.SessionID == "" {
			e.SessionID = SessionFromContext(ctx)
		}
		if e.StageExecutionID == nil {
			e.StageExecutionID = StageExecutionFromContext(ctx)
		}
		if e.TsUs == 0 {
			e.TsUs = b.clock.Next(e.SessionID)
		}
	case *SessionLifecycleEvent:
		if e.SessionID == "" {
			e.SessionID = SessionFromContext(ctx)
		}
		if e.StageExecutionID == nil {
			e.StageExecutionID = StageExecutionFromContext(ctx)
		}
		if e.TsUs == 0 {
			e.TsUs = b.clock.Next(e.SessionID)
		}
	}
}

// Close stops accepting events, drains every subscriber queue, and waits for
// the dispatchers to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subscribers
	b.mu.Unlock()

	for _, s := range subs {
		close(s.ch)
	}
	b.wg.Wait()
}
