// Package eventbus carries session lifecycle events from the engine to
// observers such as the metrics collector.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrBusClosed is returned by every operation on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

type subscription struct {
	id      string
	types   map[EventType]struct{} // nil matches every type
	handler EventHandler
}

func (s subscription) matches(t EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type envelope struct {
	ctx   context.Context
	event Event
}

// ChannelEventBus delivers events on a fixed set of lanes. Events carrying
// a session id always travel the same lane, so observers see one session's
// events in the order they were published.
type ChannelEventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	closed bool

	lanes []chan envelope
	next  atomic.Uint64
	done  chan struct{}
	wg    sync.WaitGroup

	bufferSize    int
	workerCount   int
	maxRetries    int
	retryInterval time.Duration
}

// ChannelEventBusOption configures a ChannelEventBus.
type ChannelEventBusOption func(*ChannelEventBus)

// WithBufferSize sets the queue length of each lane.
func WithBufferSize(size int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.bufferSize = size
	}
}

// WithWorkerCount sets the number of lanes, one worker each.
func WithWorkerCount(count int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.workerCount = count
	}
}

// WithRetries configures how often a failing handler is retried.
func WithRetries(maxRetries int, retryInterval time.Duration) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		eb.maxRetries = maxRetries
		eb.retryInterval = retryInterval
	}
}

// NewChannelEventBus starts a bus with its workers running.
func NewChannelEventBus(options ...ChannelEventBusOption) *ChannelEventBus {
	eb := &ChannelEventBus{
		done:          make(chan struct{}),
		bufferSize:    100,
		workerCount:   4,
		maxRetries:    3,
		retryInterval: 100 * time.Millisecond,
	}
	for _, option := range options {
		option(eb)
	}
	if eb.workerCount < 1 {
		eb.workerCount = 1
	}
	if eb.bufferSize < 0 {
		eb.bufferSize = 0
	}

	eb.lanes = make([]chan envelope, eb.workerCount)
	for i := range eb.lanes {
		eb.lanes[i] = make(chan envelope, eb.bufferSize)
		eb.wg.Add(1)
		go eb.drain(eb.lanes[i])
	}
	return eb
}

func (eb *ChannelEventBus) drain(lane <-chan envelope) {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.done:
			return
		case env := <-lane:
			eb.dispatch(env)
		}
	}
}

// lane picks the session's lane, or spreads session-less events round robin.
func (eb *ChannelEventBus) lane(event Event) chan envelope {
	if id := SessionOf(event); id != "" {
		h := fnv.New32a()
		h.Write([]byte(id))
		return eb.lanes[int(h.Sum32()%uint32(len(eb.lanes)))]
	}
	return eb.lanes[int(eb.next.Add(1)%uint64(len(eb.lanes)))]
}

func (eb *ChannelEventBus) dispatch(env envelope) {
	if env.ctx.Err() != nil {
		return
	}
	eb.mu.RLock()
	var handlers []EventHandler
	for _, s := range eb.subs {
		if s.matches(env.event.Type()) {
			handlers = append(handlers, s.handler)
		}
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		eb.deliver(env.ctx, env.event, h)
	}
}

func (eb *ChannelEventBus) deliver(ctx context.Context, event Event, handler EventHandler) {
	var err error
	for attempt := 0; attempt <= eb.maxRetries; attempt++ {
		if err = handler(ctx, event); err == nil {
			return
		}
		if attempt == eb.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-eb.done:
			return
		case <-time.After(eb.retryInterval):
		}
	}
	log.Printf("Event handler error (event_type: %s, source: %s, retries: %d): %v",
		event.Type(), event.Source(), eb.maxRetries, err)
}

// Publish queues event for delivery. Events published with an already
// cancelled context are rejected; handlers see ctx as published.
func (eb *ChannelEventBus) Publish(ctx context.Context, event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	eb.mu.RLock()
	closed := eb.closed
	eb.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-eb.done:
		return ErrBusClosed
	case eb.lane(event) <- envelope{ctx: ctx, event: event}:
		return nil
	}
}

func (eb *ChannelEventBus) add(types map[EventType]struct{}, handler EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return "", ErrBusClosed
	}
	id := uuid.New().String()
	eb.subs = append(eb.subs, subscription{id: id, types: types, handler: handler})
	return id, nil
}

// Subscribe registers handler for the given event types.
func (eb *ChannelEventBus) Subscribe(eventTypes []EventType, handler EventHandler) (string, error) {
	if len(eventTypes) == 0 {
		return "", fmt.Errorf("at least one event type is required")
	}
	types := make(map[EventType]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}
	return eb.add(types, handler)
}

// SubscribeAll registers handler for every event type.
func (eb *ChannelEventBus) SubscribeAll(handler EventHandler) (string, error) {
	return eb.add(nil, handler)
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (eb *ChannelEventBus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return ErrBusClosed
	}
	for i, s := range eb.subs {
		if s.id == subscriptionID {
			eb.subs = append(eb.subs[:i], eb.subs[i+1:]...)
			break
		}
	}
	return nil
}

// Close stops the workers. Queued events that were not yet dispatched are
// dropped. Closing twice is a no-op.
func (eb *ChannelEventBus) Close() error {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return nil
	}
	eb.closed = true
	eb.mu.Unlock()

	// Lanes stay open: a publisher racing Close unblocks on done.
	close(eb.done)
	eb.wg.Wait()
	return nil
}
