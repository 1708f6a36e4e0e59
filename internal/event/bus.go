// Package event provides a pub/sub event system using watermill.
package event

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic is the watermill topic every event is mirrored to.
const Topic = "mcphost.events"

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscription matches one event type, or every type when typ is empty.
type subscription struct {
	id  uint64
	typ EventType
	fn  Subscriber
}

// Bus delivers events to in-process subscribers with their Go types intact
// and mirrors each one as JSON onto a watermill GoChannel for streaming
// consumers such as the HTTP event feed.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID atomic.Uint64
	closed bool

	pubsub *gochannel.GoChannel
	done   context.Context
	stop   context.CancelFunc
}

// NewBus creates a new event bus instance. The bus is owned by the caller;
// there is no package-level default.
func NewBus() *Bus {
	done, stop := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
		done: done,
		stop: stop,
	}
}

// Subscribe registers fn for one event type and returns a function that
// removes it.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	return b.add(eventType, fn)
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.add("", fn)
}

func (b *Bus) add(typ EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.nextID.Add(1)
	b.subs = append(b.subs, subscription{id: id, typ: typ, fn: fn})
	return func() { b.remove(id) }
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
}

// matching returns the subscribers for typ in registration order; false
// once the bus is closed.
func (b *Bus) matching(typ EventType) ([]Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false
	}
	var out []Subscriber
	for _, s := range b.subs {
		if s.typ == "" || s.typ == typ {
			out = append(out, s.fn)
		}
	}
	return out, true
}

// Publish mirrors event to streams and hands it to each matching
// subscriber on its own goroutine.
func (b *Bus) Publish(event Event) {
	subs, ok := b.matching(event.Type)
	if !ok {
		return
	}
	b.mirror(event)
	for _, sub := range subs {
		go sub(event)
	}
}

// PublishSync is Publish with subscribers called in order on the caller's
// goroutine.
func (b *Bus) PublishSync(event Event) {
	subs, ok := b.matching(event.Type)
	if !ok {
		return
	}
	b.mirror(event)
	for _, sub := range subs {
		sub(event)
	}
}

func (b *Bus) mirror(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", string(event.Type))
	_ = b.pubsub.Publish(Topic, msg)
}

// Stream returns the JSON form of every event published after the call
// until ctx ends or the bus closes.
func (b *Bus) Stream(ctx context.Context) (<-chan json.RawMessage, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}
	out := make(chan json.RawMessage)
	go func() {
		defer close(out)
		for msg := range msgs {
			payload := json.RawMessage(msg.Payload)
			msg.Ack()
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			case <-b.done.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops delivery to every subscriber and ends all streams.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = nil
	b.mu.Unlock()

	b.stop()
	return b.pubsub.Close()
}
