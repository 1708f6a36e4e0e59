package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitGroupOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var received Event
	var wg sync.WaitGroup
	wg.Add(1)

	unsub := bus.Subscribe(ServerConnected, func(e Event) {
		received = e
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: ServerConnected, Data: ServerData{Server: "echo", State: "active", ToolCount: 2}})
	waitGroupOrTimeout(t, &wg)

	assert.Equal(t, ServerConnected, received.Type)
	data, ok := received.Data.(ServerData)
	require.True(t, ok, "payload type must survive delivery")
	assert.Equal(t, "echo", data.Server)
	assert.Equal(t, 2, data.ToolCount)
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	var wg sync.WaitGroup
	wg.Add(3)

	unsub := bus.SubscribeAll(func(e Event) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})
	defer unsub()

	bus.Publish(Event{Type: ServerConnected})
	bus.Publish(Event{Type: ServerStale})
	bus.Publish(Event{Type: ToolsUpdated})

	waitGroupOrTimeout(t, &wg)
	assert.Equal(t, int32(3), atomic.LoadInt32(&count))
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	unsub := bus.Subscribe(ServerFailed, func(e Event) {
		atomic.AddInt32(&count, 1)
	})
	unsub()

	bus.PublishSync(Event{Type: ServerFailed})
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestBus_PublishSyncOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var order []int
	bus.Subscribe(ServerStale, func(Event) { order = append(order, 1) })
	bus.Subscribe(ServerStale, func(Event) { order = append(order, 2) })
	bus.SubscribeAll(func(Event) { order = append(order, 3) })

	bus.PublishSync(Event{Type: ServerStale})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestBus_EventTypeFiltering(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var got []EventType
	bus.Subscribe(ToolsUpdated, func(e Event) { got = append(got, e.Type) })

	bus.PublishSync(Event{Type: ServerConnected})
	bus.PublishSync(Event{Type: ToolsUpdated})
	assert.Equal(t, []EventType{ToolsUpdated}, got)
}

func TestBus_ClosedBusIgnoresPublish(t *testing.T) {
	bus := NewBus()
	var called bool
	bus.SubscribeAll(func(Event) { called = true })
	require.NoError(t, bus.Close())

	bus.PublishSync(Event{Type: ServerConnected})
	assert.False(t, called)
	assert.NotPanics(t, func() { _ = bus.Close() })
	assert.NotNil(t, bus.Subscribe(ServerConnected, func(Event) {}))
}

func TestBus_Stream(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := bus.Stream(ctx)
	require.NoError(t, err)

	bus.Publish(Event{Type: ServerDisconnected, Data: ServerData{Server: "echo", State: "disconnected"}})

	select {
	case raw := <-stream:
		var decoded struct {
			Type EventType  `json:"type"`
			Data ServerData `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, ServerDisconnected, decoded.Type)
		assert.Equal(t, "echo", decoded.Data.Server)
	case <-ctx.Done():
		t.Fatal("no event on stream")
	}
}

func TestBus_ConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(ToolsUpdated, func(Event) {})
			unsub()
		}()
		go func() {
			defer wg.Done()
			bus.Publish(Event{Type: ToolsUpdated})
		}()
	}
	waitGroupOrTimeout(t, &wg)
}
