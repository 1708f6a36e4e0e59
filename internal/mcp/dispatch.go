package mcp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// dispatcher correlates responses with pending requests and queues
// everything else for Receive. One exists per transport instance.
type dispatcher struct {
	nextID atomic.Int64
	log    zerolog.Logger

	mu       sync.Mutex
	pending  map[int64]chan Message
	closed   bool
	closeErr error
	closedCh chan struct{}

	inbound *inboundQueue
}

func newDispatcher(log zerolog.Logger, queueSize int) *dispatcher {
	return &dispatcher{
		log:      log,
		pending:  make(map[int64]chan Message),
		closedCh: make(chan struct{}),
		inbound:  newInboundQueue(queueSize, log),
	}
}

// register allocates an id and a result slot for it.
func (d *dispatcher) register() (int64, chan Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, nil, d.closeErr
	}
	id := d.nextID.Add(1)
	ch := make(chan Message, 1)
	d.pending[id] = ch
	return id, ch, nil
}

// forget drops a pending slot whose response can no longer arrive.
func (d *dispatcher) forget(id int64) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// await blocks until the slot is filled, ctx ends, or the connection is torn
// down. An abandoned slot stays registered; a late response is discarded
// when it arrives.
func (d *dispatcher) await(ctx context.Context, ch <-chan Message) (Message, error) {
	select {
	case msg := <-ch:
		return msg, nil
	case <-d.closedCh:
		// A response may have raced the teardown.
		select {
		case msg := <-ch:
			return msg, nil
		default:
		}
		return nil, d.err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deliver routes one inbound message. Responses with unknown ids are
// discarded.
func (d *dispatcher) deliver(msg Message) {
	var id RequestID
	switch m := msg.(type) {
	case *Response:
		id = m.ID
	case *ErrorResponse:
		id = m.ID
		if id.IsNull() {
			d.log.Warn().Int("code", m.Error.Code).Str("message", m.Error.Message).
				Msg("server reported an error without a request id")
			return
		}
	case *Notification, *Request:
		d.inbound.push(msg)
		return
	default:
		d.log.Warn().Msgf("dropping unsupported message %T", msg)
		return
	}

	n, ok := id.Int64()
	if !ok {
		d.log.Warn().Str("id", id.String()).Msg("discarding response with non-numeric id")
		return
	}
	d.mu.Lock()
	ch, found := d.pending[n]
	if found {
		delete(d.pending, n)
	}
	d.mu.Unlock()
	if !found {
		d.log.Warn().Int64("id", n).Msg("discarding response for unknown request id")
		return
	}
	ch <- msg
}

// fail tears the table down: every waiter gets err and later registrations
// fail with it. Only the first call has effect.
func (d *dispatcher) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.closeErr = err
	d.pending = make(map[int64]chan Message)
	close(d.closedCh)
	d.inbound.close(err)
}

func (d *dispatcher) err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeErr
}

func (d *dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *dispatcher) pendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// inboundQueue is a bounded FIFO that drops its oldest entry when full so a
// chatty server can neither exhaust memory nor stall the read loop.
type inboundQueue struct {
	mu      sync.Mutex
	items   []Message
	cap     int
	notify  chan struct{}
	done    chan struct{}
	closed  bool
	err     error
	dropped int
	log     zerolog.Logger
}

func newInboundQueue(capacity int, log zerolog.Logger) *inboundQueue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &inboundQueue{
		cap:    capacity,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		log:    log,
	}
}

func (q *inboundQueue) push(msg Message) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.items) >= q.cap {
		q.items = q.items[1:]
		q.dropped++
		q.log.Warn().Int("capacity", q.cap).Int("dropped", q.dropped).
			Msg("notification queue full, dropping oldest")
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *inboundQueue) pop(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		if q.closed {
			err := q.err
			q.mu.Unlock()
			return nil, err
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *inboundQueue) close(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if err == nil {
		err = errors.New("connection closed")
	}
	q.closed = true
	q.err = err
	close(q.done)
}

func (q *inboundQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
