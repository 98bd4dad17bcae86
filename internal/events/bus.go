package events

import (
	"sync"
	"time"

	"github.com/jlneal/choragen-sub010/internal/logging"
)

const defaultBufferSize = 256

// Bus is the in-process event bus. Events are delivered to sinks and
// to per-workflow subscriber channels in emission order. Emit never
// blocks: when a buffer is full the event is dropped and counted.
type Bus struct {
	mu          sync.Mutex
	sinks       []Sink
	subscribers map[string][]chan Event // workflow id -> channels, "" = all events
	bufferSize  int
	dropped     int
	closed      bool

	queue chan Event
	done  chan struct{}

	logger *logging.Logger
}

// NewBus creates a bus and starts its delivery goroutine.
func NewBus(bufferSize int, sinks ...Sink) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	b := &Bus{
		sinks:       sinks,
		subscribers: make(map[string][]chan Event),
		bufferSize:  bufferSize,
		queue:       make(chan Event, bufferSize),
		done:        make(chan struct{}),
		logger:      logging.New().WithComponent("events"),
	}
	go b.deliver()
	return b
}

// Emit enqueues an event for delivery. Best-effort: a full queue drops
// the event with a warning.
func (b *Bus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	select {
	case b.queue <- ev:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Warn("event_dropped", map[string]interface{}{
			"type":     ev.Type,
			"workflow": ev.WorkflowID,
		})
	}
}

// Subscribe returns a channel receiving events for the given workflow
// id, in emission order. Empty id subscribes to all events.
func (b *Bus) Subscribe(workflowID string) <-chan Event {
	ch := make(chan Event, b.bufferSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[workflowID] = append(b.subscribers[workflowID], ch)
	return ch
}

// Dropped returns how many events were dropped due to backpressure.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Bus) deliver() {
	defer close(b.done)
	for ev := range b.queue {
		b.mu.Lock()
		sinks := b.sinks
		var chans []chan Event
		chans = append(chans, b.subscribers[""]...)
		if ev.WorkflowID != "" {
			chans = append(chans, b.subscribers[ev.WorkflowID]...)
		}
		b.mu.Unlock()

		for _, s := range sinks {
			if err := s.Write(ev); err != nil {
				b.logger.Warn("sink_write_failed", map[string]interface{}{
					"type":  ev.Type,
					"error": err.Error(),
				})
			}
		}
		for _, ch := range chans {
			select {
			case ch <- ev:
			default:
				b.mu.Lock()
				b.dropped++
				b.mu.Unlock()
				b.logger.Warn("subscriber_overflow", map[string]interface{}{
					"type":     ev.Type,
					"workflow": ev.WorkflowID,
				})
			}
		}
	}
}

// Close stops delivery, flushes the queue, and closes sinks and
// subscriber channels.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.queue)
	<-b.done

	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, s := range b.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, chans := range b.subscribers {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subscribers = make(map[string][]chan Event)
	return firstErr
}
