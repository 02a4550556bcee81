package progress

import (
	"sync"
	"sync/atomic"

	"fleetsync/pkg/fleet"
)

// AsyncSink hands events to a slower sink on its own goroutine. Report never
// blocks: when the buffer is full the event is dropped and counted.
type AsyncSink struct {
	next    fleet.ProgressSink
	events  chan fleet.ProgressEvent
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func NewAsyncSink(next fleet.ProgressSink, buffer int) *AsyncSink {
	if buffer < 1 {
		buffer = 256
	}
	s := &AsyncSink{
		next:   next,
		events: make(chan fleet.ProgressEvent, buffer),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *AsyncSink) drain() {
	defer close(s.done)
	for e := range s.events {
		s.next.Report(e)
	}
}

func (s *AsyncSink) Report(e fleet.ProgressEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.events <- e:
	default:
		s.dropped.Add(1)
	}
}

// Close stops accepting events and waits until the buffered ones are delivered.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()

	<-s.done
}

func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}
