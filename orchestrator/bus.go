package orchestrator

import (
	"sync"

	"github.com/poiesic/curator/core"
)

// Bus fans progress events out to subscribers. Publish never blocks: each
// subscriber has an unbounded queue drained by its own goroutine, so a slow
// reader delays only itself and never loses an event.
type Bus struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	mu     sync.Mutex
	queue  []core.ProgressEvent
	notify chan struct{}
	out    chan core.ProgressEvent

	stop     chan struct{} // unsubscribe: exit without draining
	drain    chan struct{} // bus closed: deliver what is queued, then exit
	stopOnce sync.Once
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new subscriber. buffer sizes the delivery channel;
// the queue behind it is unbounded. The returned function unsubscribes and
// closes the channel. After the bus is closed the channel is closed once the
// queued events have been delivered.
func (b *Bus) Subscribe(buffer int) (<-chan core.ProgressEvent, func()) {
	if buffer < 0 {
		buffer = 0
	}
	s := &subscriber{
		notify: make(chan struct{}, 1),
		out:    make(chan core.ProgressEvent, buffer),
		stop:   make(chan struct{}),
		drain:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.run()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		s.stopOnce.Do(func() { close(s.stop) })
	}
	return s.out, unsubscribe
}

// Publish queues ev for every current subscriber.
func (b *Bus) Publish(ev core.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.push(ev)
	}
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops accepting events. Subscribers receive what is already queued.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.drain)
	}
	clear(b.subs)
}

func (s *subscriber) push(ev core.ProgressEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) pop() (core.ProgressEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return core.ProgressEvent{}, false
	}
	ev := s.queue[0]
	s.queue[0] = core.ProgressEvent{}
	s.queue = s.queue[1:]
	return ev, true
}

func (s *subscriber) run() {
	defer close(s.out)
	draining := false
	for {
		for {
			ev, ok := s.pop()
			if !ok {
				break
			}
			select {
			case s.out <- ev:
			case <-s.stop:
				return
			}
		}
		if draining {
			return
		}
		select {
		case <-s.notify:
		case <-s.drain:
			draining = true
		case <-s.stop:
			return
		}
	}
}
