package update

import (
	"sync"
)

// notifier delivers states to subscribers in publish order on its own
// goroutine, so subscribers never run under the controller lock and may
// call back into it.
type notifier struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID int
	queue  []notification
	signal chan struct{}
	done   chan struct{}
	closed bool
}

type subscriber struct {
	id int
	fn func(State)
}

type notification struct {
	state  State
	target int // 0 = every subscriber
}

func newNotifier() *notifier {
	n := &notifier{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

// subscribe registers fn and queues initial for it alone.
func (n *notifier) subscribe(fn func(State), initial State) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscriber{id: id, fn: fn})
	n.mu.Unlock()

	n.enqueue(notification{state: initial, target: id})

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, s := range n.subs {
				if s.id == id {
					n.subs = append(n.subs[:i], n.subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (n *notifier) publish(s State) {
	n.enqueue(notification{state: s})
}

func (n *notifier) enqueue(note notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue = append(n.queue, note)
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for range n.signal {
		n.drain()
	}
	n.drain()
}

func (n *notifier) drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		note := n.queue[0]
		n.queue = n.queue[1:]
		targets := make([]func(State), 0, len(n.subs))
		for _, s := range n.subs {
			if note.target == 0 || note.target == s.id {
				targets = append(targets, s.fn)
			}
		}
		n.mu.Unlock()

		for _, fn := range targets {
			deliver(fn, note.state)
		}
	}
}

func deliver(fn func(State), s State) {
	defer func() {
		if r := recover(); r != nil {
			updateLog.Logf("subscriber panicked on %s: %v", s.Phase, r)
		}
	}()
	fn(s)
}

// close delivers everything already queued, then stops the goroutine.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	close(n.signal)
	n.mu.Unlock()
	<-n.done
}
