package arbbot

import (
	"sync"

	"crossarb/internal/application/port"
)

const broadcastQueueCap = 256

// Broadcaster fans bot snapshots out to registered observers through one
// bounded queue. Overflowing updates are dropped: observers see a sampled
// stream, bots never block on a slow consumer.
type Broadcaster struct {
	mu        sync.Mutex
	observers []port.Observer
	queue     chan *port.BotSnapshot
	done      chan struct{}
	dropped   int64
	closeOnce sync.Once
}

// NewBroadcaster starts the dispatch goroutine.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		queue: make(chan *port.BotSnapshot, broadcastQueueCap),
		done:  make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// AddObserver registers a snapshot consumer.
func (b *Broadcaster) AddObserver(obs port.Observer) {
	if obs == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, obs)
}

// Publish enqueues a snapshot, dropping it when the queue is full.
func (b *Broadcaster) Publish(snap *port.BotSnapshot) {
	select {
	case <-b.done:
	case b.queue <- snap:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// Dropped returns how many snapshots overflowed the queue.
func (b *Broadcaster) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Broadcaster) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case snap := <-b.queue:
			b.mu.Lock()
			observers := make([]port.Observer, len(b.observers))
			copy(observers, b.observers)
			b.mu.Unlock()

			for _, obs := range observers {
				obs(snap)
			}
		}
	}
}

// Close stops dispatching. Pending queued snapshots are discarded.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}
