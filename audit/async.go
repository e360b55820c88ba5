package audit

import (
	"sync"
	"sync/atomic"
	"time"
)

type record struct {
	identity string
	address  string
	at       time.Time
}

// Async hands records to a Store from a single background goroutine.
// Record never blocks: when the queue is full the record is dropped and
// counted.
type Async struct {
	store    Store
	queue    chan record
	onError  func(error)
	dropped  atomic.Int64
	finished chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the writer. It runs until Close, so records made while
// in-flight requests finish during shutdown are still written.
func NewAsync(store Store, size int, onError func(error)) *Async {
	if size <= 0 {
		size = 256
	}

	a := &Async{
		store:    store,
		queue:    make(chan record, size),
		onError:  onError,
		finished: make(chan struct{}),
	}

	go a.run()

	return a
}

// Record implements chat.Tracker.
func (a *Async) Record(identity, address string) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.dropped.Add(1)
		return
	}

	select {
	case a.queue <- record{identity: identity, address: address, at: time.Now().UTC()}:
	default:
		a.dropped.Add(1)
	}
}

// Dropped is the number of records discarded because the queue was full
// or the writer had stopped.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting records and waits until every queued record has
// been written.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	<-a.finished
}

func (a *Async) run() {
	defer close(a.finished)

	for r := range a.queue {
		a.write(r)
	}
}

func (a *Async) write(r record) {
	if err := a.store.Record(r.identity, r.address, r.at); err != nil && a.onError != nil {
		a.onError(err)
	}
}
