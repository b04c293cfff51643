package hotreload

import (
	"sync"
	"time"

	"github.com/jingkaihe/skillreg/pkg/events"
)

type pendingEvent struct {
	timer *time.Timer
	op    events.Type
	gen   uint64
}

// debouncer collapses repeated events for the same path into a single
// delayed invocation. A generation counter guards against a timer that fired
// concurrently with being re-armed.
type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	pending map[string]*pendingEvent
	gen     uint64
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:   delay,
		pending: make(map[string]*pendingEvent),
	}
}

// coalesce picks the operation a pending event turns into when another one
// arrives for the same path. A change to a file not yet handled as added is
// still an add.
func coalesce(prev, next events.Type) events.Type {
	if prev == events.TypeAdd && next == events.TypeChange {
		return events.TypeAdd
	}
	return next
}

// schedule (re)arms the timer for path. fire runs on the timer goroutine
// with the coalesced operation.
func (d *debouncer) schedule(path string, op events.Type, fire func(events.Type)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, exists := d.pending[path]; exists {
		prev.timer.Stop()
		op = coalesce(prev.op, op)
	}

	d.gen++
	gen := d.gen
	p := &pendingEvent{op: op, gen: gen}
	p.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current, ok := d.pending[path]
		if !ok || current.gen != gen {
			d.mu.Unlock()
			return
		}
		delete(d.pending, path)
		d.mu.Unlock()

		fire(current.op)
	})
	d.pending[path] = p
}

// Len returns the number of paths waiting on their timer
func (d *debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// stop cancels every pending timer
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.pending {
		p.timer.Stop()
	}
	d.pending = make(map[string]*pendingEvent)
}
