package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scrape loop.
const (
	TypeCycleStarted  = "cycle.started"
	TypeCycleFinished = "cycle.finished"
	TypeCycleFailed   = "cycle.failed"
	TypeItemSucceeded = "item.succeeded"
	TypeItemFailed    = "item.failed"
	TypeWaiting       = "cycle.waiting"
	TypeStopping      = "service.stopping"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// CycleData accompanies cycle.* events.
type CycleData struct {
	Cycle     int
	CycleID   string
	Items     int
	Attempted int
	Failed    int
	Skipped   int
	Err       string
}

// ItemData accompanies item.* events.
type ItemData struct {
	Cycle   int
	Channel string
	Took    time.Duration
	Err     string
}

// WaitData accompanies cycle.waiting events.
type WaitData struct {
	Cycle    int
	Duration time.Duration
	Cooldown bool
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus that owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop returns a bus that drops everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch; recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
