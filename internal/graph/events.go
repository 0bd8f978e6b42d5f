package graph

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventKind classifies a change event.
type EventKind string

const (
	EventNodeAdded           EventKind = "node_added"
	EventNodeUpdated         EventKind = "node_updated"
	EventNodeRemoved         EventKind = "node_removed"
	EventRelationshipAdded   EventKind = "relationship_added"
	EventRelationshipRemoved EventKind = "relationship_removed"
	EventGraphLoaded         EventKind = "graph_loaded"
)

// Event describes one applied mutation. NodeRemoved events list the
// relationships removed by the cascade in RelationshipIDs.
type Event struct {
	Seq             uint64    `json:"seq"`
	Kind            EventKind `json:"kind"`
	NodeIDs         []string  `json:"nodeIds,omitempty"`
	RelationshipIDs []string  `json:"relationshipIds,omitempty"`
	At              time.Time `json:"at"`
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// dispatcher delivers events in seq order. Events are queued while the
// engine lock is held and drained after it is released; a handler that
// mutates the graph only queues more events, which the outer drain delivers.
type dispatcher struct {
	mu         sync.Mutex
	subs       []subscriber
	nextSub    uint64
	seq        uint64
	queue      []Event
	delivering bool
	logger     zerolog.Logger
}

func newDispatcher(logger zerolog.Logger) *dispatcher {
	return &dispatcher{logger: logger}
}

func (d *dispatcher) subscribe(fn func(Event)) func() {
	d.mu.Lock()
	d.nextSub++
	id := d.nextSub
	d.subs = append(d.subs, subscriber{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, s := range d.subs {
				if s.id == id {
					d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// enqueue assigns sequence numbers. Callers hold the engine write lock, so
// seq order matches mutation order.
func (d *dispatcher) enqueue(events ...Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ev := range events {
		d.seq++
		ev.Seq = d.seq
		d.queue = append(d.queue, ev)
	}
}

// drain delivers queued events unless another drain is already running,
// in which case that drain picks them up.
func (d *dispatcher) drain() {
	d.mu.Lock()
	if d.delivering {
		d.mu.Unlock()
		return
	}
	d.delivering = true
	for len(d.queue) > 0 {
		ev := d.queue[0]
		d.queue = d.queue[1:]
		subs := make([]subscriber, len(d.subs))
		copy(subs, d.subs)
		d.mu.Unlock()

		for _, s := range subs {
			d.deliver(s, ev)
		}

		d.mu.Lock()
	}
	d.delivering = false
	d.queue = nil
	d.mu.Unlock()
}

func (d *dispatcher) deliver(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Uint64("seq", ev.Seq).Str("kind", string(ev.Kind)).Msg("event handler panicked")
		}
	}()
	s.fn(ev)
}

func (d *dispatcher) lastSeq() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}
