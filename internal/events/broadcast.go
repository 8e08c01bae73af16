// Package events implements the bounded, lossy broadcast channel from
// spec §4.7: every Bridge state transition and periodic stats sample
// is published here, and any number of subscribers can listen without
// ever blocking the publisher.
package events

import "sync"

// Kind distinguishes the two event shapes §4.7 defines.
type Kind uint8

const (
	KindStatus Kind = iota
	KindStats
)

// Event is the broadcast envelope. Only the field matching Kind is
// populated.
type Event struct {
	Kind    Kind
	ID      string
	Running bool   // StatusEvent
	Message string // StatusEvent
	Stats   any    // StatsEvent payload (a bridge.Sample when published by a Bridge); any to avoid an import cycle
}

// ringSize bounds each subscriber's mailbox (§4.7). The subscriber set
// itself is guarded by a mutex.
const ringSize = 256

// subscriber is one listener's lossy mailbox. Sends use a non-blocking
// select with a default case, so a slow subscriber drops events
// instead of stalling the publisher — the broadcaster has no notion of
// subscriber backpressure at all, per §4.7.
type subscriber struct {
	ch chan Event
}

// Broadcaster fans Events out to subscribers. The zero value is not
// usable; construct with New.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// New constructs an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new listener and returns its event stream plus
// a cancel function that unregisters it. Callers must call cancel when
// done, or the subscriber (and its channel) leaks.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, ringSize)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish fans ev out to every current subscriber, dropping it for any
// subscriber whose mailbox is full.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// Lossy by design: a full mailbox means a stuck or slow
			// subscriber, not a reason to block every session's Bridge.
		}
	}
}

// Status publishes a StatusEvent.
func (b *Broadcaster) Status(id string, running bool, message string) {
	b.Publish(Event{Kind: KindStatus, ID: id, Running: running, Message: message})
}

// Stats publishes a StatsEvent.
func (b *Broadcaster) Stats(id string, stats any) {
	b.Publish(Event{Kind: KindStats, ID: id, Stats: stats})
}
