package engine

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/wesm/argh/internal/models"
)

// EventKind identifies what an Event announces
type EventKind int

const (
	// ItemsChanged is emitted once per repository whose items were written
	ItemsChanged EventKind = iota + 1
	// SectionsRecomputed is emitted after every published view
	SectionsRecomputed
)

func (k EventKind) String() string {
	switch k {
	case ItemsChanged:
		return "items_changed"
	case SectionsRecomputed:
		return "sections_recomputed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to subscribers after a view is published
type Event struct {
	Kind       EventKind
	Generation uint64
	// RepoID and Keys are set for ItemsChanged.
	RepoID int64
	Keys   []models.ItemKey
	// Badge and Counts are set for SectionsRecomputed.
	Badge  int
	Counts map[models.Section]int
}

// Bus fans events out to subscribers. Slow subscribers lose events
// rather than block the writer.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

// NewBus creates an empty Bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes it
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logger.WithFields(log.Fields{"subscriber": id, "event": ev.Kind.String()}).Debug("Dropping event for slow subscriber")
		}
	}
}

// Close closes every subscription
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
