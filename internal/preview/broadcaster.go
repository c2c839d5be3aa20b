// Package preview implements the live-preview broadcaster (C14): a
// per-thread multi-subscriber fan-out over workflow.Delta, bridging C8's
// committed writes to external transports (C14's own wsbridge, or a test
// harness). Grounded on the teacher's runtime/agent/hooks.Bus fan-out
// shape, adapted from synchronous fail-fast delivery (a slow subscriber
// blocks the publisher, and a subscriber error halts delivery to the
// rest) to a buffered-channel-per-subscriber model with backpressure
// drop: a preview client must never be able to stall a workflow thread.
package preview

import (
	"context"
	"sync"

	"github.com/lawercase/petition-orchestrator/internal/workflow"
)

// Envelope is one message delivered to a subscriber: either a delta or a
// terminal slow_consumer notice telling the subscriber it has been
// dropped and must resubscribe (the spec's "dropped with a slow_consumer
// event").
type Envelope struct {
	Sequence     uint64
	Delta        workflow.Delta
	SlowConsumer bool
}

// Subscription is a live handle returned by Broadcaster.Subscribe. C
// receives a snapshot first (if one was available at subscribe time),
// then every subsequent delta for the thread, in commit order.
type Subscription struct {
	C <-chan Envelope

	broadcaster *Broadcaster
	threadID    string
	id          uint64
}

// Close unregisters the subscription. Idempotent.
func (s *Subscription) Close() {
	s.broadcaster.unsubscribe(s.threadID, s.id)
}

type subscriber struct {
	id     uint64
	ch     chan Envelope
	closed bool
}

// Broadcaster fans workflow.Delta out to per-thread subscribers. It
// implements store.Broadcaster so it can be wired directly into a
// workflow-state store as its notify sink.
type Broadcaster struct {
	bufferSize int

	mu      sync.Mutex
	seq     map[string]uint64
	subs    map[string]map[uint64]*subscriber
	nextID  uint64
	snapper Snapshotter
}

// Snapshotter supplies the current state for a thread so a new
// subscriber's first message is a full snapshot rather than an empty
// wait for the next delta.
type Snapshotter interface {
	Load(ctx context.Context, threadID string) (workflow.State, error)
}

// defaultBufferSize bounds how many undelivered envelopes a subscriber
// may accumulate before being dropped as a slow consumer.
const defaultBufferSize = 32

// New returns a Broadcaster. snapper may be nil, in which case Subscribe
// never sends an initial snapshot envelope.
func New(snapper Snapshotter) *Broadcaster {
	return &Broadcaster{
		bufferSize: defaultBufferSize,
		seq:        make(map[string]uint64),
		subs:       make(map[string]map[uint64]*subscriber),
		snapper:    snapper,
	}
}

// Publish delivers delta to every subscriber of delta.ThreadID, assigning
// it the thread's next monotonic sequence number. A subscriber whose
// buffer is full is dropped: its oldest undelivered envelope is replaced
// by one final slow_consumer envelope and its channel is closed.
func (b *Broadcaster) Publish(ctx context.Context, delta workflow.Delta) {
	b.mu.Lock()
	b.seq[delta.ThreadID]++
	seq := b.seq[delta.ThreadID]
	subs := b.subs[delta.ThreadID]
	var dropped []*subscriber
	for _, sub := range subs {
		select {
		case sub.ch <- Envelope{Sequence: seq, Delta: delta}:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		b.dropLocked(delta.ThreadID, sub)
	}
	b.mu.Unlock()
}

// dropLocked must be called with b.mu held. It queues a slow_consumer
// envelope, discarding the oldest buffered envelope if the buffer is
// full, and closes the subscriber's channel.
func (b *Broadcaster) dropLocked(threadID string, sub *subscriber) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- Envelope{SlowConsumer: true}:
	default:
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- Envelope{SlowConsumer: true}:
		default:
		}
	}
	sub.closed = true
	close(sub.ch)
	delete(b.subs[threadID], sub.id)
}

// Subscribe registers a new subscriber for threadID and returns a
// Subscription whose channel delivers a snapshot envelope (sequence 0,
// if a Snapshotter was configured and Load succeeds) followed by every
// delta committed to threadID from this point on.
func (b *Broadcaster) Subscribe(ctx context.Context, threadID string) Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, ch: make(chan Envelope, b.bufferSize)}
	if b.subs[threadID] == nil {
		b.subs[threadID] = make(map[uint64]*subscriber)
	}
	b.subs[threadID][id] = sub
	b.mu.Unlock()

	if b.snapper != nil {
		if state, err := b.snapper.Load(ctx, threadID); err == nil {
			select {
			case sub.ch <- Envelope{Delta: workflow.Delta{ThreadID: threadID, Kind: "full", State: state}}:
			default:
			}
		}
	}

	return Subscription{C: sub.ch, broadcaster: b, threadID: threadID, id: id}
}

func (b *Broadcaster) unsubscribe(threadID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[threadID]
	if subs == nil {
		return
	}
	if sub, ok := subs[id]; ok && !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subs, threadID)
	}
}

// SubscriberCount reports how many live subscriptions exist for
// threadID, for tests and diagnostics.
func (b *Broadcaster) SubscriberCount(threadID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[threadID])
}
