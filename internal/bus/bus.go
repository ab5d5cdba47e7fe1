package bus

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sessiond/pkg/types"
)

// DefaultQueueCapacity is used when a subscriber does not request its own.
const DefaultQueueCapacity = 64

// Config encapsulates Bus construction tunables.
type Config struct {
	// QueueCapacity bounds each subscriber queue. <=0 selects the default.
	QueueCapacity int
	Logger        zerolog.Logger
}

// Bus is a topic-based publish/subscribe hub. Publishers are never blocked by
// slow subscribers: each subscription owns a bounded queue and overflow drops
// the oldest undelivered event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[types.Topic]map[string]*Subscription
	closed bool

	defaultCap int
	log        zerolog.Logger

	published uint64
	dropped   uint64
	perTopic  map[types.Topic]uint64
}

// Subscription is the handle returned by Subscribe. Events are consumed from
// the channel returned by Events; the handle is passed back to Unsubscribe on
// component teardown.
type Subscription struct {
	ID    string
	Topic types.Topic

	mu     sync.Mutex // serializes drop-then-send against concurrent publishers
	ch     chan types.Event
	closed bool
}

// Events returns the receive side of the subscriber queue. The channel is
// closed by Unsubscribe and by Bus.Close.
func (s *Subscription) Events() <-chan types.Event { return s.ch }

// New constructs a Bus from Config, applying defaults for unset fields.
func New(cfg Config) *Bus {
	capQ := cfg.QueueCapacity
	if capQ <= 0 {
		capQ = DefaultQueueCapacity
	}
	b := &Bus{
		subs:       make(map[types.Topic]map[string]*Subscription),
		defaultCap: capQ,
		log:        cfg.Logger,
		perTopic:   make(map[types.Topic]uint64, len(types.Topics())),
	}
	for _, t := range types.Topics() {
		b.perTopic[t] = 0
	}
	return b
}

// Subscribe registers a new subscriber queue on topic. capacity <= 0 selects
// the bus default.
func (b *Bus) Subscribe(topic types.Topic, capacity int) (*Subscription, error) {
	if !topic.Valid() {
		return nil, unknownTopicError{topic: topic}
	}
	if capacity <= 0 {
		capacity = b.defaultCap
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, busClosedError{}
	}
	sub := &Subscription{
		ID:    uuid.NewString(),
		Topic: topic,
		ch:    make(chan types.Event, capacity),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*Subscription)
	}
	b.subs[topic][sub.ID] = sub
	return sub, nil
}

// Unsubscribe removes the subscription and closes its queue. Undelivered
// events are discarded.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return subscriberNotFoundError{id: ""}
	}
	b.mu.Lock()
	group, ok := b.subs[sub.Topic]
	if ok {
		_, ok = group[sub.ID]
	}
	if !ok {
		b.mu.Unlock()
		return subscriberNotFoundError{id: sub.ID}
	}
	delete(group, sub.ID)
	b.mu.Unlock()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	return nil
}

// Publish delivers an event to every current subscriber of topic, in publish
// order per subscriber. Full queues drop their oldest event; each drop of a
// non-error event is reported as a TopicError event. Publish never blocks on
// a slow consumer.
func (b *Bus) Publish(topic types.Topic, payload any, source string) {
	if !topic.Valid() {
		b.log.Warn().Str("topic", string(topic)).Msg("publish to unknown topic dropped")
		return
	}
	ev := types.Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    source,
	}

	var drops int
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.published++
	b.perTopic[topic]++
	eventsPublished.WithLabelValues(string(topic)).Inc()
	targets := make([]*Subscription, 0, len(b.subs[topic]))
	for _, sub := range b.subs[topic] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if sub.deliver(ev) {
			drops++
		}
	}
	if drops == 0 {
		return
	}

	b.mu.Lock()
	b.dropped += uint64(drops)
	b.mu.Unlock()
	eventsDropped.WithLabelValues(string(topic)).Add(float64(drops))
	b.log.Warn().Str("topic", string(topic)).Int("dropped", drops).Msg("subscriber queue overflow")
	// Dropped error events are counted but never re-reported: reporting them
	// recursively could never terminate against a stalled error subscriber.
	if topic != types.TopicError {
		for i := 0; i < drops; i++ {
			b.Publish(types.TopicError, types.ErrorPayload{
				Reason:    types.ReasonBusOverflow,
				Component: "bus",
				Detail:    "oldest event dropped on topic " + string(topic),
			}, "bus")
		}
	}
}

// deliver enqueues ev on the subscriber queue, evicting the oldest queued
// event when full. Reports whether an eviction happened.
func (s *Subscription) deliver(ev types.Event) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- ev:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			dropped = true
		default:
			// Consumer drained concurrently; retry the send.
		}
	}
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *Bus) SubscriberCount(topic types.Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Status returns a point-in-time projection of bus counters.
func (b *Bus) Status() types.BusStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := types.BusStatus{
		Published: b.published,
		Dropped:   b.dropped,
	}
	for _, group := range b.subs {
		st.Subscribers += len(group)
	}
	st.Topics = make([]types.TopicCount, 0, len(b.perTopic))
	for t, n := range b.perTopic {
		st.Topics = append(st.Topics, types.TopicCount{Topic: string(t), Published: n})
	}
	sort.Slice(st.Topics, func(i, j int) bool { return st.Topics[i].Topic < st.Topics[j].Topic })
	return st
}

// Close shuts down the bus and closes every subscriber queue. Publish and
// Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, group := range b.subs {
		for _, sub := range group {
			all = append(all, sub)
		}
	}
	b.subs = make(map[types.Topic]map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
	}
}
