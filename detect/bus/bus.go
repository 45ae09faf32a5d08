// Package bus fans detections out to websocket subscribers. Delivery is
// at-most-once: every subscriber owns a bounded FIFO queue, publishing never
// blocks, and when a queue is full the oldest frame is dropped to make room
// for the newest.
package bus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apisentinel/apisentinel/detect"
)

// Subscription is one subscriber's end of the bus. Receive from C until it
// is closed; Close detaches the subscriber and closes C.
type Subscription struct {
	ID string
	C  <-chan *detect.Detection

	bus *Bus
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.ID)
}

// Bus is the detection fan-out hub. Safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]chan *detect.Detection
	depth   int
	metrics *detect.Metrics
	log     *logrus.Entry
}

// New returns a hub whose subscriber queues hold depth frames each.
func New(depth int, metrics *detect.Metrics) *Bus {
	if depth < 1 {
		depth = detect.DefaultSubscriberQueueDepth
	}
	return &Bus{
		subs:    make(map[string]chan *detect.Detection),
		depth:   depth,
		metrics: metrics,
		log:     logrus.WithField("component", "bus"),
	}
}

// Subscribe attaches a new subscriber with a fresh session id.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan *detect.Detection, b.depth)
	id := uuid.NewString()

	b.mu.Lock()
	b.subs[id] = ch
	n := len(b.subs)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.BusSubscribers.Set(float64(n))
	}
	b.log.WithField("session", id).Debugf("subscribed (%d active)", n)
	return &Subscription{ID: id, C: ch, bus: b}
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	n := len(b.subs)
	b.mu.Unlock()

	if ok {
		if b.metrics != nil {
			b.metrics.BusSubscribers.Set(float64(n))
		}
		b.log.WithField("session", id).Debugf("unsubscribed (%d active)", n)
	}
}

// Publish offers the detection to every subscriber queue. Slow subscribers
// lose their oldest queued frame; Publish itself never blocks. Frames keep
// publish order per subscriber.
func (b *Bus) Publish(d *detect.Detection) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- d:
			continue
		default:
		}

		// Queue full: drop the oldest frame, then retry once.
		select {
		case <-ch:
			b.countDrop()
		default:
		}
		select {
		case ch <- d:
		default:
			b.countDrop()
		}
	}
}

func (b *Bus) countDrop() {
	if b.metrics != nil {
		b.metrics.BusDroppedFrames.Inc()
	}
}

// SubscriberCount reports the number of attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
