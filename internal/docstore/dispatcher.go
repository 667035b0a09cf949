package docstore

import "sync"

const defaultSignalBuffer = 1

// dispatcher fans change signals out to live queries grouped by topic.
// A signal only says "re-read"; subscribers fetch the current state themselves,
// so dropping a signal into an already signalled buffer loses nothing.
type dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	topic  string
	stream chan struct{}
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultSignalBuffer,
	}
}

func (d *dispatcher) subscribe(topic string) (*subscriber, func()) {
	d.mu.Lock()
	d.nextID++
	entry := &subscriber{
		id:     d.nextID,
		topic:  topic,
		stream: make(chan struct{}, d.bufferSize),
	}
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*subscriber)
	}
	d.subscribers[topic][entry.id] = entry
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unsubscribe(topic, entry.id)
		})
	}
	return entry, cleanup
}

func (d *dispatcher) publish(topics ...string) {
	d.mu.RLock()
	targets := make([]*subscriber, 0)
	for _, topic := range topics {
		for _, entry := range d.subscribers[topic] {
			targets = append(targets, entry)
		}
	}
	d.mu.RUnlock()
	for _, entry := range targets {
		select {
		case entry.stream <- struct{}{}:
		default:
		}
	}
}

func (d *dispatcher) subscriberCount(topic string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[topic])
}

func (d *dispatcher) unsubscribe(topic string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
	d.mu.Unlock()
}

func collectionTopic(collectionPath string) string {
	return "collection:" + collectionPath
}

func documentTopic(documentPath string) string {
	return "document:" + documentPath
}
