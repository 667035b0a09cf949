package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/board"
)

const (
	RealtimeEventJobs      = string(board.EventJobs)
	RealtimeEventToast     = string(board.EventToast)
	RealtimeEventChat      = string(board.EventChat)
	RealtimeEventNotice    = string(board.EventNotice)
	RealtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "jobboard-backend"
)

// RealtimeMessage is one server-sent event.
type RealtimeMessage struct {
	EventType string
	Payload   any
	Timestamp time.Time
}

// RealtimeDispatcher broadcasts board events to every open event stream.
// Slow subscribers miss messages rather than block the board.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream that lives until ctx ends or cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan RealtimeMessage, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	cleanup := func() {
		d.unregisterSubscriber(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.EventType == "" {
		return
	}
	d.mu.RLock()
	if len(d.subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PublishBoardEvent translates a board event into its wire payload and broadcasts it.
func (d *RealtimeDispatcher) PublishBoardEvent(event board.Event) {
	message := RealtimeMessage{EventType: string(event.Type), Timestamp: event.Timestamp}
	switch event.Type {
	case board.EventJobs:
		if event.Projection == nil {
			return
		}
		message.Payload = newJobsResponse(*event.Projection)
	case board.EventToast, board.EventNotice:
		if event.Toast == nil {
			return
		}
		message.Payload = *event.Toast
	case board.EventChat:
		if event.Chat == nil {
			return
		}
		message.Payload = *event.Chat
	default:
		return
	}
	d.Publish(message)
}

func (d *RealtimeDispatcher) subscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
