// Package board holds the session state of one job board page instance.
package board

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/store"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/syncer"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/view"
	"go.uber.org/zap"
)

// EventType names what changed on the board.
type EventType string

const (
	EventJobs   EventType = "jobs"
	EventToast  EventType = "toast"
	EventChat   EventType = "chat"
	EventNotice EventType = "notice"
)

var (
	errMissingClient = errors.New("board: store client is required")
	errMissingCache  = errors.New("board: cache is required")
)

// Toast is a transient message with its display duration.
type Toast struct {
	Text       string `json:"text"`
	DurationMS int64  `json:"durationMs"`
}

// Event is delivered to the listener after every state change. Exactly one payload is set.
type Event struct {
	Type       EventType        `json:"type"`
	Projection *view.Projection `json:"projection,omitempty"`
	Toast      *Toast           `json:"toast,omitempty"`
	Chat       *chat.View       `json:"chat,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Listener receives board events.
type Listener func(event Event)

// Config describes the dependencies of a Board.
type Config struct {
	Client       store.Client
	Cache        *cache.Cache
	DeletePolicy chat.DeletePolicy
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Board owns the search text, view mode, sync coordinator and chat manager of one page instance.
type Board struct {
	cache       *cache.Cache
	coordinator *syncer.Coordinator
	chat        *chat.Manager
	logger      *zap.Logger
	clock       func() time.Time

	mu     sync.RWMutex
	search string
	mode   view.Mode

	listenerMu sync.RWMutex
	listener   Listener
}

// New wires a Board. A nil DeletePolicy falls back to the advisory cache admin flag.
func New(cfg Config) (*Board, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	policy := cfg.DeletePolicy
	if policy == nil {
		policy = chat.AdminFlagPolicy(cfg.Cache)
	}

	b := &Board{
		cache:  cfg.Cache,
		logger: logger,
		clock:  clock,
		mode:   view.ModeHome,
	}

	coordinator, err := syncer.NewCoordinator(syncer.Config{
		Client:   cfg.Client,
		Cache:    cfg.Cache,
		Logger:   logger.Named("syncer"),
		OnRender: b.handleJobs,
		OnToast:  b.handleToast,
	})
	if err != nil {
		return nil, err
	}
	manager, err := chat.NewManager(chat.Config{
		Client:       cfg.Client,
		DeletePolicy: policy,
		Logger:       logger.Named("chat"),
		OnRender:     b.handleChat,
		OnNotice:     b.handleNotice,
	})
	if err != nil {
		return nil, err
	}
	b.coordinator = coordinator
	b.chat = manager
	return b, nil
}

// SetListener replaces the event listener; nil unregisters it.
func (b *Board) SetListener(listener Listener) {
	b.listenerMu.Lock()
	defer b.listenerMu.Unlock()
	b.listener = listener
}

// Start begins syncing jobs and the announcement.
func (b *Board) Start(ctx context.Context) error {
	return b.coordinator.Start(ctx)
}

// Stop tears down every subscription and waits for in-flight counter writes.
func (b *Board) Stop() {
	b.chat.Close()
	b.coordinator.Stop()
	b.coordinator.Wait()
}

// Projection renders the cached jobs with the current search text and mode.
func (b *Board) Projection() view.Projection {
	b.mu.RLock()
	search, mode := b.search, b.mode
	b.mu.RUnlock()
	return b.Query(search, mode)
}

// Query renders the cached jobs with an explicit search text and mode, leaving board state alone.
func (b *Board) Query(search string, mode view.Mode) view.Projection {
	return view.Project(view.Input{
		Jobs:      b.cache.Jobs(),
		Search:    search,
		Mode:      mode,
		Favorites: b.cache.Favorites(),
	})
}

// SetSearch stores the search text and re-renders.
func (b *Board) SetSearch(search string) view.Projection {
	b.mu.Lock()
	b.search = search
	b.mu.Unlock()
	return b.rerender()
}

// SetMode switches between the home and favorites lists and re-renders.
func (b *Board) SetMode(mode view.Mode) view.Projection {
	b.mu.Lock()
	b.mode = view.ParseMode(string(mode))
	b.mu.Unlock()
	return b.rerender()
}

// Search returns the current search text and mode.
func (b *Board) Search() (string, view.Mode) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.search, b.mode
}

// ToggleFavorite flips the favorite flag of jobID, re-renders and reports the new flag.
func (b *Board) ToggleFavorite(jobID string) bool {
	favorite := b.cache.ToggleFavorite(jobID)
	b.rerender()
	return favorite
}

// Announcement returns the cached announcement text.
func (b *Board) Announcement() string {
	return b.cache.Announcement()
}

// RecordView counts a job detail view. Fire-and-forget.
func (b *Board) RecordView(ctx context.Context, jobID string) {
	b.coordinator.RecordView(ctx, jobID)
}

// RecordApply counts an apply action. Fire-and-forget.
func (b *Board) RecordApply(ctx context.Context, jobID string) {
	b.coordinator.RecordApply(ctx, jobID)
}

// OpenChat makes jobID the single active chat thread.
func (b *Board) OpenChat(ctx context.Context, jobID string) error {
	return b.chat.Open(ctx, jobID)
}

// CloseChat tears down the active chat thread.
func (b *Board) CloseChat() {
	b.chat.Close()
}

// SendMessage posts text to the active chat thread.
func (b *Board) SendMessage(ctx context.Context, text string) error {
	return b.chat.Send(ctx, text)
}

// DeleteMessage removes a message from the active chat thread.
func (b *Board) DeleteMessage(ctx context.Context, messageID string) error {
	return b.chat.Delete(ctx, messageID)
}

// ChatState returns the active chat thread.
func (b *Board) ChatState() chat.View {
	return b.chat.State()
}

func (b *Board) rerender() view.Projection {
	projection := b.Projection()
	b.emit(Event{Type: EventJobs, Projection: &projection})
	return projection
}

func (b *Board) handleJobs([]jobs.Job) {
	b.rerender()
}

func (b *Board) handleToast(text string, duration time.Duration) {
	b.emit(Event{Type: EventToast, Toast: &Toast{Text: text, DurationMS: duration.Milliseconds()}})
}

func (b *Board) handleNotice(text string, duration time.Duration) {
	b.emit(Event{Type: EventNotice, Toast: &Toast{Text: text, DurationMS: duration.Milliseconds()}})
}

func (b *Board) handleChat(state chat.View) {
	b.emit(Event{Type: EventChat, Chat: &state})
}

func (b *Board) emit(event Event) {
	event.Timestamp = b.clock().UTC()
	b.listenerMu.RLock()
	listener := b.listener
	b.listenerMu.RUnlock()
	if listener == nil {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Error("board listener panicked", zap.String("event", string(event.Type)), zap.Any("panic", recovered))
		}
	}()
	listener(event)
}
