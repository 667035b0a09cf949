// Package chat manages the single live chat thread of a page instance.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/store"
	"go.uber.org/zap"
)

const (
	// SubcollectionName is the per-job collection holding chat messages.
	SubcollectionName = "chats"

	FieldText      = "text"
	FieldTimestamp = "timestamp"
	FieldIsMine    = "isMine"

	// NoticeDuration is how long a chat notice stays visible.
	NoticeDuration = 5 * time.Second

	NoticeCannotOpen     = "Cannot open chat"
	NoticeSendFailed     = "Message not sent"
	NoticeDeleteDenied   = "Only admins can delete messages"
	NoticeDeleteFailed   = "Message not deleted"
	NoticeNoActiveThread = "Open a chat first"
)

var (
	ErrMissingJobID       = errors.New("chat: job id is required")
	ErrNoActiveSession    = errors.New("chat: no active session")
	ErrMissingMessageID   = errors.New("chat: message id is required")
	ErrDeleteNotPermitted = errors.New("chat: delete not permitted")
	errMissingClient      = errors.New("chat: store client is required")
)

// Status is the externally visible state of the chat thread.
type Status string

const (
	StatusClosed  Status = "closed"
	StatusLoading Status = "loading"
	StatusEmpty   Status = "empty"
	StatusReady   Status = "ready"
)

// Message is one normalized chat message. Timestamp is epoch millis; a pending server timestamp reads as 0.
type Message struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	IsMine    bool   `json:"isMine"`
}

// View is a snapshot of the thread handed to renderers.
type View struct {
	Status   Status    `json:"status"`
	JobID    string    `json:"jobId,omitempty"`
	Messages []Message `json:"messages"`
}

// RenderHook receives the thread after every state change.
type RenderHook func(view View)

// NoticeHook receives transient user notices.
type NoticeHook func(text string, duration time.Duration)

// DeletePolicy decides whether a message may be deleted.
type DeletePolicy interface {
	AllowDelete(ctx context.Context, jobID, messageID string) bool
}

// DeletePolicyFunc adapts a function to DeletePolicy.
type DeletePolicyFunc func(ctx context.Context, jobID, messageID string) bool

// AllowDelete calls fn.
func (fn DeletePolicyFunc) AllowDelete(ctx context.Context, jobID, messageID string) bool {
	return fn(ctx, jobID, messageID)
}

// DenyAll rejects every deletion.
var DenyAll DeletePolicy = DeletePolicyFunc(func(context.Context, string, string) bool { return false })

// Config describes the dependencies of a Manager.
type Config struct {
	Client       store.Client
	DeletePolicy DeletePolicy
	Logger       *zap.Logger
	OnRender     RenderHook
	OnNotice     NoticeHook
}

// Manager guarantees at most one live chat subscription.
type Manager struct {
	client store.Client
	policy DeletePolicy
	logger *zap.Logger

	hooksMu  sync.RWMutex
	onRender RenderHook
	onNotice NoticeHook

	mu           sync.Mutex
	generation   uint64
	subscription store.Subscription
	view         View
}

// NewManager returns a closed Manager. A nil DeletePolicy denies every deletion.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	policy := cfg.DeletePolicy
	if policy == nil {
		policy = DenyAll
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:   cfg.Client,
		policy:   policy,
		logger:   logger,
		onRender: cfg.OnRender,
		onNotice: cfg.OnNotice,
		view:     closedView(),
	}, nil
}

// SetRenderHook replaces the render hook; nil unregisters it.
func (m *Manager) SetRenderHook(hook RenderHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onRender = hook
}

// SetNoticeHook replaces the notice hook; nil unregisters it.
func (m *Manager) SetNoticeHook(hook NoticeHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onNotice = hook
}

// ThreadPath returns the collection holding the messages of jobID.
func ThreadPath(jobID string) string {
	return store.Join(jobs.CollectionName, jobID, SubcollectionName)
}

// Open cancels any active session and subscribes to the thread of jobID.
func (m *Manager) Open(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		m.notice(NoticeCannotOpen)
		return ErrMissingJobID
	}

	m.mu.Lock()
	previous := m.subscription
	m.subscription = nil
	m.generation++
	generation := m.generation
	m.view = View{Status: StatusLoading, JobID: jobID, Messages: []Message{}}
	loading := m.view
	m.mu.Unlock()

	// Cancel outside the lock: a client may wait for an in-flight callback,
	// which itself takes m.mu. The generation bump already drops its snapshots.
	if previous != nil {
		previous.Cancel()
	}
	m.render(loading)

	subscription, err := m.client.WatchCollection(ctx, store.Query{
		Collection: ThreadPath(jobID),
		OrderBy:    FieldTimestamp,
		Direction:  store.Ascending,
	}, func(snapshot store.QuerySnapshot) {
		m.applySnapshot(generation, jobID, snapshot)
	}, func(err error) {
		m.logger.Error("chat subscription error", zap.String("job_id", jobID), zap.Error(err))
	})
	if err != nil {
		m.mu.Lock()
		current := m.generation == generation
		if current {
			m.view = closedView()
		}
		m.mu.Unlock()
		if current {
			m.render(closedView())
		}
		m.notice(NoticeCannotOpen)
		return err
	}

	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		subscription.Cancel()
		return nil
	}
	m.subscription = subscription
	m.mu.Unlock()
	return nil
}

// Close cancels the active session. It is safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	subscription := m.subscription
	wasOpen := m.view.Status != StatusClosed
	m.subscription = nil
	m.generation++
	m.view = closedView()
	m.mu.Unlock()

	if subscription != nil {
		subscription.Cancel()
	}
	if wasOpen {
		m.render(closedView())
	}
}

// Send appends a message to the active thread. Blank text is ignored.
// The live subscription renders the message once the store echoes it.
func (m *Manager) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	jobID, ok := m.activeJob()
	if !ok {
		m.notice(NoticeNoActiveThread)
		return ErrNoActiveSession
	}
	_, err := m.client.AddDocument(ctx, ThreadPath(jobID), store.Fields{
		FieldText:      text,
		FieldTimestamp: store.ServerTimestamp(),
		FieldIsMine:    true,
	})
	if err != nil {
		m.logger.Warn("chat send failed", zap.String("job_id", jobID), zap.Error(err))
		m.notice(NoticeSendFailed)
		return err
	}
	return nil
}

// Delete removes a message from the active thread when the policy allows it.
func (m *Manager) Delete(ctx context.Context, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return ErrMissingMessageID
	}
	jobID, ok := m.activeJob()
	if !ok {
		return ErrNoActiveSession
	}
	if !m.policy.AllowDelete(ctx, jobID, messageID) {
		m.notice(NoticeDeleteDenied)
		return ErrDeleteNotPermitted
	}
	if err := m.client.DeleteDocument(ctx, store.Join(ThreadPath(jobID), messageID)); err != nil {
		m.logger.Warn("chat delete failed", zap.String("job_id", jobID), zap.String("message_id", messageID), zap.Error(err))
		m.notice(NoticeDeleteFailed)
		return err
	}
	return nil
}

// State returns a copy of the current thread view.
func (m *Manager) State() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyView(m.view)
}

func (m *Manager) activeJob() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.view.Status == StatusClosed {
		return "", false
	}
	return m.view.JobID, true
}

func (m *Manager) applySnapshot(generation uint64, jobID string, snapshot store.QuerySnapshot) {
	messages := make([]Message, 0, len(snapshot.Documents))
	for _, document := range snapshot.Documents {
		messages = append(messages, FromDocument(document))
	}
	status := StatusReady
	if len(messages) == 0 {
		status = StatusEmpty
	}

	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		m.logger.Debug("stale chat snapshot dropped", zap.String("job_id", jobID))
		return
	}
	m.view = View{Status: status, JobID: jobID, Messages: messages}
	next := copyView(m.view)
	m.mu.Unlock()
	m.render(next)
}

func (m *Manager) render(view View) {
	m.hooksMu.RLock()
	hook := m.onRender
	m.hooksMu.RUnlock()
	if hook != nil {
		hook(view)
	}
}

func (m *Manager) notice(text string) {
	m.hooksMu.RLock()
	hook := m.onNotice
	m.hooksMu.RUnlock()
	if hook != nil {
		hook(text, NoticeDuration)
	}
}

func closedView() View {
	return View{Status: StatusClosed, Messages: []Message{}}
}

func copyView(view View) View {
	messages := make([]Message, len(view.Messages))
	copy(messages, view.Messages)
	view.Messages = messages
	return view
}
