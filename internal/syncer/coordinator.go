// Package syncer bridges remote live queries into the local cache.
package syncer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/store"
	"go.uber.org/zap"
)

const (
	// AnnouncementPath is the single document holding the board-wide announcement.
	AnnouncementPath = "meta/announcement"
	// AnnouncementToastDuration is how long an announcement toast stays visible.
	AnnouncementToastDuration = 10 * time.Second

	// AnnouncementTextField holds the announcement text inside AnnouncementPath.
	AnnouncementTextField = "text"
	counterWriteTimeout   = 10 * time.Second
)

var (
	errMissingClient = errors.New("syncer: store client is required")
	errMissingCache  = errors.New("syncer: cache is required")
)

// RenderHook receives the full job sequence after every cache replacement.
type RenderHook func(list []jobs.Job)

// ToastHook receives non-empty announcement text.
type ToastHook func(text string, duration time.Duration)

// Config describes the dependencies of a Coordinator.
type Config struct {
	Client   store.Client
	Cache    *cache.Cache
	Logger   *zap.Logger
	OnRender RenderHook
	OnToast  ToastHook
}

// Coordinator owns the job and announcement subscriptions of one page instance.
type Coordinator struct {
	client store.Client
	cache  *cache.Cache
	logger *zap.Logger

	hooksMu  sync.RWMutex
	onRender RenderHook
	onToast  ToastHook

	mu            sync.Mutex
	subscriptions []store.Subscription

	counters sync.WaitGroup
}

// NewCoordinator validates dependencies and returns an idle Coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
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
	return &Coordinator{
		client:   cfg.Client,
		cache:    cfg.Cache,
		logger:   logger,
		onRender: cfg.OnRender,
		onToast:  cfg.OnToast,
	}, nil
}

// SetRenderHook replaces the render hook; nil unregisters it.
func (c *Coordinator) SetRenderHook(hook RenderHook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onRender = hook
}

// SetToastHook replaces the toast hook; nil unregisters it.
func (c *Coordinator) SetToastHook(hook ToastHook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onToast = hook
}

// Start subscribes to the job collection (newest first) and the announcement document.
// Calling Start on a running coordinator is a no-op.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscriptions) > 0 {
		return nil
	}

	jobsSubscription, err := c.client.WatchCollection(ctx, store.Query{
		Collection: jobs.CollectionName,
		OrderBy:    jobs.FieldCreatedAt,
		Direction:  store.Descending,
	}, c.applyJobsSnapshot, c.subscriptionError(jobs.CollectionName))
	if err != nil {
		return err
	}

	announcementSubscription, err := c.client.WatchDocument(ctx, AnnouncementPath,
		c.applyAnnouncementSnapshot, c.subscriptionError(AnnouncementPath))
	if err != nil {
		jobsSubscription.Cancel()
		return err
	}

	c.subscriptions = []store.Subscription{jobsSubscription, announcementSubscription}
	c.logger.Info("sync coordinator started")
	return nil
}

// Stop cancels both subscriptions. It is safe to call more than once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	subscriptions := c.subscriptions
	c.subscriptions = nil
	c.mu.Unlock()
	for _, subscription := range subscriptions {
		subscription.Cancel()
	}
}

// RecordView increments the remote view counter without waiting for the write.
func (c *Coordinator) RecordView(ctx context.Context, jobID string) {
	c.incrementCounter(ctx, jobID, jobs.FieldViews)
}

// RecordApply increments the remote apply counter without waiting for the write.
func (c *Coordinator) RecordApply(ctx context.Context, jobID string) {
	c.incrementCounter(ctx, jobID, jobs.FieldApplies)
}

// Wait blocks until in-flight counter writes complete.
func (c *Coordinator) Wait() {
	c.counters.Wait()
}

func (c *Coordinator) applyJobsSnapshot(snapshot store.QuerySnapshot) {
	list := make([]jobs.Job, 0, len(snapshot.Documents))
	for _, document := range snapshot.Documents {
		list = append(list, jobs.FromDocument(document))
	}
	c.cache.ReplaceJobs(list)

	c.hooksMu.RLock()
	render := c.onRender
	c.hooksMu.RUnlock()
	if render != nil {
		render(list)
	}
}

func (c *Coordinator) applyAnnouncementSnapshot(snapshot store.DocumentSnapshot) {
	text := ""
	if snapshot.Exists {
		if value, ok := snapshot.Fields[AnnouncementTextField].(string); ok {
			text = value
		}
	}
	c.cache.SetAnnouncement(text)
	if text == "" {
		return
	}

	c.hooksMu.RLock()
	toast := c.onToast
	c.hooksMu.RUnlock()
	if toast != nil {
		toast(text, AnnouncementToastDuration)
	}
}

func (c *Coordinator) subscriptionError(source string) func(error) {
	return func(err error) {
		c.logger.Error("subscription error", zap.String("source", source), zap.Error(err))
	}
}

func (c *Coordinator) incrementCounter(ctx context.Context, jobID, field string) {
	if strings.TrimSpace(jobID) == "" {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), counterWriteTimeout)
	c.counters.Add(1)
	go func() {
		defer c.counters.Done()
		defer cancel()
		defer func() {
			if recovered := recover(); recovered != nil {
				c.logger.Error("counter increment panicked", zap.String("job_id", jobID), zap.Any("panic", recovered))
			}
		}()
		err := c.client.UpdateDocument(writeCtx, jobs.DocumentPath(jobID), store.Fields{field: store.Increment(1)})
		if err != nil {
			c.logger.Debug("counter increment discarded",
				zap.String("job_id", jobID),
				zap.String("field", field),
				zap.Error(err))
		}
	}()
}
