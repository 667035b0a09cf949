package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/docstore"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/store"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newStartedCoordinator(t *testing.T, localCache *cache.Cache) (*Coordinator, *mockClient, *countingSubscription, *countingSubscription) {
	t.Helper()
	client := &mockClient{}
	jobsSubscription := &countingSubscription{}
	announcementSubscription := &countingSubscription{}
	client.On("WatchCollection", mock.Anything, store.Query{
		Collection: "jobs",
		OrderBy:    "createdAt",
		Direction:  store.Descending,
	}).Return(jobsSubscription, nil).Once()
	client.On("WatchDocument", mock.Anything, "meta/announcement").Return(announcementSubscription, nil).Once()

	coordinator, err := NewCoordinator(Config{Client: client, Cache: localCache})
	require.NoError(t, err)
	require.NoError(t, coordinator.Start(context.Background()))
	return coordinator, client, jobsSubscription, announcementSubscription
}

func TestNewCoordinatorRequiresDependencies(t *testing.T) {
	_, err := NewCoordinator(Config{Cache: cache.New(cache.Config{})})
	require.ErrorIs(t, err, errMissingClient)
	_, err = NewCoordinator(Config{Client: &mockClient{}})
	require.ErrorIs(t, err, errMissingCache)
}

func TestJobsSnapshotFullyReplacesCache(t *testing.T) {
	localCache := cache.New(cache.Config{})
	localCache.ReplaceJobs([]jobs.Job{{ID: "stale-1"}, {ID: "stale-2"}, {ID: "stale-3"}})

	coordinator, client, _, _ := newStartedCoordinator(t, localCache)
	var rendered [][]jobs.Job
	coordinator.SetRenderHook(func(list []jobs.Job) {
		rendered = append(rendered, list)
	})

	client.onJobs(store.QuerySnapshot{Documents: []store.Document{
		{ID: "1", Fields: store.Fields{"title": "Sales Exec", "raw": "Sales role, walk-in interview", "createdAt": int64(200)}},
		{ID: "2", Fields: store.Fields{"views": int64(5)}},
	}})

	cached := localCache.Jobs()
	require.Len(t, cached, 2)
	require.Equal(t, jobs.Job{ID: "1", Title: "Sales Exec", Raw: "Sales role, walk-in interview", CreatedAt: 200}, cached[0])
	require.Equal(t, jobs.Job{ID: "2", Title: jobs.DefaultTitle, Views: 5}, cached[1])
	require.Len(t, rendered, 1)
	require.Equal(t, cached, rendered[0])

	client.onJobs(store.QuerySnapshot{})
	require.Empty(t, localCache.Jobs())
	require.Len(t, rendered, 2)
	require.Empty(t, rendered[1])
}

func TestJobsSnapshotWithoutRenderHook(t *testing.T) {
	localCache := cache.New(cache.Config{})
	_, client, _, _ := newStartedCoordinator(t, localCache)

	client.onJobs(store.QuerySnapshot{Documents: []store.Document{{ID: "1"}}})
	require.Len(t, localCache.Jobs(), 1)
}

func TestSubscriptionErrorKeepsLastGoodValue(t *testing.T) {
	localCache := cache.New(cache.Config{})
	_, client, jobsSubscription, _ := newStartedCoordinator(t, localCache)

	client.onJobs(store.QuerySnapshot{Documents: []store.Document{{ID: "1"}}})
	client.onJobsError(errors.New("permission denied"))

	require.Len(t, localCache.Jobs(), 1)
	require.Equal(t, 0, jobsSubscription.cancels)
}

func TestAnnouncementToastsOnlyNonEmptyText(t *testing.T) {
	localCache := cache.New(cache.Config{})
	coordinator, client, _, _ := newStartedCoordinator(t, localCache)

	var toasts []string
	coordinator.SetToastHook(func(text string, duration time.Duration) {
		require.Equal(t, AnnouncementToastDuration, duration)
		toasts = append(toasts, text)
	})

	client.onAnnouncement(store.DocumentSnapshot{Exists: true, Fields: store.Fields{"text": "Walk-in drive Friday"}})
	require.Equal(t, "Walk-in drive Friday", localCache.Announcement())

	client.onAnnouncement(store.DocumentSnapshot{Exists: false})
	require.Equal(t, "", localCache.Announcement())

	client.onAnnouncement(store.DocumentSnapshot{Exists: true, Fields: store.Fields{"text": 12}})
	require.Equal(t, "", localCache.Announcement())

	require.Equal(t, []string{"Walk-in drive Friday"}, toasts)
}

func TestStartIsIdempotentAndStopCancels(t *testing.T) {
	localCache := cache.New(cache.Config{})
	coordinator, client, jobsSubscription, announcementSubscription := newStartedCoordinator(t, localCache)

	require.NoError(t, coordinator.Start(context.Background()))
	client.AssertNumberOfCalls(t, "WatchCollection", 1)

	coordinator.Stop()
	coordinator.Stop()
	require.Equal(t, 1, jobsSubscription.cancels)
	require.Equal(t, 1, announcementSubscription.cancels)
}

func TestStartCancelsJobsWhenAnnouncementFails(t *testing.T) {
	client := &mockClient{}
	jobsSubscription := &countingSubscription{}
	client.On("WatchCollection", mock.Anything, mock.Anything).Return(jobsSubscription, nil)
	client.On("WatchDocument", mock.Anything, mock.Anything).Return(nil, errors.New("offline"))

	coordinator, err := NewCoordinator(Config{Client: client, Cache: cache.New(cache.Config{})})
	require.NoError(t, err)
	require.Error(t, coordinator.Start(context.Background()))
	require.Equal(t, 1, jobsSubscription.cancels)
}

func TestFailedCounterLeavesCacheUntouched(t *testing.T) {
	localCache := cache.New(cache.Config{})
	coordinator, client, _, _ := newStartedCoordinator(t, localCache)
	client.onJobs(store.QuerySnapshot{Documents: []store.Document{{ID: "1", Fields: store.Fields{"views": int64(4)}}}})

	client.On("UpdateDocument", mock.Anything, "jobs/1", store.Fields{"views": store.Increment(1)}).
		Return(errors.New("network down")).Once()
	client.On("UpdateDocument", mock.Anything, "jobs/1", store.Fields{"applies": store.Increment(1)}).
		Return(errors.New("network down")).Once()

	coordinator.RecordView(context.Background(), "1")
	coordinator.RecordApply(context.Background(), "1")
	coordinator.RecordView(context.Background(), "  ")
	coordinator.Wait()

	client.AssertExpectations(t)
	cached := localCache.Jobs()
	require.Len(t, cached, 1)
	require.Equal(t, int64(4), cached[0].Views)
	require.Equal(t, int64(0), cached[0].Applies)
}

func TestCounterSurvivesCancelledCallerContext(t *testing.T) {
	localCache := cache.New(cache.Config{})
	coordinator, client, _, _ := newStartedCoordinator(t, localCache)
	client.On("UpdateDocument", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), "jobs/9", mock.Anything).
		Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	coordinator.RecordApply(ctx, "9")
	coordinator.Wait()
	client.AssertExpectations(t)
}

func TestCoordinatorAgainstDocumentStore(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "sync.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&docstore.Document{}, &cache.Entry{}))

	docs, err := docstore.New(docstore.Config{Database: db, IDProvider: docstore.NewUUIDProvider()})
	require.NoError(t, err)
	backend, err := cache.NewGormBackend(db, "page")
	require.NoError(t, err)
	localCache := cache.New(cache.Config{Backend: backend})

	ctx := context.Background()
	require.NoError(t, docs.SetDocument(ctx, "jobs/2", store.Fields{"title": "Remote Dev", "raw": "Remote, full-time, IT", "createdAt": 100}))
	require.NoError(t, docs.SetDocument(ctx, "jobs/1", store.Fields{"title": "Sales Exec", "raw": "Sales role, walk-in interview", "createdAt": 200}))

	var mu sync.Mutex
	var latest []jobs.Job
	renders := make(chan struct{}, 16)
	coordinator, err := NewCoordinator(Config{
		Client: docs,
		Cache:  localCache,
		OnRender: func(list []jobs.Job) {
			mu.Lock()
			latest = list
			mu.Unlock()
			renders <- struct{}{}
		},
	})
	require.NoError(t, err)
	require.NoError(t, coordinator.Start(ctx))
	t.Cleanup(func() {
		coordinator.Stop()
		coordinator.Wait()
		docs.Wait()
		sqlDB.Close()
	})

	waitForRender(t, renders)
	mu.Lock()
	require.Len(t, latest, 2)
	require.Equal(t, "1", latest[0].ID)
	require.Equal(t, "2", latest[1].ID)
	mu.Unlock()

	coordinator.RecordView(ctx, "2")
	coordinator.Wait()

	require.Eventually(t, func() bool {
		cached := localCache.Jobs()
		return len(cached) == 2 && cached[1].Views == 1
	}, 2*time.Second, 10*time.Millisecond)

	reloaded := cache.New(cache.Config{Backend: backend})
	require.Len(t, reloaded.Jobs(), 2)
}

func waitForRender(t *testing.T, renders <-chan struct{}) {
	t.Helper()
	select {
	case <-renders:
	case <-time.After(2 * time.Second):
		t.Fatal("expected render within deadline")
	}
}
