package chat

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/docstore"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/store"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordedWatch struct {
	query      store.Query
	onSnapshot func(store.QuerySnapshot)
	cancels    int
}

type fakeClient struct {
	mu       sync.Mutex
	watches  []*recordedWatch
	added    []store.Fields
	deleted  []string
	addErr   error
	watchErr error
}

func (f *fakeClient) WatchCollection(_ context.Context, query store.Query, onSnapshot func(store.QuerySnapshot), _ func(error)) (store.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	watch := &recordedWatch{query: query, onSnapshot: onSnapshot}
	f.watches = append(f.watches, watch)
	return store.SubscriptionFunc(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		watch.cancels++
	}), nil
}

func (f *fakeClient) WatchDocument(context.Context, string, func(store.DocumentSnapshot), func(error)) (store.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) AddDocument(_ context.Context, collectionPath string, fields store.Fields) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return "", f.addErr
	}
	f.added = append(f.added, fields)
	return collectionPath + "-id", nil
}

func (f *fakeClient) SetDocument(context.Context, string, store.Fields) error {
	return nil
}

func (f *fakeClient) UpdateDocument(context.Context, string, store.Fields) error {
	return nil
}

func (f *fakeClient) DeleteDocument(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeClient) liveWatches() []*recordedWatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	live := make([]*recordedWatch, 0, len(f.watches))
	for _, watch := range f.watches {
		if watch.cancels == 0 {
			live = append(live, watch)
		}
	}
	return live
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []string
}

func (r *noticeRecorder) record(text string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, text)
}

func (r *noticeRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

func newTestManager(t *testing.T, client store.Client, policy DeletePolicy) (*Manager, *noticeRecorder) {
	t.Helper()
	notices := &noticeRecorder{}
	manager, err := NewManager(Config{Client: client, DeletePolicy: policy, OnNotice: notices.record})
	require.NoError(t, err)
	return manager, notices
}

func TestOpenRequiresJobID(t *testing.T) {
	client := &fakeClient{}
	manager, notices := newTestManager(t, client, nil)

	require.ErrorIs(t, manager.Open(context.Background(), "  "), ErrMissingJobID)
	require.Equal(t, []string{NoticeCannotOpen}, notices.all())
	require.Empty(t, client.watches)
	require.Equal(t, StatusClosed, manager.State().Status)
}

func TestOpenSubscribesOldestFirstAndShowsLoading(t *testing.T) {
	client := &fakeClient{}
	manager, _ := newTestManager(t, client, nil)

	require.NoError(t, manager.Open(context.Background(), "J1"))
	require.Len(t, client.watches, 1)
	require.Equal(t, store.Query{Collection: "jobs/J1/chats", OrderBy: "timestamp", Direction: store.Ascending}, client.watches[0].query)

	state := manager.State()
	require.Equal(t, StatusLoading, state.Status)
	require.Equal(t, "J1", state.JobID)
	require.Empty(t, state.Messages)
}

func TestEmptySnapshotIsDistinctFromLoading(t *testing.T) {
	client := &fakeClient{}
	manager, _ := newTestManager(t, client, nil)
	var rendered []Status
	manager.SetRenderHook(func(view View) { rendered = append(rendered, view.Status) })

	require.NoError(t, manager.Open(context.Background(), "J1"))
	client.watches[0].onSnapshot(store.QuerySnapshot{})

	require.Equal(t, StatusEmpty, manager.State().Status)
	require.Equal(t, []Status{StatusLoading, StatusEmpty}, rendered)
}

func TestSnapshotFullyReplacesMessages(t *testing.T) {
	client := &fakeClient{}
	manager, _ := newTestManager(t, client, nil)
	require.NoError(t, manager.Open(context.Background(), "J1"))

	watch := client.watches[0]
	watch.onSnapshot(store.QuerySnapshot{Documents: []store.Document{
		{ID: "m1", Fields: store.Fields{"text": "hi", "timestamp": int64(10), "isMine": true}},
		{ID: "m2", Fields: store.Fields{"text": "hello", "timestamp": int64(20)}},
	}})
	require.Equal(t, []Message{
		{ID: "m1", Text: "hi", Timestamp: 10, IsMine: true},
		{ID: "m2", Text: "hello", Timestamp: 20},
	}, manager.State().Messages)

	watch.onSnapshot(store.QuerySnapshot{Documents: []store.Document{
		{ID: "m2", Fields: store.Fields{"text": "hello", "timestamp": int64(20)}},
	}})
	state := manager.State()
	require.Equal(t, StatusReady, state.Status)
	require.Equal(t, []Message{{ID: "m2", Text: "hello", Timestamp: 20}}, state.Messages)
}

func TestOpeningSecondJobCancelsFirstAndDropsItsSnapshots(t *testing.T) {
	client := &fakeClient{}
	manager, _ := newTestManager(t, client, nil)
	var rendered []View
	manager.SetRenderHook(func(view View) { rendered = append(rendered, view) })

	require.NoError(t, manager.Open(context.Background(), "J1"))
	first := client.watches[0]
	require.NoError(t, manager.Open(context.Background(), "J2"))

	live := client.liveWatches()
	require.Len(t, live, 1)
	require.Equal(t, "jobs/J2/chats", live[0].query.Collection)
	require.Equal(t, 1, first.cancels)

	first.onSnapshot(store.QuerySnapshot{Documents: []store.Document{{ID: "stale", Fields: store.Fields{"text": "from J1"}}}})
	state := manager.State()
	require.Equal(t, "J2", state.JobID)
	require.Equal(t, StatusLoading, state.Status)
	for _, view := range rendered {
		for _, message := range view.Messages {
			require.NotEqual(t, "stale", message.ID)
		}
	}
}

// drainingClient delivers one last snapshot from inside Cancel and waits for it,
// like a client that joins its in-flight callback before returning.
type drainingClient struct {
	*fakeClient
}

func (c drainingClient) WatchCollection(ctx context.Context, query store.Query, onSnapshot func(store.QuerySnapshot), onError func(error)) (store.Subscription, error) {
	if _, err := c.fakeClient.WatchCollection(ctx, query, onSnapshot, onError); err != nil {
		return nil, err
	}
	return store.SubscriptionFunc(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			onSnapshot(store.QuerySnapshot{Documents: []store.Document{{ID: "late", Fields: store.Fields{FieldText: "from the old thread"}}}})
		}()
		<-done
	}), nil
}

func TestReopenCancelsPreviousThreadOutsideTheLock(t *testing.T) {
	manager, _ := newTestManager(t, drainingClient{&fakeClient{}}, nil)
	ctx := context.Background()
	require.NoError(t, manager.Open(ctx, "J1"))

	done := make(chan error, 1)
	go func() { done <- manager.Open(ctx, "J2") }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reopening blocked on a snapshot callback of the previous thread")
	}

	state := manager.State()
	require.Equal(t, StatusLoading, state.Status)
	require.Equal(t, "J2", state.JobID)
	require.Empty(t, state.Messages)
	manager.Close()
}

func TestCloseIsIdempotentAndDropsLateSnapshots(t *testing.T) {
	client := &fakeClient{}
	manager, _ := newTestManager(t, client, nil)
	renders := 0
	manager.SetRenderHook(func(View) { renders++ })

	manager.Close()
	require.Equal(t, 0, renders)

	require.NoError(t, manager.Open(context.Background(), "J1"))
	watch := client.watches[0]
	manager.Close()
	manager.Close()

	require.Equal(t, 1, watch.cancels)
	require.Equal(t, 2, renders)
	watch.onSnapshot(store.QuerySnapshot{Documents: []store.Document{{ID: "late"}}})
	require.Equal(t, StatusClosed, manager.State().Status)
	require.Empty(t, manager.State().Messages)
	require.Equal(t, 2, renders)
}

func TestSendAppendsWithServerTimestamp(t *testing.T) {
	client := &fakeClient{}
	manager, _ := newTestManager(t, client, nil)
	require.NoError(t, manager.Open(context.Background(), "J1"))

	require.NoError(t, manager.Send(context.Background(), "   "))
	require.Empty(t, client.added)

	require.NoError(t, manager.Send(context.Background(), "  Is this still open?  "))
	require.Equal(t, []store.Fields{{
		"text":      "Is this still open?",
		"timestamp": store.ServerTimestamp(),
		"isMine":    true,
	}}, client.added)
	require.Equal(t, StatusLoading, manager.State().Status)
}

func TestSendWithoutSession(t *testing.T) {
	manager, notices := newTestManager(t, &fakeClient{}, nil)
	require.ErrorIs(t, manager.Send(context.Background(), "hello"), ErrNoActiveSession)
	require.Equal(t, []string{NoticeNoActiveThread}, notices.all())
}

func TestSendFailureRaisesNotice(t *testing.T) {
	client := &fakeClient{addErr: errors.New("offline")}
	manager, notices := newTestManager(t, client, nil)
	require.NoError(t, manager.Open(context.Background(), "J1"))

	require.EqualError(t, manager.Send(context.Background(), "hello"), "offline")
	require.Equal(t, []string{NoticeSendFailed}, notices.all())
}

func TestOpenFailureLeavesSessionClosed(t *testing.T) {
	client := &fakeClient{watchErr: errors.New("denied")}
	manager, notices := newTestManager(t, client, nil)

	require.Error(t, manager.Open(context.Background(), "J1"))
	require.Equal(t, StatusClosed, manager.State().Status)
	require.Equal(t, []string{NoticeCannotOpen}, notices.all())
}

func TestDeleteFollowsAdminFlag(t *testing.T) {
	client := &fakeClient{}
	localCache := cache.New(cache.Config{})
	manager, notices := newTestManager(t, client, AdminFlagPolicy(localCache))
	require.NoError(t, manager.Open(context.Background(), "J1"))

	require.ErrorIs(t, manager.Delete(context.Background(), "m1"), ErrDeleteNotPermitted)
	require.Equal(t, []string{NoticeDeleteDenied}, notices.all())
	require.Empty(t, client.deleted)

	localCache.SetAdminEnabled(true)
	require.NoError(t, manager.Delete(context.Background(), "m1"))
	require.Equal(t, []string{"jobs/J1/chats/m1"}, client.deleted)

	require.ErrorIs(t, manager.Delete(context.Background(), ""), ErrMissingMessageID)
	manager.Close()
	require.ErrorIs(t, manager.Delete(context.Background(), "m1"), ErrNoActiveSession)
}

func TestDefaultPolicyDeniesDeletion(t *testing.T) {
	client := &fakeClient{}
	manager, _ := newTestManager(t, client, nil)
	require.NoError(t, manager.Open(context.Background(), "J1"))
	require.ErrorIs(t, manager.Delete(context.Background(), "m1"), ErrDeleteNotPermitted)
}

func TestFromDocumentDefaults(t *testing.T) {
	message := FromDocument(store.Document{ID: "m1", Fields: store.Fields{"text": 42, "isMine": "yes"}})
	require.Equal(t, Message{ID: "m1"}, message)

	stamped := FromDocument(store.Document{ID: "m2", Fields: store.Fields{"timestamp": time.UnixMilli(1700000000000)}})
	require.Equal(t, int64(1700000000000), stamped.Timestamp)
}

func TestManagerAgainstDocumentStore(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "chat.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&docstore.Document{}))
	docs, err := docstore.New(docstore.Config{Database: db, IDProvider: docstore.NewUUIDProvider()})
	require.NoError(t, err)

	views := make(chan View, 16)
	manager, err := NewManager(Config{Client: docs, OnRender: func(view View) { views <- view }})
	require.NoError(t, err)
	t.Cleanup(func() {
		manager.Close()
		docs.Wait()
		sqlDB.Close()
	})

	ctx := context.Background()
	require.NoError(t, manager.Open(ctx, "J1"))
	awaitStatus(t, views, StatusEmpty)

	require.NoError(t, manager.Send(ctx, "first"))
	ready := awaitStatus(t, views, StatusReady)
	require.Len(t, ready.Messages, 1)
	require.Equal(t, "first", ready.Messages[0].Text)
	require.True(t, ready.Messages[0].IsMine)
	require.NotZero(t, ready.Messages[0].Timestamp)
}

func awaitStatus(t *testing.T, views <-chan View, status Status) View {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case view := <-views:
			if view.Status == status {
				return view
			}
		case <-deadline:
			t.Fatalf("expected chat status %s within deadline", status)
			return View{}
		}
	}
}
