package syncer

import (
	"context"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/store"
	"github.com/stretchr/testify/mock"
)

// mockClient is a testify mock for store.Client. Watch calls capture their callbacks.
type mockClient struct {
	mock.Mock

	onJobs         func(store.QuerySnapshot)
	onJobsError    func(error)
	onAnnouncement func(store.DocumentSnapshot)
}

type countingSubscription struct {
	cancels int
}

func (s *countingSubscription) Cancel() {
	s.cancels++
}

func (m *mockClient) WatchCollection(ctx context.Context, query store.Query, onSnapshot func(store.QuerySnapshot), onError func(error)) (store.Subscription, error) {
	args := m.Called(ctx, query)
	m.onJobs = onSnapshot
	m.onJobsError = onError
	if subscription, ok := args.Get(0).(store.Subscription); ok {
		return subscription, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) WatchDocument(ctx context.Context, path string, onSnapshot func(store.DocumentSnapshot), onError func(error)) (store.Subscription, error) {
	args := m.Called(ctx, path)
	m.onAnnouncement = onSnapshot
	if subscription, ok := args.Get(0).(store.Subscription); ok {
		return subscription, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockClient) AddDocument(ctx context.Context, collectionPath string, fields store.Fields) (string, error) {
	args := m.Called(ctx, collectionPath, fields)
	return args.String(0), args.Error(1)
}

func (m *mockClient) SetDocument(ctx context.Context, path string, fields store.Fields) error {
	args := m.Called(ctx, path, fields)
	return args.Error(0)
}

func (m *mockClient) UpdateDocument(ctx context.Context, path string, fields store.Fields) error {
	args := m.Called(ctx, path, fields)
	return args.Error(0)
}

func (m *mockClient) DeleteDocument(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}
