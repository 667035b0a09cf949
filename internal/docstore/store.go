// Package docstore is an embedded live-query document store persisted through GORM.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultProjectID namespaces documents when no project is configured.
	DefaultProjectID = "storagede"
	// DefaultPollInterval is how often watchers look for writes made by other processes.
	DefaultPollInterval = time.Second
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingCallback   = errors.New("snapshot callback is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a dotted operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew         = "docstore.new"
	opAddDocument      = "docstore.add_document"
	opSetDocument      = "docstore.set_document"
	opUpdateDocument   = "docstore.update_document"
	opDeleteDocument   = "docstore.delete_document"
	opQueryCollection  = "docstore.query_collection"
	opGetDocument      = "docstore.get_document"
	opWatchCollection  = "docstore.watch_collection"
	opWatchDocument    = "docstore.watch_document"
	queryProjectPath   = "project_id = ? AND collection_path = ?"
	queryProjectPathID = "project_id = ? AND collection_path = ? AND document_id = ?"
	fieldCollection    = "collection_path"
	fieldDocumentID    = "document_id"
	fieldDocumentPath  = "document_path"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for documents created without one.
type IDProvider interface {
	NewID() (string, error)
}

// Config describes the dependencies of a Store.
type Config struct {
	Database   *gorm.DB
	ProjectID  string
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	// PollInterval of zero uses DefaultPollInterval; a negative value limits
	// watchers to writes made through this Store.
	PollInterval time.Duration
}

// Store implements store.Client on top of a GORM database.
type Store struct {
	db           *gorm.DB
	projectID    string
	clock        func() time.Time
	idProvider   IDProvider
	logger       *zap.Logger
	dispatcher   *dispatcher
	pollInterval time.Duration
	watchers     sync.WaitGroup
}

var _ store.Client = (*Store)(nil)

// New constructs a Store; the schema must already be migrated.
func New(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		projectID = DefaultProjectID
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	return &Store{
		db:           cfg.Database,
		projectID:    projectID,
		clock:        clock,
		idProvider:   cfg.IDProvider,
		logger:       logger,
		dispatcher:   newDispatcher(),
		pollInterval: pollInterval,
	}, nil
}

// ProjectID reports the namespace the store reads and writes.
func (s *Store) ProjectID() string {
	return s.projectID
}

// AddDocument creates a document with a generated id in the collection.
func (s *Store) AddDocument(ctx context.Context, collectionPath string, fields store.Fields) (string, error) {
	collection, err := cleanCollectionPath(collectionPath)
	if err != nil {
		return "", newServiceError(opAddDocument, "invalid_path", err)
	}
	documentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddDocument, "id_generation_failed", err, zap.String(fieldCollection, collection))
		return "", newServiceError(opAddDocument, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	payload, err := encodeFields(resolveFields(nil, fields, now))
	if err != nil {
		return "", newServiceError(opAddDocument, "encode_failed", err)
	}
	model := Document{
		ProjectID:        s.projectID,
		CollectionPath:   collection,
		DocumentID:       documentID,
		FieldsJSON:       payload,
		CreateTimeMillis: now.UnixMilli(),
		UpdateTimeMillis: now.UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		s.logError(opAddDocument, "insert_failed", err, zap.String(fieldCollection, collection))
		return "", newServiceError(opAddDocument, "insert_failed", err)
	}

	s.notify(collection, documentID)
	return documentID, nil
}

// SetDocument creates or fully replaces the document at path.
func (s *Store) SetDocument(ctx context.Context, path string, fields store.Fields) error {
	collection, documentID, err := store.SplitDocumentPath(path)
	if err != nil {
		return newServiceError(opSetDocument, "invalid_path", err)
	}

	now := s.clock().UTC()
	payload, err := encodeFields(resolveFields(nil, fields, now))
	if err != nil {
		return newServiceError(opSetDocument, "encode_failed", err)
	}
	model := Document{
		ProjectID:        s.projectID,
		CollectionPath:   collection,
		DocumentID:       documentID,
		FieldsJSON:       payload,
		CreateTimeMillis: now.UnixMilli(),
		UpdateTimeMillis: now.UnixMilli(),
	}
	upsert := clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "collection_path"}, {Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"fields_json", "update_time_ms"}),
	}
	if err := s.db.WithContext(ctx).Clauses(upsert).Create(&model).Error; err != nil {
		s.logError(opSetDocument, "upsert_failed", err, zap.String(fieldDocumentPath, path))
		return newServiceError(opSetDocument, "upsert_failed", err)
	}

	s.notify(collection, documentID)
	return nil
}

// UpdateDocument merges fields into an existing document. Missing documents fail with store.ErrNotFound.
func (s *Store) UpdateDocument(ctx context.Context, path string, fields store.Fields) error {
	collection, documentID, err := store.SplitDocumentPath(path)
	if err != nil {
		return newServiceError(opUpdateDocument, "invalid_path", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryProjectPathID, s.projectID, collection, documentID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdateDocument, "not_found", store.ErrNotFound)
		}
		if err != nil {
			s.logError(opUpdateDocument, "select_failed", err, zap.String(fieldDocumentPath, path))
			return newServiceError(opUpdateDocument, "select_failed", err)
		}

		current, err := decodeFields(existing.FieldsJSON)
		if err != nil {
			s.logError(opUpdateDocument, "decode_failed", err, zap.String(fieldDocumentPath, path))
			current = store.Fields{}
		}
		now := s.clock().UTC()
		payload, err := encodeFields(resolveFields(current, fields, now))
		if err != nil {
			return newServiceError(opUpdateDocument, "encode_failed", err)
		}
		existing.FieldsJSON = payload
		existing.UpdateTimeMillis = now.UnixMilli()
		if err := tx.Save(&existing).Error; err != nil {
			s.logError(opUpdateDocument, "save_failed", err, zap.String(fieldDocumentPath, path))
			return newServiceError(opUpdateDocument, "save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	s.notify(collection, documentID)
	return nil
}

// DeleteDocument removes the document at path. Deleting a missing document succeeds.
func (s *Store) DeleteDocument(ctx context.Context, path string) error {
	collection, documentID, err := store.SplitDocumentPath(path)
	if err != nil {
		return newServiceError(opDeleteDocument, "invalid_path", err)
	}
	result := s.db.WithContext(ctx).
		Where(queryProjectPathID, s.projectID, collection, documentID).
		Delete(&Document{})
	if result.Error != nil {
		s.logError(opDeleteDocument, "delete_failed", result.Error, zap.String(fieldDocumentPath, path))
		return newServiceError(opDeleteDocument, "delete_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		s.notify(collection, documentID)
	}
	return nil
}

// QueryCollection returns the current ordered contents of a collection.
func (s *Store) QueryCollection(ctx context.Context, query store.Query) (store.QuerySnapshot, error) {
	collection, err := cleanCollectionPath(query.Collection)
	if err != nil {
		return store.QuerySnapshot{}, newServiceError(opQueryCollection, "invalid_path", err)
	}

	var models []Document
	if err := s.db.WithContext(ctx).
		Where(queryProjectPath, s.projectID, collection).
		Find(&models).Error; err != nil {
		s.logError(opQueryCollection, "query_failed", err, zap.String(fieldCollection, collection))
		return store.QuerySnapshot{}, newServiceError(opQueryCollection, "query_failed", err)
	}

	documents := make([]store.Document, 0, len(models))
	for _, model := range models {
		fields, err := decodeFields(model.FieldsJSON)
		if err != nil {
			s.logError(opQueryCollection, "decode_failed", err,
				zap.String(fieldCollection, collection),
				zap.String(fieldDocumentID, model.DocumentID))
			fields = store.Fields{}
		}
		documents = append(documents, store.Document{ID: model.DocumentID, Fields: fields})
	}
	if strings.TrimSpace(query.OrderBy) != "" {
		sortDocuments(documents, query.OrderBy, query.Direction)
	}
	return store.QuerySnapshot{Documents: documents}, nil
}

// GetDocument returns the current state of a single document.
func (s *Store) GetDocument(ctx context.Context, path string) (store.DocumentSnapshot, error) {
	collection, documentID, err := store.SplitDocumentPath(path)
	if err != nil {
		return store.DocumentSnapshot{}, newServiceError(opGetDocument, "invalid_path", err)
	}
	snapshot := store.DocumentSnapshot{ID: documentID, Path: store.Join(collection, documentID)}

	var model Document
	err = s.db.WithContext(ctx).
		Where(queryProjectPathID, s.projectID, collection, documentID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return snapshot, nil
	}
	if err != nil {
		s.logError(opGetDocument, "query_failed", err, zap.String(fieldDocumentPath, path))
		return store.DocumentSnapshot{}, newServiceError(opGetDocument, "query_failed", err)
	}

	fields, err := decodeFields(model.FieldsJSON)
	if err != nil {
		s.logError(opGetDocument, "decode_failed", err, zap.String(fieldDocumentPath, path))
		fields = store.Fields{}
	}
	snapshot.Exists = true
	snapshot.Fields = fields
	return snapshot, nil
}

// WatchCollection delivers an initial snapshot and a fresh one after every change to the collection.
func (s *Store) WatchCollection(ctx context.Context, query store.Query, onSnapshot func(store.QuerySnapshot), onError func(error)) (store.Subscription, error) {
	if onSnapshot == nil {
		return nil, newServiceError(opWatchCollection, "missing_callback", errMissingCallback)
	}
	collection, err := cleanCollectionPath(query.Collection)
	if err != nil {
		return nil, newServiceError(opWatchCollection, "invalid_path", err)
	}
	query.Collection = collection

	deliver := func(watchCtx context.Context) (func(), error) {
		snapshot, err := s.QueryCollection(watchCtx, query)
		if err != nil {
			return nil, err
		}
		return func() { onSnapshot(snapshot) }, nil
	}
	readMark := func(watchCtx context.Context) (changeMark, error) {
		return s.readChangeMark(watchCtx, queryProjectPath, s.projectID, collection)
	}
	return s.watch(ctx, collectionTopic(collection), deliver, readMark, onError), nil
}

// WatchDocument delivers an initial snapshot and a fresh one after every change to the document.
func (s *Store) WatchDocument(ctx context.Context, path string, onSnapshot func(store.DocumentSnapshot), onError func(error)) (store.Subscription, error) {
	if onSnapshot == nil {
		return nil, newServiceError(opWatchDocument, "missing_callback", errMissingCallback)
	}
	collection, documentID, err := store.SplitDocumentPath(path)
	if err != nil {
		return nil, newServiceError(opWatchDocument, "invalid_path", err)
	}
	documentPath := store.Join(collection, documentID)

	deliver := func(watchCtx context.Context) (func(), error) {
		snapshot, err := s.GetDocument(watchCtx, documentPath)
		if err != nil {
			return nil, err
		}
		return func() { onSnapshot(snapshot) }, nil
	}
	readMark := func(watchCtx context.Context) (changeMark, error) {
		return s.readChangeMark(watchCtx, queryProjectPathID, s.projectID, collection, documentID)
	}
	return s.watch(ctx, documentTopic(documentPath), deliver, readMark, onError), nil
}

// Wait blocks until every watcher loop has exited.
func (s *Store) Wait() {
	s.watchers.Wait()
}

type loadFunc func(ctx context.Context) (func(), error)

type markFunc func(ctx context.Context) (changeMark, error)

// changeMark summarizes the rows behind a topic. Inserts and deletes move the count,
// updates move the update times.
type changeMark struct {
	Rows   int64 `gorm:"column:row_count"`
	Latest int64 `gorm:"column:latest_update_ms"`
	Total  int64 `gorm:"column:total_update_ms"`
}

func (s *Store) readChangeMark(ctx context.Context, where string, args ...any) (changeMark, error) {
	var mark changeMark
	err := s.db.WithContext(ctx).
		Model(&Document{}).
		Select("COUNT(*) AS row_count, COALESCE(MAX(update_time_ms), 0) AS latest_update_ms, COALESCE(SUM(update_time_ms), 0) AS total_update_ms").
		Where(where, args...).
		Scan(&mark).Error
	return mark, err
}

// watch refreshes on in-process change signals and, when polling is enabled, whenever the
// change mark moves because another process wrote to the same database.
func (s *Store) watch(ctx context.Context, topic string, load loadFunc, readMark markFunc, onError func(error)) store.Subscription {
	watchCtx, cancel := context.WithCancel(ctx)
	entry, unsubscribe := s.dispatcher.subscribe(topic)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			unsubscribe()
			cancel()
		})
	}

	var poll <-chan time.Time
	var ticker *time.Ticker
	if s.pollInterval > 0 {
		ticker = time.NewTicker(s.pollInterval)
		poll = ticker.C
	}

	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()
		defer stop()
		if ticker != nil {
			defer ticker.Stop()
		}
		last := s.refresh(watchCtx, topic, load, readMark, onError)
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-entry.stream:
				last = s.refresh(watchCtx, topic, load, readMark, onError)
			case <-poll:
				mark, err := readMark(watchCtx)
				if err != nil {
					if watchCtx.Err() == nil {
						s.logger.Debug("live query change check failed", zap.String("topic", topic), zap.Error(err))
					}
					continue
				}
				if mark != last {
					last = s.refresh(watchCtx, topic, load, readMark, onError)
				}
			}
		}
	}()

	return store.SubscriptionFunc(stop)
}

// refresh reads the change mark before loading, so a write landing in between
// triggers one more refresh instead of being missed.
func (s *Store) refresh(ctx context.Context, topic string, load loadFunc, readMark markFunc, onError func(error)) changeMark {
	mark, markErr := readMark(ctx)
	emit, err := load(ctx)
	if ctx.Err() != nil {
		return mark
	}
	if err != nil {
		s.logger.Warn("live query refresh failed", zap.String("topic", topic), zap.Error(err))
		if onError != nil {
			onError(err)
		}
		return changeMark{Rows: -1}
	}
	emit()
	if markErr != nil {
		return changeMark{Rows: -1}
	}
	return mark
}

func (s *Store) notify(collection, documentID string) {
	s.dispatcher.publish(collectionTopic(collection), documentTopic(store.Join(collection, documentID)))
}

func cleanCollectionPath(path string) (string, error) {
	if err := store.ValidateCollectionPath(path); err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(path), "/"), nil
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("docstore error", attrs...)
}
