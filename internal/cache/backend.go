package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("cache: database handle is required")

// Backend persists raw cache values. Implementations report failures; the Cache swallows them.
type Backend interface {
	Load(ctx context.Context, key string) (string, bool, error)
	Store(ctx context.Context, key, value string) error
}

// Entry stores one cache value per namespace and key.
type Entry struct {
	Namespace       string `gorm:"column:namespace;primaryKey;size:190;not null"`
	Key             string `gorm:"column:cache_key;primaryKey;size:190;not null"`
	Value           string `gorm:"column:value;type:text;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "cache_entries"
}

// GormBackend keeps cache entries in a SQL table.
type GormBackend struct {
	db        *gorm.DB
	namespace string
	clock     func() time.Time
}

// NewGormBackend returns a backend writing into cache_entries under namespace.
func NewGormBackend(db *gorm.DB, namespace string) (*GormBackend, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormBackend{
		db:        db,
		namespace: strings.TrimSpace(namespace),
		clock:     time.Now,
	}, nil
}

func (b *GormBackend) Load(ctx context.Context, key string) (string, bool, error) {
	var entry Entry
	err := b.db.WithContext(ctx).
		Where("namespace = ? AND cache_key = ?", b.namespace, key).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

func (b *GormBackend) Store(ctx context.Context, key, value string) error {
	entry := Entry{
		Namespace:       b.namespace,
		Key:             key,
		Value:           value,
		UpdatedAtMillis: b.clock().UTC().UnixMilli(),
	}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_ms"}),
	}).Create(&entry).Error
}

// MemoryBackend keeps values for the lifetime of the process.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryBackend returns an empty process-local backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]string)}
}

func (b *MemoryBackend) Load(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	value, ok := b.values[key]
	return value, ok, nil
}

func (b *MemoryBackend) Store(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
	return nil
}
