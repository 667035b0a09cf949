// Package cache is the durable local replica of the job board state.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/jobs"
	"go.uber.org/zap"
)

// Persisted keys.
const (
	KeyJobs         = "jobs"
	KeyAnnouncement = "announcement"
	KeyFavorites    = "favorites"
	KeyAdmin        = "admin"
)

const defaultBackendTimeout = 2 * time.Second

// Config describes the dependencies of a Cache.
type Config struct {
	Backend        Backend
	Logger         *zap.Logger
	BackendTimeout time.Duration
}

// Cache overlays an in-memory copy on a Backend. Reads and writes never fail: backend
// errors are logged and the in-memory value stays authoritative for the process lifetime.
type Cache struct {
	backend Backend
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	values map[string]string

	// writeMu orders backend writes and makes read-modify-write helpers atomic.
	writeMu sync.Mutex
}

// New constructs a Cache. A nil backend keeps values in memory only.
func New(cfg Config) *Cache {
	backend := cfg.Backend
	if backend == nil {
		backend = NewMemoryBackend()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.BackendTimeout
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}
	return &Cache{
		backend: backend,
		logger:  logger,
		timeout: timeout,
		values:  make(map[string]string),
	}
}

// Get returns the value for key, or false when nothing is stored or the backend fails.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	value, ok := c.values[key]
	c.mu.RUnlock()
	if ok {
		return value, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	loaded, found, err := c.backend.Load(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	if !found {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.values[key]; ok {
		return current, true
	}
	c.values[key] = loaded
	return loaded, true
}

// Set replaces the value for key.
func (c *Cache) Set(key, value string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setLocked(key, value)
}

func (c *Cache) setLocked(key, value string) {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.backend.Store(ctx, key, value); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Jobs returns the cached job sequence. Missing, corrupt or non-array data yields an empty slice.
func (c *Cache) Jobs() []jobs.Job {
	raw, ok := c.Get(KeyJobs)
	if !ok {
		return []jobs.Job{}
	}
	return decodeJobs(raw)
}

// ReplaceJobs swaps the whole cached job sequence.
func (c *Cache) ReplaceJobs(list []jobs.Job) {
	if list == nil {
		list = []jobs.Job{}
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", KeyJobs), zap.Error(err))
		return
	}
	c.Set(KeyJobs, string(encoded))
}

// Announcement returns the cached announcement text.
func (c *Cache) Announcement() string {
	value, _ := c.Get(KeyAnnouncement)
	return value
}

// SetAnnouncement replaces the cached announcement text.
func (c *Cache) SetAnnouncement(text string) {
	c.Set(KeyAnnouncement, text)
}

// Favorites returns the persisted favorites set.
func (c *Cache) Favorites() FavoriteSet {
	raw, ok := c.Get(KeyFavorites)
	if !ok {
		return FavoriteSet{}
	}
	return decodeFavorites(raw)
}

// IsFavorite reports whether id is in the favorites set.
func (c *Cache) IsFavorite(id string) bool {
	return c.Favorites().Contains(id)
}

// ToggleFavorite flips membership of id and reports whether it is now a favorite.
func (c *Cache) ToggleFavorite(id string) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	favorites := c.Favorites().Toggle(id)
	encoded, err := json.Marshal(favorites.IDs())
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", KeyFavorites), zap.Error(err))
		return c.IsFavorite(id)
	}
	c.setLocked(KeyFavorites, string(encoded))
	return favorites.Contains(id)
}

// AdminEnabled reports the advisory admin flag. It is not an authorization mechanism.
func (c *Cache) AdminEnabled() bool {
	raw, ok := c.Get(KeyAdmin)
	if !ok {
		return false
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return enabled
}

// SetAdminEnabled stores the advisory admin flag.
func (c *Cache) SetAdminEnabled(enabled bool) {
	c.Set(KeyAdmin, strconv.FormatBool(enabled))
}

func decodeJobs(raw string) []jobs.Job {
	var elements []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return []jobs.Job{}
	}
	list := make([]jobs.Job, 0, len(elements))
	for _, element := range elements {
		decoder := json.NewDecoder(bytes.NewReader(element))
		decoder.UseNumber()
		var fields map[string]any
		if err := decoder.Decode(&fields); err != nil || fields == nil {
			continue
		}
		id, _ := fields["id"].(string)
		list = append(list, jobs.FromFields(id, fields))
	}
	return list
}

func decodeFavorites(raw string) FavoriteSet {
	var elements []any
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return FavoriteSet{}
	}
	favorites := FavoriteSet{}
	for _, element := range elements {
		id, ok := element.(string)
		if !ok || favorites.Contains(id) {
			continue
		}
		favorites = append(favorites, id)
	}
	return favorites
}
