// Package cache stores synthesized audio blobs on disk under
// content-addressable keys, with an LRU size budget and per-entry TTL.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"resonance-engine/pkg/errors"
	"resonance-engine/pkg/metrics"

	"github.com/sirupsen/logrus"
)

const (
	indexFileName = "cache_metadata.json"
	blobExtension = ".wav"

	// keyLength is the number of hex characters kept from the digest
	keyLength = 32

	DefaultMaxSizeBytes = 500 * 1024 * 1024
	DefaultEntryTTL     = 30 * 24 * time.Hour
)

// Entry is one cached blob's metadata, persisted in the index file
type Entry struct {
	Key            string    `json:"key"`
	Text           string    `json:"text"`
	VoiceID        string    `json:"voice_id"`
	Size           int64     `json:"size"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`

	element *list.Element
}

// Config holds cache tunables
type Config struct {
	Directory    string
	MaxSizeBytes int64
	EntryTTL     time.Duration
}

// Manager owns the cache directory. All mutation is serialized behind one
// mutex so the on-disk index and the in-memory LRU list never diverge.
type Manager struct {
	logger *logrus.Logger
	config Config

	mu        sync.Mutex
	entries   map[string]*Entry
	lruList   *list.List // front = most recently used
	totalSize int64
}

// NewManager opens (or creates) the cache directory, loads the index, and
// sweeps out anything expired or missing on disk
func NewManager(logger *logrus.Logger, config Config) (*Manager, error) {
	if config.MaxSizeBytes <= 0 {
		config.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = DefaultEntryTTL
	}

	if err := os.MkdirAll(config.Directory, 0o755); err != nil {
		return nil, errors.NewStorageFailure("failed to create cache directory", map[string]interface{}{
			"directory": config.Directory,
			"error":     err.Error(),
		})
	}

	m := &Manager{
		logger:  logger,
		config:  config,
		entries: make(map[string]*Entry),
		lruList: list.New(),
	}

	if err := m.loadIndex(); err != nil {
		logger.WithError(err).Warn("Cache index unreadable, starting with an empty cache")
	}
	m.sweep()
	m.publishGauges()

	logger.WithFields(logrus.Fields{
		"directory":  config.Directory,
		"entries":    len(m.entries),
		"size_bytes": m.totalSize,
	}).Info("Audio cache initialized")

	return m, nil
}

// Key derives the content-addressable cache key for a text and voice pair
func Key(text, voiceID string) string {
	normalized := strings.ToLower(strings.TrimSpace(text)) + "|" + voiceID
	digest := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(digest[:])[:keyLength]
}

// Get returns the cached audio for a text and voice pair. Expired entries
// and entries whose blob has gone missing are pruned on the way.
func (m *Manager) Get(text, voiceID string) ([]byte, bool) {
	key := Key(text, voiceID)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[key]
	if !exists {
		metrics.IncCounter(metrics.CacheMisses)
		return nil, false
	}

	if time.Since(entry.CreatedAt) > m.config.EntryTTL {
		m.removeEntry(entry, "expired")
		m.persistIndex()
		m.publishGauges()
		metrics.IncCounter(metrics.CacheMisses)
		return nil, false
	}

	data, err := os.ReadFile(m.blobPath(key))
	if err != nil {
		// Blob vanished out from under the index; heal and report a miss
		m.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err,
		}).Warn("Cached blob missing, pruning index entry")
		m.removeEntry(entry, "missing")
		m.persistIndex()
		m.publishGauges()
		metrics.IncCounter(metrics.CacheMisses)
		return nil, false
	}

	entry.LastAccessedAt = time.Now()
	m.lruList.MoveToFront(entry.element)
	m.persistIndex()

	metrics.IncCounter(metrics.CacheHits)
	return data, true
}

// Put stores audio for a text and voice pair, evicting least recently used
// entries until the blob fits the size budget. Returns the blob's on-disk
// file name.
func (m *Manager) Put(text, voiceID string, data []byte) (string, error) {
	if int64(len(data)) > m.config.MaxSizeBytes {
		return "", errors.NewInvalidInput("audio blob exceeds cache capacity", map[string]interface{}{
			"size":     len(data),
			"capacity": m.config.MaxSizeBytes,
		})
	}

	key := Key(text, voiceID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.entries[key]; exists {
		m.removeEntry(existing, "replaced")
	}

	for m.totalSize+int64(len(data)) > m.config.MaxSizeBytes {
		oldest := m.lruList.Back()
		if oldest == nil {
			break
		}
		m.removeEntry(oldest.Value.(*Entry), "lru")
	}

	// Write the blob before committing the index entry, so a crash leaves
	// at worst an orphan file rather than a dangling index entry
	if err := m.writeBlob(key, data); err != nil {
		return "", err
	}

	now := time.Now()
	entry := &Entry{
		Key:            key,
		Text:           text,
		VoiceID:        voiceID,
		Size:           int64(len(data)),
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	entry.element = m.lruList.PushFront(entry)
	m.entries[key] = entry
	m.totalSize += entry.Size

	if err := m.persistIndex(); err != nil {
		m.removeEntry(entry, "rollback")
		return "", err
	}
	m.publishGauges()

	return m.blobPath(key), nil
}

// Remove deletes an entry. Removing an absent entry is not an error.
func (m *Manager) Remove(text, voiceID string) error {
	key := Key(text, voiceID)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[key]
	if !exists {
		return nil
	}

	m.removeEntry(entry, "removed")
	err := m.persistIndex()
	m.publishGauges()
	return err
}

// Clear empties the cache
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.entries {
		if err := os.Remove(m.blobPath(entry.Key)); err != nil && !os.IsNotExist(err) {
			m.logger.WithError(err).WithField("key", entry.Key).Warn("Failed to delete cached blob")
		}
	}

	m.entries = make(map[string]*Entry)
	m.lruList.Init()
	m.totalSize = 0

	err := m.persistIndex()
	m.publishGauges()
	return err
}

// Size returns the total cached bytes
func (m *Manager) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalSize
}

// Len returns the number of cached entries
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// removeEntry drops an entry from the index, the LRU list, and disk.
// Callers hold m.mu.
func (m *Manager) removeEntry(entry *Entry, reason string) {
	delete(m.entries, entry.Key)
	if entry.element != nil {
		m.lruList.Remove(entry.element)
	}
	m.totalSize -= entry.Size

	if err := os.Remove(m.blobPath(entry.Key)); err != nil && !os.IsNotExist(err) {
		m.logger.WithError(err).WithField("key", entry.Key).Warn("Failed to delete cached blob")
	}

	metrics.IncCounterVec(metrics.CacheEvictions, reason)
}

// sweep prunes expired entries and entries whose blob is gone. Runs once at
// startup; callers hold no lock yet.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []*Entry
	for _, entry := range m.entries {
		if time.Since(entry.CreatedAt) > m.config.EntryTTL {
			stale = append(stale, entry)
			continue
		}
		if _, err := os.Stat(m.blobPath(entry.Key)); err != nil {
			stale = append(stale, entry)
		}
	}

	for _, entry := range stale {
		m.removeEntry(entry, "expired")
	}

	if len(stale) > 0 {
		m.logger.WithField("pruned", len(stale)).Info("Swept stale cache entries")
		m.persistIndex()
	}
}

func (m *Manager) blobPath(key string) string {
	return filepath.Join(m.config.Directory, key+blobExtension)
}

func (m *Manager) indexPath() string {
	return filepath.Join(m.config.Directory, indexFileName)
}

// writeBlob writes the blob through a temp file and renames it into place
func (m *Manager) writeBlob(key string, data []byte) error {
	path := m.blobPath(key)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.NewStorageFailure("failed to write cached blob", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.NewStorageFailure("failed to commit cached blob", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return nil
}

// persistIndex writes the index atomically. Callers hold m.mu.
func (m *Manager) persistIndex() error {
	entries := make([]*Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.NewStorageFailure("failed to encode cache index", map[string]interface{}{
			"error": err.Error(),
		})
	}

	tmp := m.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.NewStorageFailure("failed to write cache index", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := os.Rename(tmp, m.indexPath()); err != nil {
		os.Remove(tmp)
		return errors.NewStorageFailure("failed to commit cache index", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return nil
}

// loadIndex restores the index, rebuilding the LRU order from access times
func (m *Manager) loadIndex() error {
	data, err := os.ReadFile(m.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessedAt.After(entries[j].LastAccessedAt)
	})

	for _, entry := range entries {
		entry.element = m.lruList.PushBack(entry)
		m.entries[entry.Key] = entry
		m.totalSize += entry.Size
	}
	return nil
}

// publishGauges refreshes the size and entry-count gauges. Callers hold m.mu.
func (m *Manager) publishGauges() {
	metrics.SetGauge(metrics.CacheSizeBytes, float64(m.totalSize))
	metrics.SetGauge(metrics.CacheEntries, float64(len(m.entries)))
}
