// Package cache implements the process-local performance cache: an
// in-memory LRU tier with TTLs in front of a sqlite-backed disk tier for
// long-lived entries. Values are stored JSON-encoded.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// Entries with a TTL at or above this threshold are also written to disk
	// so they survive restarts.
	diskTTLThreshold = 10 * time.Minute

	defaultMaxMemoryItems = 1000
	writeQueueSize        = 256
)

type entry struct {
	value      []byte
	createdAt  time.Time
	expiresAt  time.Time
	ttl        time.Duration
	lastAccess time.Time
}

// Stats reports cache counters
type Stats struct {
	MemoryEntries int   `json:"memory_entries"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	DiskHits      int64 `json:"disk_hits"`
	Evictions     int64 `json:"evictions"`
}

type diskWrite struct {
	key    string
	e      entry
	remove bool
}

// PerformanceCache is a two-tier TTL cache. All disk writes are serialized
// through a single writer goroutine, so concurrent Sets on the same key
// cannot interleave partial writes.
type PerformanceCache struct {
	mu             sync.RWMutex
	items          map[string]entry
	maxMemoryItems int

	db      *sql.DB
	dbMu    sync.Mutex
	writeCh chan diskWrite
	done    chan struct{}
	wg      sync.WaitGroup

	statsMu   sync.Mutex
	hits      int64
	misses    int64
	diskHits  int64
	evictions int64
}

// New opens (or creates) the cache with its sqlite file under dir
func New(dir string, maxMemoryItems int) (*PerformanceCache, error) {
	if maxMemoryItems <= 0 {
		maxMemoryItems = defaultMaxMemoryItems
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "perf_cache.db"))
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		key         TEXT PRIMARY KEY,
		value       BLOB NOT NULL,
		created_at  INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL,
		ttl_seconds INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}

	c := &PerformanceCache{
		items:          make(map[string]entry),
		maxMemoryItems: maxMemoryItems,
		db:             db,
		writeCh:        make(chan diskWrite, writeQueueSize),
		done:           make(chan struct{}),
	}
	c.wg.Add(1)
	go c.diskWriter()
	return c, nil
}

// Set stores a value under key with the given TTL
func (c *PerformanceCache) Set(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}

	now := time.Now()
	e := entry{
		value:      data,
		createdAt:  now,
		expiresAt:  now.Add(ttl),
		ttl:        ttl,
		lastAccess: now,
	}

	c.mu.Lock()
	c.items[key] = e
	c.evictLocked()
	c.mu.Unlock()

	if ttl >= diskTTLThreshold {
		select {
		case c.writeCh <- diskWrite{key: key, e: e}:
		default:
			// Queue full: skip the disk copy rather than block the caller.
			log.Printf("cache: disk write queue full, skipping persist for %s", key)
		}
	}
	return nil
}

// Get loads the value for key into dest. It checks the memory tier first,
// then the disk tier, promoting disk hits back to memory.
func (c *PerformanceCache) Get(key string, dest interface{}) bool {
	now := time.Now()

	c.mu.Lock()
	e, ok := c.items[key]
	if ok && now.Before(e.expiresAt) {
		e.lastAccess = now
		c.items[key] = e
		c.mu.Unlock()
		if err := json.Unmarshal(e.value, dest); err != nil {
			c.count(&c.misses)
			return false
		}
		c.count(&c.hits)
		return true
	}
	if ok {
		// Expired: drop it now instead of waiting for eviction.
		delete(c.items, key)
	}
	c.mu.Unlock()

	e, ok = c.loadFromDisk(key, now)
	if !ok {
		c.count(&c.misses)
		return false
	}
	if err := json.Unmarshal(e.value, dest); err != nil {
		c.count(&c.misses)
		return false
	}

	// Promote
	e.lastAccess = now
	c.mu.Lock()
	c.items[key] = e
	c.evictLocked()
	c.mu.Unlock()

	c.count(&c.diskHits)
	c.count(&c.hits)
	return true
}

// Delete removes key from both tiers. The disk delete goes through the
// writer queue so it cannot be overtaken by a pending persist of the same
// key.
func (c *PerformanceCache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()

	c.writeCh <- diskWrite{key: key, remove: true}
}

// Stats returns a snapshot of the cache counters
func (c *PerformanceCache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.items)
	c.mu.RUnlock()

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return Stats{
		MemoryEntries: entries,
		Hits:          c.hits,
		Misses:        c.misses,
		DiskHits:      c.diskHits,
		Evictions:     c.evictions,
	}
}

// Close drains pending disk writes and closes the sqlite store
func (c *PerformanceCache) Close() error {
	close(c.done)
	c.wg.Wait()
	return c.db.Close()
}

// evictLocked truncates the memory tier to maxMemoryItems by dropping the
// least recently accessed entries. Caller holds c.mu.
func (c *PerformanceCache) evictLocked() {
	for len(c.items) > c.maxMemoryItems {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.items {
			if oldestKey == "" || e.lastAccess.Before(oldest) {
				oldestKey = k
				oldest = e.lastAccess
			}
		}
		delete(c.items, oldestKey)
		c.statsMu.Lock()
		c.evictions++
		c.statsMu.Unlock()
	}
}

func (c *PerformanceCache) loadFromDisk(key string, now time.Time) (entry, bool) {
	c.dbMu.Lock()
	defer c.dbMu.Unlock()

	var value []byte
	var createdAt, expiresAt, ttlSeconds int64
	err := c.db.QueryRow(
		`SELECT value, created_at, expires_at, ttl_seconds FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &createdAt, &expiresAt, &ttlSeconds)
	if err != nil {
		return entry{}, false
	}

	e := entry{
		value:     value,
		createdAt: time.Unix(createdAt, 0),
		expiresAt: time.Unix(expiresAt, 0),
		ttl:       time.Duration(ttlSeconds) * time.Second,
	}
	if now.After(e.expiresAt) {
		if _, err := c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			log.Printf("cache: prune expired %s: %v", key, err)
		}
		return entry{}, false
	}
	return e, true
}

// diskWriter serializes disk writes from the queue
func (c *PerformanceCache) diskWriter() {
	defer c.wg.Done()
	for {
		select {
		case w := <-c.writeCh:
			c.persist(w)
		case <-c.done:
			// Drain whatever is still queued before shutting down.
			for {
				select {
				case w := <-c.writeCh:
					c.persist(w)
				default:
					return
				}
			}
		}
	}
}

func (c *PerformanceCache) persist(w diskWrite) {
	c.dbMu.Lock()
	defer c.dbMu.Unlock()

	if w.remove {
		if _, err := c.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, w.key); err != nil {
			log.Printf("cache: delete %s from disk: %v", w.key, err)
		}
		return
	}

	_, err := c.db.Exec(
		`INSERT INTO cache_entries (key, value, created_at, expires_at, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at,
		   ttl_seconds = excluded.ttl_seconds`,
		w.key, w.e.value, w.e.createdAt.Unix(), w.e.expiresAt.Unix(), int64(w.e.ttl.Seconds()),
	)
	if err != nil {
		log.Printf("cache: persist %s: %v", w.key, err)
	}
}

func (c *PerformanceCache) count(counter *int64) {
	c.statsMu.Lock()
	*counter++
	c.statsMu.Unlock()
}
