// Package store caches compiled chunks in SQLite, keyed by the content hash
// of the analysed program that produced them.
package store

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/runa-lang/runa/pkg/bytecode"
)

var log = commonlog.GetLogger("runa.store")

// Key identifies a cached chunk. Callers derive it with hash.HashProgram.
type Key [32]byte

// String returns the key in hex.
func (k Key) String() string { return hex.EncodeToString(k[:]) }

// Stats summarises the cache contents.
type Stats struct {
	Entries int
	Bytes   int64
	Hits    int64
}

// ChunkCache is a content-addressed chunk cache backed by SQLite.
// Entries written under another wire version are ignored on read and
// replaced on write.
type ChunkCache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the cache database at path. The parent directory
// is created when missing. ":memory:" opens a private in-memory cache.
func Open(path string) (*ChunkCache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises
	// writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS chunks (
		hash     BLOB PRIMARY KEY,
		version  INTEGER NOT NULL,
		data     BLOB NOT NULL,
		created  INTEGER NOT NULL,
		hits     INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened chunk cache %s", path)
	return &ChunkCache{db: db, path: path}, nil
}

// DefaultPath returns the cache location: $RUNA_CACHE when set, otherwise
// the user cache directory.
func DefaultPath() (string, error) {
	if p := os.Getenv("RUNA_CACHE"); p != "" {
		return p, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("getting cache dir: %w", err)
	}
	return filepath.Join(dir, "runa", "chunks.db"), nil
}

// Path returns the database path the cache was opened with.
func (c *ChunkCache) Path() string { return c.path }

// Get returns the chunk stored under key. A miss returns (nil, false, nil).
// An entry that no longer decodes is dropped and reported as a miss.
func (c *ChunkCache) Get(key Key) (*bytecode.Chunk, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	err := c.db.QueryRow(
		"SELECT data FROM chunks WHERE hash = ? AND version = ?",
		key[:], bytecode.WireVersion,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying chunk %s: %w", key, err)
	}

	chunk, err := bytecode.UnmarshalChunk(data)
	if err != nil {
		log.Warningf("dropping undecodable chunk %s: %s", key, err)
		if _, derr := c.db.Exec("DELETE FROM chunks WHERE hash = ?", key[:]); derr != nil {
			return nil, false, fmt.Errorf("deleting chunk %s: %w", key, derr)
		}
		return nil, false, nil
	}

	if _, err := c.db.Exec("UPDATE chunks SET hits = hits + 1 WHERE hash = ?", key[:]); err != nil {
		return nil, false, fmt.Errorf("updating hits for %s: %w", key, err)
	}
	log.Debugf("cache hit %s", key)
	return chunk, true, nil
}

// Put stores chunk under key, replacing any previous entry.
func (c *ChunkCache) Put(key Key, chunk *bytecode.Chunk) error {
	data, err := bytecode.MarshalChunk(chunk)
	if err != nil {
		return fmt.Errorf("encoding chunk %s: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.Exec(
		`INSERT INTO chunks (hash, version, data, created, hits) VALUES (?, ?, ?, ?, 0)
		 ON CONFLICT(hash) DO UPDATE SET version = excluded.version, data = excluded.data,
		 created = excluded.created, hits = 0`,
		key[:], bytecode.WireVersion, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("storing chunk %s: %w", key, err)
	}
	log.Debugf("cached chunk %s (%d bytes)", key, len(data))
	return nil
}

// Stats reports entry count, payload size and total hits for the current
// wire version.
func (c *ChunkCache) Stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Stats
	err := c.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0), COALESCE(SUM(hits), 0) FROM chunks WHERE version = ?",
		bytecode.WireVersion,
	).Scan(&s.Entries, &s.Bytes, &s.Hits)
	if err != nil {
		return Stats{}, fmt.Errorf("reading stats: %w", err)
	}
	return s, nil
}

// Prune removes entries from other wire versions and then the oldest
// entries beyond keep. It returns the number of rows removed.
func (c *ChunkCache) Prune(keep int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM chunks WHERE version != ?", bytecode.WireVersion)
	if err != nil {
		return 0, fmt.Errorf("pruning stale versions: %w", err)
	}
	stale, _ := res.RowsAffected()

	res, err = c.db.Exec(
		`DELETE FROM chunks WHERE hash NOT IN (
			SELECT hash FROM chunks ORDER BY created DESC, rowid DESC LIMIT ?
		)`, keep)
	if err != nil {
		return stale, fmt.Errorf("pruning old entries: %w", err)
	}
	old, _ := res.RowsAffected()

	if stale+old > 0 {
		log.Infof("pruned %d cached chunks", stale+old)
	}
	return stale + old, nil
}

// Close closes the database connection.
func (c *ChunkCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
