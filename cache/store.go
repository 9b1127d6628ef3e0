// Package cache persists fetched payloads keyed by (entity id, data type) with
// time-based expiry.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/maphash"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
)

// Data types stored by the harvester. Each is an independent row per entity.
const (
	TypeDetails   = "details"
	TypeRelated   = "related"
	TypeBasicInfo = "basic_info"
	TypeGenres    = "genres"
	TypeCast      = "cast"
)

// DefaultTTL is how long an entry stays readable.
const DefaultTTL = 30 * 24 * time.Hour

const defaultHotSize = 1024

// PersistenceError reports a failed cache write or sweep.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type key struct {
	id       string
	dataType string
}

func (k key) String() string { return k.id + ":" + k.dataType }

const lockStripes = 64

type entry struct {
	payload []byte
	created time.Time
}

// Store is a SQLite-backed cache with an in-memory LRU in front of it. It is
// safe for concurrent use.
type Store struct {
	db      *sql.DB
	hot     *lru.Cache[key, entry]
	ttl     time.Duration
	now     func() time.Time
	hotSize int

	// keyLocks serialise the database write and the hot-layer update for a
	// key, so the LRU never keeps a value the database has already replaced.
	keyLocks [lockStripes]sync.Mutex
	seed     maphash.Seed

	closeOnce sync.Once
	closeErr  error
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces the time source used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithHotSize bounds the in-memory layer.
func WithHotSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.hotSize = n
		}
	}
}

// Open creates or opens the cache database at path.
func Open(path string, ttl time.Duration, opts ...Option) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{ttl: ttl, now: time.Now, hotSize: defaultHotSize, seed: maphash.MakeSeed()}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &PersistenceError{Op: "open", Err: err}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "init schema", Err: err}
	}

	hot, err := lru.New[key, entry](s.hotSize)
	if err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	s.db = db
	s.hot = hot
	return s, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS entries (
		entity_id  TEXT    NOT NULL,
		data_type  TEXT    NOT NULL,
		payload    BLOB    NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (entity_id, data_type)
	);

	CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at);
	`)
	return err
}

func (s *Store) lock(k key) *sync.Mutex {
	var h maphash.Hash
	h.SetSeed(s.seed)
	h.WriteString(k.id)
	h.WriteByte(0)
	h.WriteString(k.dataType)
	return &s.keyLocks[h.Sum64()%lockStripes]
}

// TTL is the configured expiry window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the payload stored for (id, dataType) unless it is missing or
// older than the TTL. Read failures are logged and reported as a miss.
func (s *Store) Get(id, dataType string) ([]byte, bool) {
	k := key{id: id, dataType: dataType}
	now := s.now()

	if e, ok := s.hot.Get(k); ok {
		if s.expired(e.created, now) {
			s.dropExpired(k, now)
			return nil, false
		}
		return clone(e.payload), true
	}

	mu := s.lock(k)
	mu.Lock()
	defer mu.Unlock()

	var (
		payload []byte
		created int64
	)
	err := s.db.QueryRow(
		`SELECT payload, created_at FROM entries WHERE entity_id = ? AND data_type = ?`,
		id, dataType,
	).Scan(&payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		slog.Warn("cache read failed", slog.String("key", k.String()), slog.Any("error", err))
		return nil, false
	}

	e := entry{payload: payload, created: time.Unix(0, created)}
	if s.expired(e.created, now) {
		return nil, false
	}
	s.hot.Add(k, e)
	return clone(payload), true
}

// dropExpired evicts k from the hot layer unless a concurrent Set refreshed it.
func (s *Store) dropExpired(k key, now time.Time) {
	mu := s.lock(k)
	mu.Lock()
	defer mu.Unlock()
	if e, ok := s.hot.Peek(k); ok && s.expired(e.created, now) {
		s.hot.Remove(k)
	}
}

// Set upserts payload for (id, dataType) stamped with the current time. The
// last writer wins in both the database and the hot layer.
func (s *Store) Set(id, dataType string, payload []byte) error {
	k := key{id: id, dataType: dataType}
	e := entry{payload: clone(payload), created: s.now()}

	mu := s.lock(k)
	mu.Lock()
	defer mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO entries (entity_id, data_type, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id, data_type) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at
	`, id, dataType, e.payload, e.created.UnixNano())
	if err != nil {
		s.hot.Remove(k)
		return &PersistenceError{Op: "set", Key: k.String(), Err: err}
	}
	s.hot.Add(k, e)
	return nil
}

// GetJSON decodes a cached JSON value into v. An undecodable entry counts as a miss.
func (s *Store) GetJSON(id, dataType string, v any) bool {
	payload, ok := s.Get(id, dataType)
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, v); err != nil {
		slog.Warn("cache entry undecodable",
			slog.String("key", key{id: id, dataType: dataType}.String()),
			slog.Any("error", err),
		)
		return false
	}
	return true
}

// SetJSON encodes v and stores it.
func (s *Store) SetJSON(id, dataType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return &PersistenceError{Op: "encode", Key: key{id: id, dataType: dataType}.String(), Err: err}
	}
	return s.Set(id, dataType, payload)
}

// ClearExpired deletes every entry past the TTL and reports how many rows went.
// Running it again immediately removes nothing.
func (s *Store) ClearExpired() (int, error) {
	now := s.now()
	cutoff := now.Add(-s.ttl).UnixNano()

	res, err := s.db.Exec(`DELETE FROM entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, &PersistenceError{Op: "clear expired", Err: err}
	}
	for _, k := range s.hot.Keys() {
		if e, ok := s.hot.Peek(k); ok && s.expired(e.created, now) {
			s.hot.Remove(k)
		}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, &PersistenceError{Op: "clear expired", Err: err}
	}
	return int(n), nil
}

// Len counts stored rows, expired or not.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, &PersistenceError{Op: "count", Err: err}
	}
	return n, nil
}

// Close checkpoints the write-ahead log and releases the database. Only the
// first call does any work; later calls return the same result.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.hot.Purge()
		if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
			slog.Warn("cache checkpoint failed", slog.Any("error", err))
		}
		if err := s.db.Close(); err != nil {
			s.closeErr = &PersistenceError{Op: "close", Err: err}
		}
	})
	return s.closeErr
}

func (s *Store) expired(created, now time.Time) bool {
	return now.Sub(created) > s.ttl
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
