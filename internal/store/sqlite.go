package store

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrPersistence wraps any failure to write the tracked-city list.
var ErrPersistence = errors.New("persistence error")

// DefaultWatchInterval is how often subscriptions check the database for
// writes made through other connections or processes.
const DefaultWatchInterval = 2 * time.Second

type Store struct {
	db            *sql.DB
	feed          *cityFeed
	watchInterval time.Duration

	// mu orders feed publishes; seen is the newest list version published.
	mu   sync.Mutex
	seen int64
}

func New(db *sql.DB) *Store {
	return &Store{db: db, feed: newCityFeed(), watchInterval: DefaultWatchInterval}
}

// SetWatchInterval changes how often subscriptions poll for external writes.
func (s *Store) SetWatchInterval(d time.Duration) {
	if d > 0 {
		s.watchInterval = d
	}
}

// Open opens a sqlite database at path. The pragmas are part of the DSN so
// every pooled connection gets them, and transactions take the write lock
// up front.
func Open(path string) (*sql.DB, error) {
	return sql.Open("sqlite", dsn(path))
}

func dsn(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate"
}
