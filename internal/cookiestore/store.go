// Package cookiestore persists captured browser cookies across restarts,
// written by the administrative POST /v1/cookies endpoint (GET /v1/cookies
// reads the Worker's live page, not this store). Grounded on the
// reference's badger-backed key/value service (services/kv/service.go,
// interfaces/kv_storage.go), generalized from a flat string KV to a
// badgerhold-indexed record keyed by worker name.
package cookiestore

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// Record is one Worker's persisted cookie jar.
type Record struct {
	Worker    string `badgerhold:"key"`
	Domain    string
	Cookies   []Cookie
	UpdatedAt time.Time
}

// Cookie mirrors instance.Cookie without importing the instance package, to
// keep cookiestore a leaf dependency.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"http_only"`
}

// Store wraps a badgerhold database restricted to Record values.
type Store struct {
	db     *badgerhold.Store
	logger arbor.ILogger
}

// Open opens (creating if necessary) the badger database at dir.
func Open(dir string, logger arbor.ILogger) (*Store, error) {
	opts := badgerhold.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.Options = opts.Options.WithLogger(nil)

	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cookiestore: failed to open badger store at %s: %w", dir, err)
	}

	logger.Info().Str("dir", dir).Msg("cookiestore: opened")
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put upserts the cookie jar for a Worker.
func (s *Store) Put(worker, domain string, cookies []Cookie) error {
	rec := Record{
		Worker:    worker,
		Domain:    domain,
		Cookies:   cookies,
		UpdatedAt: time.Now(),
	}
	if err := s.db.Upsert(worker, rec); err != nil {
		return fmt.Errorf("cookiestore: failed to store cookies for %s: %w", worker, err)
	}
	s.logger.Debug().Str("worker", worker).Int("count", len(cookies)).Msg("cookiestore: stored cookies")
	return nil
}

// Get retrieves the cookie jar for a Worker.
func (s *Store) Get(worker string) (*Record, error) {
	var rec Record
	if err := s.db.Get(worker, &rec); err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cookiestore: failed to load cookies for %s: %w", worker, err)
	}
	return &rec, nil
}

// List returns every persisted cookie jar.
func (s *Store) List() ([]Record, error) {
	var recs []Record
	if err := s.db.Find(&recs, nil); err != nil {
		return nil, fmt.Errorf("cookiestore: failed to list cookies: %w", err)
	}
	return recs, nil
}

// ErrNotFound is returned when a Worker has no persisted cookie jar.
var ErrNotFound = fmt.Errorf("cookiestore: no cookies stored for worker")
