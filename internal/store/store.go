package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/trialkey-service/internal/model"
)

// ErrStoreUnavailable is returned when the backing medium cannot be read or
// written. Callers map it to a 500 and do not retry.
var ErrStoreUnavailable = errors.New("key store unavailable")

// Backend persists the whole key database as one object.
type Backend interface {
	// Init creates an empty database object if none exists yet.
	Init(ctx context.Context) error
	// Load returns the current database. A missing object is an empty database.
	Load(ctx context.Context) (*model.KeyDatabase, error)
	// Save atomically replaces the persisted database.
	Save(ctx context.Context, db *model.KeyDatabase) error
}

// Resetter is implemented by backends that can set aside unreadable state and
// start over with an empty database.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ErrorRecorder counts backend failures by operation.
type ErrorRecorder interface {
	StoreError(op string)
}

// TxFunc transforms db in place. It reports whether anything changed; the
// database is saved only when changed is true and err is nil.
type TxFunc func(db *model.KeyDatabase) (changed bool, err error)

// Store serializes every read-modify-write against a Backend behind a single
// process-wide mutex.
type Store struct {
	mu      sync.Mutex
	backend Backend
	errs    ErrorRecorder
}

func New(backend Backend, errs ErrorRecorder) *Store {
	return &Store{backend: backend, errs: errs}
}

// Open prepares the backend at process start. An existing database that
// cannot be read is not fatal: resettable backends start empty, others keep
// serving and surface ErrStoreUnavailable per request until they recover.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Init(ctx); err != nil {
		return fmt.Errorf("init key store: %w", err)
	}

	db, err := s.backend.Load(ctx)
	if err == nil {
		log.Info().Int("keys", len(db.Keys)).Msg("key store opened")
		return nil
	}

	r, ok := s.backend.(Resetter)
	if !ok {
		log.Error().Err(err).Msg("key store unreadable at startup")
		return nil
	}
	log.Warn().Err(err).Msg("key store unreadable at startup, starting with an empty database")
	if err := r.Reset(ctx); err != nil {
		return fmt.Errorf("reset key store: %w", err)
	}
	return nil
}

// Update runs fn inside one exclusive load-modify-save transaction.
func (s *Store) Update(ctx context.Context, fn TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load(ctx)
	if err != nil {
		return err
	}

	changed, err := fn(db)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if err := s.backend.Save(ctx, db); err != nil {
		s.recordError("save")
		return fmt.Errorf("%w: save: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// View runs fn against the current database without saving. fn must not
// retain db after returning.
func (s *Store) View(ctx context.Context, fn func(db *model.KeyDatabase) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.load(ctx)
	if err != nil {
		return err
	}
	return fn(db)
}

func (s *Store) load(ctx context.Context) (*model.KeyDatabase, error) {
	db, err := s.backend.Load(ctx)
	if err != nil {
		s.recordError("load")
		return nil, fmt.Errorf("%w: load: %w", ErrStoreUnavailable, err)
	}
	if db.Keys == nil {
		db.Keys = make(map[string]*model.KeyRecord)
	}
	return db, nil
}

func (s *Store) recordError(op string) {
	if s.errs != nil {
		s.errs.StoreError(op)
	}
}
