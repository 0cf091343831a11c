// Package filekv implements persistence.KVStore as a single JSON document
// on disk, guarded by a cross-process file lock so that concurrent
// invocations observe each other's writes.
package filekv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/mailsift/mailsift/internal/fileutil"
	"github.com/mailsift/mailsift/internal/persistence"
)

var _ persistence.KVStore = (*Store)(nil)

// Store is a file-backed KV store. Every operation acquires the file lock,
// reloads the document, applies the change and writes it back atomically.
type Store struct {
	path     string
	flock    *flock.Flock
	mu       sync.Mutex
	lockWait time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockWait sets how long operations wait for the cross-process lock.
func WithLockWait(d time.Duration) Option {
	return func(s *Store) {
		s.lockWait = d
	}
}

// New creates a Store persisting to the given file path.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("kv store path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create kv store directory: %w", err)
	}
	s := &Store{
		path:     path,
		flock:    flock.New(path + ".lock"),
		lockWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		val string
		ok  bool
	)
	err := s.withLock(ctx, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		val, ok = doc[key]
		return nil
	})
	return val, ok, err
}

// Set stores the value for key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.withLock(ctx, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		doc[key] = value
		return s.save(doc)
	})
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.withLock(ctx, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		if _, ok := doc[key]; !ok {
			return nil
		}
		delete(doc, key)
		return s.save(doc)
	})
}

// SetMany applies all updates in one durable write. Nil values delete.
func (s *Store) SetMany(ctx context.Context, values map[string]*string) error {
	if len(values) == 0 {
		return nil
	}
	return s.withLock(ctx, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		for k, v := range values {
			if v == nil {
				delete(doc, k)
			} else {
				doc[k] = *v
			}
		}
		return s.save(doc)
	})
}

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	locked, err := s.flock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire kv store lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("kv store is locked by another process")
	}
	defer func() {
		_ = s.flock.Unlock()
	}()

	return fn()
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read kv store: %w", err)
	}
	if len(data) == 0 {
		return map[string]string{}, nil
	}
	var doc map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse kv store: %w", err)
	}
	if doc == nil {
		doc = map[string]string{}
	}
	return doc, nil
}

func (s *Store) save(doc map[string]string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode kv store: %w", err)
	}
	return fileutil.WriteFileAtomic(s.path, data, 0o644)
}
