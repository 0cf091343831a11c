package trigger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

var _ Service = (*MemoryService)(nil)

// MemoryService is an in-memory Service for tests. Triggers never fire on
// their own; tests fire them explicitly with Fire.
type MemoryService struct {
	mu       sync.Mutex
	handlers map[string]Handler
	oneOffs  map[string]bool
}

// NewMemoryService creates an empty MemoryService.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		handlers: make(map[string]Handler),
		oneOffs:  make(map[string]bool),
	}
}

// List returns the names of all installed triggers, sorted.
func (s *MemoryService) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateRecurring installs a trigger.
func (s *MemoryService) CreateRecurring(_ context.Context, name string, _ time.Duration, h Handler) error {
	return s.install(name, h, false)
}

// CreateOneOff installs a one-shot trigger.
func (s *MemoryService) CreateOneOff(_ context.Context, name string, _ time.Duration, h Handler) error {
	return s.install(name, h, true)
}

// Delete removes the named trigger.
func (s *MemoryService) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, name)
	delete(s.oneOffs, name)
	return nil
}

// Has reports whether the named trigger is installed.
func (s *MemoryService) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handlers[name]
	return ok
}

// Fire invokes the named trigger's handler, removing it first when it is
// a one-off (matching host semantics where a fired one-off is gone).
func (s *MemoryService) Fire(ctx context.Context, name string) error {
	s.mu.Lock()
	h, ok := s.handlers[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no such trigger: %s", name)
	}
	if s.oneOffs[name] {
		delete(s.handlers, name)
		delete(s.oneOffs, name)
	}
	s.mu.Unlock()

	h(ctx)
	return nil
}

func (s *MemoryService) install(name string, h Handler, oneOff bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrTriggerExists, name)
	}
	s.handlers[name] = h
	s.oneOffs[name] = oneOff
	return nil
}
