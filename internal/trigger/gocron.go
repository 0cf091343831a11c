package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mailsift/mailsift/internal/logger"
)

var _ Service = (*GocronService)(nil)

// GocronService implements Service on an in-process gocron scheduler.
type GocronService struct {
	scheduler gocron.Scheduler
	baseCtx   context.Context

	mu   sync.Mutex
	jobs map[string]uuid.UUID
}

// NewGocronService creates and starts a gocron-backed trigger service.
// Handlers run on the given base context so they inherit the daemon's
// logger and cancellation.
func NewGocronService(baseCtx context.Context, clock clockwork.Clock) (*GocronService, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	scheduler.Start()
	return &GocronService{
		scheduler: scheduler,
		baseCtx:   baseCtx,
		jobs:      make(map[string]uuid.UUID),
	}, nil
}

// List returns the names of all installed triggers.
func (s *GocronService) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names, nil
}

// CreateRecurring installs a trigger firing every interval.
func (s *GocronService) CreateRecurring(_ context.Context, name string, every time.Duration, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrTriggerExists, name)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() { h(s.baseCtx) }),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to create recurring trigger %s: %w", name, err)
	}
	s.jobs[name] = job.ID()
	return nil
}

// CreateOneOff installs a trigger firing once after the delay.
func (s *GocronService) CreateOneOff(_ context.Context, name string, after time.Duration, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrTriggerExists, name)
	}
	job, err := s.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(after))),
		gocron.NewTask(func() {
			defer s.forget(name)
			h(s.baseCtx)
		}),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to create one-off trigger %s: %w", name, err)
	}
	s.jobs[name] = job.ID()
	return nil
}

// Delete removes the named trigger.
func (s *GocronService) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.jobs[name]
	if !ok {
		return nil
	}
	delete(s.jobs, name)
	if err := s.scheduler.RemoveJob(id); err != nil {
		logger.Warn(ctx, "failed to remove trigger job", "name", name, "err", err)
	}
	return nil
}

// Shutdown stops the underlying scheduler.
func (s *GocronService) Shutdown() error {
	return s.scheduler.Shutdown()
}

func (s *GocronService) forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}
