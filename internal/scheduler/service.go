// Package scheduler runs named housekeeping jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/neoclaw-ai/herald/internal/logging"
	"github.com/robfig/cron/v3"
)

// JobFunc is the body of one scheduled job.
type JobFunc func(ctx context.Context) error

type job struct {
	name    string
	spec    string
	run     JobFunc
	entryID cron.EntryID
}

// Service runs registered jobs on their cron schedules.
type Service struct {
	cron *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	started bool
}

// NewService creates a cron-backed scheduler service. Overlapping runs of the
// same job are skipped and panics are recovered.
func NewService() *Service {
	logger := cronLogger{}
	return &Service{
		cron: cron.New(
			cron.WithLocation(time.Local),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		jobs: make(map[string]*job),
	}
}

// AddJob registers fn under name with a standard five-field cron spec or a
// descriptor such as "@every 5m". Jobs may be added before or after Start.
func (s *Service) AddJob(name, spec string, fn JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("job name is required")
	}
	if fn == nil {
		return fmt.Errorf("job %q: function is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, spec: spec, run: fn}
	id, err := s.cron.AddFunc(spec, func() { s.execute(j, "cron") })
	if err != nil {
		return fmt.Errorf("register cron job %q: %w", name, err)
	}
	j.entryID = id
	s.jobs[name] = j
	return nil
}

// RemoveJob unregisters name. It reports whether the job existed.
func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(j.entryID)
	delete(s.jobs, name)
	return true
}

// Jobs returns the registered job names, sorted.
func (s *Service) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins cron execution. Job runs receive ctx.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.ctx = ctx
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	logging.Logger().Info("scheduler started", "jobs_registered", count)
	return nil
}

// Stop stops cron and waits for in-flight runs to finish or ctx cancellation.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	doneCtx := s.cron.Stop()
	select {
	case <-doneCtx.Done():
		logging.Logger().Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes one job immediately by name.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	return s.runJob(ctx, j, "manual")
}

func (s *Service) execute(j *job, source string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_ = s.runJob(ctx, j, source)
}

func (s *Service) runJob(ctx context.Context, j *job, source string) error {
	start := time.Now()
	if err := j.run(ctx); err != nil {
		logging.Logger().Warn(
			"scheduled job failed",
			"job", j.name,
			"source", source,
			"err", err,
		)
		return err
	}
	logging.Logger().Debug(
		"scheduled job succeeded",
		"job", j.name,
		"source", source,
		"duration", time.Since(start),
	)
	return nil
}

// cronLogger routes cron's own logging into the process logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logging.Logger().Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logging.Logger().Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
