package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lysyi3m/news-comb/app/database"
	"github.com/lysyi3m/news-comb/app/sources"
)

var (
	_ TaskSchedulerInterface = (*Scheduler)(nil)
	_ JobController          = (*Scheduler)(nil)
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job is already running")
	ErrJobDisabled = errors.New("job is disabled")
)

type Config struct {
	Interval       time.Duration
	WorkerCount    int
	QueueSize      int
	TaskTimeout    time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	FetchRetries   int
	FetchRetryBase time.Duration
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 5
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 300
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 5 * time.Minute
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Minute
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = time.Hour
	}
	if c.FetchRetries == 0 {
		c.FetchRetries = DefaultMaxRetries
	} else if c.FetchRetries < 0 {
		c.FetchRetries = 0
	}
	if c.FetchRetryBase <= 0 {
		c.FetchRetryBase = time.Second
	}
}

type Scheduler struct {
	configCache *sources.ConfigCache
	sourceStore database.SourceStore
	fetcher     Fetcher
	pipeline    Ingester
	reporter    Reporter
	cfg         Config
	backoff     Backoff
	logger      *slog.Logger

	now func() time.Time

	mu   sync.Mutex
	jobs map[string]*FetchJob

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	taskQueue chan TaskInterface
}

func NewScheduler(configCache *sources.ConfigCache, sourceStore database.SourceStore, fetcher Fetcher,
	pipeline Ingester, reporter Reporter, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		configCache: configCache,
		sourceStore: sourceStore,
		fetcher:     fetcher,
		pipeline:    pipeline,
		reporter:    reporter,
		cfg:         cfg,
		backoff:     Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		logger:      logger,
		now:         time.Now,
		jobs:        make(map[string]*FetchJob),
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, cfg.QueueSize),
	}
}

// Load creates a job per enabled source and restores persisted state, so a
// disabled job stays disabled across restarts.
func (s *Scheduler) Load(ctx context.Context) error {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sourceConfig := range s.configCache.GetEnabledConfigs() {
		job := newFetchJob(sourceConfig, now)

		persisted, err := s.sourceStore.GetSource(ctx, sourceConfig.Name)
		if err != nil {
			return fmt.Errorf("failed to load state of source %s: %w", sourceConfig.Name, err)
		}
		if persisted != nil {
			job.restore(persisted, now)
		}

		if err := s.sourceStore.SaveSource(ctx, job.toSource()); err != nil {
			return fmt.Errorf("failed to save state of source %s: %w", sourceConfig.Name, err)
		}

		s.jobs[job.Name] = job

		if job.State == JobDisabled {
			s.logger.Error("Source is disabled and needs operator attention", "source", job.Name,
				"failures", job.FailureCount, "last_error", job.LastError)
		}
	}

	s.logger.Debug("Scheduler jobs loaded", "count", len(s.jobs))
	return nil
}

func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.enqueueDue()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueDue()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.drain()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) Jobs() []FetchJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

func (s *Scheduler) Job(name string) (FetchJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return FetchJob{}, false
	}
	return job.snapshot(), true
}

// Enable restores a disabled job. It is the only way out of Disabled.
func (s *Scheduler) Enable(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if job.State == JobRunning {
		s.mu.Unlock()
		return ErrJobRunning
	}
	job.enable(s.now().UTC())
	state := job.toSource()
	s.mu.Unlock()

	s.logger.Info("Source enabled", "source", name)
	return s.sourceStore.SaveSource(ctx, state)
}

// RunNow dispatches the job immediately, ignoring its next-run time.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return ErrJobNotFound
	}
	switch job.State {
	case JobDisabled:
		return ErrJobDisabled
	case JobRunning:
		return ErrJobRunning
	}

	job.NextRunAt = s.now().UTC()
	return s.dispatchLocked(job)
}

// enqueueDue dispatches every job whose next run has come. Running jobs
// are skipped, not queued.
func (s *Scheduler) enqueueDue() int {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	dispatched := 0
	for _, name := range names {
		job := s.jobs[name]

		switch {
		case job.State == JobRunning:
			s.logger.Debug("Source still running, skipping trigger", "source", name)
		case job.State == JobDisabled:
		case !job.due(now):
			s.logger.Debug("Source not due yet", "source", name, "next_run_at", job.NextRunAt)
		default:
			if err := s.dispatchLocked(job); err != nil {
				s.logger.Warn("Failed to enqueue IngestSourceTask", "source", name, "error", err)
				continue
			}
			dispatched++
		}
	}

	return dispatched
}

func (s *Scheduler) dispatchLocked(job *FetchJob) error {
	task := NewIngestSourceTask(job.config, s.fetcher, s.pipeline, s.reporter, s.cfg.FetchRetries, s.cfg.FetchRetryBase)

	previous := job.State
	job.State = JobRunning
	if err := s.EnqueueTask(task); err != nil {
		job.State = previous
		return err
	}
	return nil
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, s.cfg.TaskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err != nil {
		s.logger.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()),
			"id", task.GetID(), "source", task.GetSourceName(), "retry_count", task.GetRetryCount(), "error", err)
	}

	s.finish(task.GetSourceName(), err)
}

// finish moves a job out of Running and persists the new state.
func (s *Scheduler) finish(name string, runErr error) {
	now := s.now().UTC()

	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return
	}

	if runErr == nil {
		job.succeed(now)
	} else {
		job.fail(now, runErr, s.backoff)
	}
	state := job.toSource()
	s.mu.Unlock()

	switch JobState(state.State) {
	case JobDisabled:
		s.logger.Error("Source disabled after repeated failures", "source", name,
			"failures", state.StructuralFailures, "last_error", state.LastError)
	case JobBackoff:
		s.logger.Warn("Source backing off", "source", name, "failures", state.FailureCount,
			"next_run_at", state.NextRunAt)
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.sourceStore.SaveSource(persistCtx, state); err != nil {
		s.logger.Error("Failed to persist source state", "source", name, "error", err)
	}
}

// drain settles tasks that were queued but never started. They count as
// cancelled runs.
func (s *Scheduler) drain() {
	for {
		select {
		case task := <-s.taskQueue:
			s.finish(task.GetSourceName(), context.Canceled)
		default:
			return
		}
	}
}
