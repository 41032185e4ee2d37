package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/mp-comb/app/accounts"
	"github.com/lysyi3m/mp-comb/app/database"
	"github.com/lysyi3m/mp-comb/app/ingest"
	"github.com/lysyi3m/mp-comb/app/settings"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	// suppressionThreshold is the number of consecutive failures a source
	// may accumulate before cycles start skipping it.
	suppressionThreshold = 2
	maxSuppressedCycles  = 64

	defaultQueueSize   = 300
	defaultTaskTimeout = 5 * time.Minute
)

type Pipeline interface {
	Refresher
	GetSource(ctx context.Context, id string) (*database.Source, error)
	ListSources(ctx context.Context, status database.SourceStatus) ([]database.Source, error)
}

type SettingsReader interface {
	Get(ctx context.Context) (settings.Settings, error)
}

type Config struct {
	Interval    time.Duration
	Workers     int
	TaskTimeout time.Duration
	QueueSize   int
}

type sourceHealth struct {
	failures        int
	suppressedUntil int
}

// Scheduler runs crawl cycles on the configured cadence and on demand. The
// worker count matches the browser pool so in-flight refreshes never exceed
// the number of browsing contexts.
type Scheduler struct {
	pipeline    Pipeline
	articles    database.ArticleRepository
	content     ContentFetcher
	settings    SettingsReader
	interval    time.Duration
	workerCount int
	taskTimeout time.Duration
	now         func() time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	mu        sync.Mutex
	cycle     int
	lastCycle time.Time
	pending   map[string]bool
	health    map[string]*sourceHealth
}

func NewScheduler(pipeline Pipeline, articles database.ArticleRepository, content ContentFetcher,
	settings SettingsReader, config Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = defaultTaskTimeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}

	return &Scheduler{
		pipeline:    pipeline,
		articles:    articles,
		content:     content,
		settings:    settings,
		interval:    config.Interval,
		workerCount: config.Workers,
		taskTimeout: config.TaskTimeout,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, config.QueueSize),
		pending:     make(map[string]bool),
		health:      make(map[string]*sourceHealth),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
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

// tick starts a cycle when crawling is enabled and crawl_interval has
// passed since the previous one.
func (s *Scheduler) tick() {
	cfg, err := s.settings.Get(s.ctx)
	if err != nil {
		slog.Error("Failed to load settings for crawl cycle", "error", err)
		return
	}
	if !cfg.CrawlEnabled {
		slog.Debug("Crawling disabled, skipping cycle")
		return
	}

	now := s.now()

	s.mu.Lock()
	due := s.lastCycle.IsZero() || now.Sub(s.lastCycle) >= cfg.CrawlInterval
	if due {
		s.cycle++
		s.lastCycle = now
	}
	cycle := s.cycle
	s.mu.Unlock()

	if !due {
		return
	}

	ack, err := s.enqueueAll(s.ctx, true)
	if err != nil {
		slog.Error("Failed to start crawl cycle", "cycle", cycle, "error", err)
		return
	}

	if cfg.RetentionDays > 0 {
		if err := s.EnqueueTask(NewPruneTask(cfg.RetentionDays, s.articles)); err != nil {
			slog.Warn("Failed to enqueue PruneTask", "error", err)
		}
	}

	slog.Info("Crawl cycle started", "cycle", cycle, "accepted", len(ack.Accepted), "skipped", len(ack.Skipped))
}

type Accepted struct {
	TaskID   string `json:"task_id"`
	SourceID string `json:"source_id"`
}

type Skipped struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

const (
	SkipQueued     = "queued"
	SkipSuppressed = "suppressed"
	SkipQueueFull  = "queue_full"
)

// Ack acknowledges a refresh request.
type Ack struct {
	Accepted []Accepted `json:"accepted"`
	Skipped  []Skipped  `json:"skipped"`
}

// TriggerSource queues a refresh of one source, even a suppressed one.
func (s *Scheduler) TriggerSource(ctx context.Context, sourceID string) (*Ack, error) {
	if _, err := s.pipeline.GetSource(ctx, sourceID); err != nil {
		return nil, err
	}

	ack := &Ack{Accepted: []Accepted{}, Skipped: []Skipped{}}
	s.enqueueRefresh(ack, sourceID, false)
	return ack, nil
}

// TriggerAll queues a refresh of every visible source that is not
// suppressed.
func (s *Scheduler) TriggerAll(ctx context.Context) (*Ack, error) {
	return s.enqueueAll(ctx, true)
}

func (s *Scheduler) enqueueAll(ctx context.Context, respectSuppression bool) (*Ack, error) {
	sources, err := s.pipeline.ListSources(ctx, database.SourceNormal)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	ack := &Ack{Accepted: []Accepted{}, Skipped: []Skipped{}}
	for _, src := range sources {
		s.enqueueRefresh(ack, src.ID, respectSuppression)
	}
	return ack, nil
}

func (s *Scheduler) enqueueRefresh(ack *Ack, sourceID string, respectSuppression bool) {
	s.mu.Lock()
	if s.pending[sourceID] {
		s.mu.Unlock()
		ack.Skipped = append(ack.Skipped, Skipped{SourceID: sourceID, Reason: SkipQueued})
		return
	}
	if respectSuppression && s.suppressedLocked(sourceID) {
		s.mu.Unlock()
		slog.Debug("Source suppressed, skipping refresh", "source", sourceID)
		ack.Skipped = append(ack.Skipped, Skipped{SourceID: sourceID, Reason: SkipSuppressed})
		return
	}
	s.pending[sourceID] = true
	s.mu.Unlock()

	task := NewRefreshSourceTask(sourceID, s.pipeline)
	task.done = s.refreshDone

	if err := s.EnqueueTask(task); err != nil {
		slog.Warn("Failed to enqueue RefreshSourceTask", "source", sourceID, "error", err)
		s.mu.Lock()
		delete(s.pending, sourceID)
		s.mu.Unlock()
		ack.Skipped = append(ack.Skipped, Skipped{SourceID: sourceID, Reason: SkipQueueFull})
		return
	}

	ack.Accepted = append(ack.Accepted, Accepted{TaskID: task.ID, SourceID: sourceID})
}

func (s *Scheduler) suppressedLocked(sourceID string) bool {
	h, ok := s.health[sourceID]
	return ok && s.cycle <= h.suppressedUntil
}

// refreshDone updates suppression state and chains content extraction.
func (s *Scheduler) refreshDone(ctx context.Context, t *RefreshSourceTask, result *ingest.RefreshResult, err error) {
	id := t.SourceID

	s.mu.Lock()
	delete(s.pending, id)

	switch outcome := ingest.OutcomeFor(ctx, err); {
	case errors.Is(err, ingest.ErrSourceRefreshConflict), errors.Is(err, accounts.ErrNoAccountAvailable):
	case outcome == accounts.OutcomeAuthFailure, outcome == accounts.OutcomeRateLimited:
		h, ok := s.health[id]
		if !ok {
			h = &sourceHealth{}
			s.health[id] = h
		}
		h.failures++
		if skip := suppressionCycles(h.failures); skip > 0 {
			h.suppressedUntil = s.cycle + skip
			slog.Warn("Source suppressed after repeated failures", "source", id, "failures", h.failures, "cycles", skip)
		}
	case outcome == accounts.OutcomeSuccess && err == nil:
		delete(s.health, id)
	}
	s.mu.Unlock()

	if err != nil || result == nil || result.NewItems == 0 {
		return
	}

	cfg, cfgErr := s.settings.Get(ctx)
	if cfgErr != nil || !cfg.ExtractContent {
		return
	}
	if err := s.EnqueueTask(NewExtractContentTask(id, cfg.MaxItems, s.content, s.articles)); err != nil {
		slog.Warn("Failed to enqueue ExtractContentTask", "source", id, "error", err)
	}
}

// suppressionCycles is the number of cycles to skip after n consecutive
// failures: nothing up to the threshold, then doubling up to a cap.
func suppressionCycles(n int) int {
	if n <= suppressionThreshold {
		return 0
	}
	return min(1<<min(n-suppressionThreshold, 7), maxSuppressedCycles)
}

type SourceState struct {
	Queued           bool `json:"queued"`
	Failures         int  `json:"failures"`
	SuppressedCycles int  `json:"suppressed_cycles"`
}

func (s *Scheduler) SourceState(sourceID string) SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := SourceState{Queued: s.pending[sourceID]}
	if h, ok := s.health[sourceID]; ok {
		state.Failures = h.failures
		state.SuppressedCycles = max(h.suppressedUntil-s.cycle, 0)
	}
	return state
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

	taskCtx, cancel := context.WithTimeout(s.ctx, s.taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "source", task.GetSourceID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "source", task.GetSourceID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				case <-time.After(retryDelay):
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else if task.GetMaxRetries() > 0 {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
