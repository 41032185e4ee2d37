package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lysyi3m/mp-comb/app/database"
	"github.com/lysyi3m/mp-comb/app/extractor"
	"github.com/lysyi3m/mp-comb/app/ingest"
	"github.com/lysyi3m/mp-comb/app/settings"
)

type MockPipeline struct {
	mu       sync.Mutex
	sources  []database.Source
	refresh  func(ctx context.Context, id string) (*ingest.RefreshResult, error)
	refreshd []string
}

func (m *MockPipeline) RefreshSource(ctx context.Context, id string) (*ingest.RefreshResult, error) {
	m.mu.Lock()
	m.refreshd = append(m.refreshd, id)
	fn := m.refresh
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, id)
	}
	return &ingest.RefreshResult{SourceID: id}, nil
}

func (m *MockPipeline) GetSource(ctx context.Context, id string) (*database.Source, error) {
	for _, s := range m.sources {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, ingest.ErrFeedNotFound
}

func (m *MockPipeline) ListSources(ctx context.Context, status database.SourceStatus) ([]database.Source, error) {
	var out []database.Source
	for _, s := range m.sources {
		if status == "" || s.Status == status {
			out = append(out, s)
		}
	}
	return out, nil
}

type MockSettings struct {
	mu       sync.Mutex
	settings settings.Settings
}

func (m *MockSettings) Get(ctx context.Context) (settings.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func testSources() []database.Source {
	return []database.Source{
		{ID: "a", Status: database.SourceNormal},
		{ID: "b", Status: database.SourceNormal},
		{ID: "c", Status: database.SourceHidden},
	}
}

func newTestScheduler(pipeline *MockPipeline, workers int) (*Scheduler, *MockSettings) {
	st := &MockSettings{settings: settings.Defaults()}
	s := NewScheduler(pipeline, &MockArticleRepository{}, &MockContentFetcher{}, st, Config{
		Interval: time.Hour,
		Workers:  workers,
	})
	return s, st
}

func drain(s *Scheduler) []TaskInterface {
	var out []TaskInterface
	for {
		select {
		case t := <-s.taskQueue:
			out = append(out, t)
		default:
			return out
		}
	}
}

func TestSuppressionCycles(t *testing.T) {
	tests := []struct {
		failures int
		want     int
	}{
		{0, 0}, {1, 0}, {2, 0}, {3, 2}, {4, 4}, {5, 8}, {8, 64}, {9, 64}, {30, 64},
	}

	for _, tt := range tests {
		if got := suppressionCycles(tt.failures); got != tt.want {
			t.Errorf("Expected %d cycles after %d failures, got %d", tt.want, tt.failures, got)
		}
	}
}

func TestTriggerAll(t *testing.T) {
	s, _ := newTestScheduler(&MockPipeline{sources: testSources()}, 1)
	ctx := context.Background()

	ack, err := s.TriggerAll(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(ack.Accepted) != 2 {
		t.Errorf("Expected 2 accepted sources, got %d", len(ack.Accepted))
	}
	for _, a := range ack.Accepted {
		if a.SourceID == "c" {
			t.Error("Expected hidden source to be skipped")
		}
		if a.TaskID == "" {
			t.Error("Expected a task id")
		}
	}

	again, _ := s.TriggerAll(ctx)
	if len(again.Accepted) != 0 || len(again.Skipped) != 2 {
		t.Errorf("Expected queued sources to be skipped, got %+v", again)
	}
	if again.Skipped[0].Reason != SkipQueued {
		t.Errorf("Expected reason %s, got %s", SkipQueued, again.Skipped[0].Reason)
	}
	if !s.SourceState("a").Queued {
		t.Error("Expected source a to be reported as queued")
	}
}

func TestTriggerSourceUnknown(t *testing.T) {
	s, _ := newTestScheduler(&MockPipeline{sources: testSources()}, 1)

	_, err := s.TriggerSource(context.Background(), "zzz")
	if !errors.Is(err, ingest.ErrFeedNotFound) {
		t.Errorf("Expected ErrFeedNotFound, got %v", err)
	}
}

func TestTriggerSourceQueueFull(t *testing.T) {
	pipeline := &MockPipeline{sources: testSources()}
	st := &MockSettings{settings: settings.Defaults()}
	s := NewScheduler(pipeline, &MockArticleRepository{}, &MockContentFetcher{}, st, Config{QueueSize: 1})
	ctx := context.Background()

	if ack, _ := s.TriggerSource(ctx, "a"); len(ack.Accepted) != 1 {
		t.Fatalf("Expected source a to be accepted, got %+v", ack)
	}

	ack, err := s.TriggerSource(ctx, "b")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(ack.Skipped) != 1 || ack.Skipped[0].Reason != SkipQueueFull {
		t.Errorf("Expected a full queue, got %+v", ack)
	}
	if s.SourceState("b").Queued {
		t.Error("Expected b not to stay marked as queued")
	}
}

func TestSuppression(t *testing.T) {
	s, _ := newTestScheduler(&MockPipeline{sources: testSources()}, 1)
	ctx := context.Background()
	s.cycle = 1

	task := NewRefreshSourceTask("a", s.pipeline)
	for i := 0; i < 3; i++ {
		s.refreshDone(ctx, task, nil, extractor.ErrRateLimited)
	}

	state := s.SourceState("a")
	if state.Failures != 3 || state.SuppressedCycles != 2 {
		t.Errorf("Expected 3 failures and 2 suppressed cycles, got %+v", state)
	}

	ack, _ := s.TriggerAll(ctx)
	if len(ack.Accepted) != 1 || ack.Accepted[0].SourceID != "b" {
		t.Errorf("Expected only b to be accepted, got %+v", ack)
	}
	if len(ack.Skipped) != 1 || ack.Skipped[0].Reason != SkipSuppressed {
		t.Errorf("Expected a to be suppressed, got %+v", ack.Skipped)
	}
	drain(s)
	s.pending = map[string]bool{}

	forced, err := s.TriggerSource(ctx, "a")
	if err != nil || len(forced.Accepted) != 1 {
		t.Errorf("Expected an explicit trigger to bypass suppression, got %+v %v", forced, err)
	}
	drain(s)
	s.pending = map[string]bool{}

	s.cycle = 4
	ack, _ = s.TriggerAll(ctx)
	if len(ack.Accepted) != 2 {
		t.Errorf("Expected suppression to lapse, got %+v", ack)
	}
	drain(s)
	s.pending = map[string]bool{}

	s.refreshDone(ctx, task, &ingest.RefreshResult{SourceID: "a"}, nil)
	if state := s.SourceState("a"); state.Failures != 0 {
		t.Errorf("Expected success to reset failures, got %+v", state)
	}
}

func TestSuppressionIgnoresNonCredentialErrors(t *testing.T) {
	s, _ := newTestScheduler(&MockPipeline{sources: testSources()}, 1)
	ctx := context.Background()
	task := NewRefreshSourceTask("a", s.pipeline)

	for i := 0; i < 5; i++ {
		s.refreshDone(ctx, task, nil, ingest.ErrSourceRefreshConflict)
		s.refreshDone(ctx, task, nil, &extractor.ExtractionError{Reason: extractor.ReasonParse, Err: errors.New("bad")})
	}

	if state := s.SourceState("a"); state.Failures != 0 {
		t.Errorf("Expected no failures counted, got %+v", state)
	}
}

func TestRefreshChainsExtraction(t *testing.T) {
	s, st := newTestScheduler(&MockPipeline{sources: testSources()}, 1)
	ctx := context.Background()
	task := NewRefreshSourceTask("a", s.pipeline)

	s.refreshDone(ctx, task, &ingest.RefreshResult{SourceID: "a", NewItems: 2}, nil)
	queued := drain(s)
	if len(queued) != 1 || queued[0].GetType() != TaskTypeExtractContent || queued[0].GetSourceID() != "a" {
		t.Fatalf("Expected one extraction task for a, got %v", queued)
	}

	s.refreshDone(ctx, task, &ingest.RefreshResult{SourceID: "a"}, nil)
	if queued := drain(s); len(queued) != 0 {
		t.Errorf("Expected no extraction without new items, got %d tasks", len(queued))
	}

	st.settings.ExtractContent = false
	s.refreshDone(ctx, task, &ingest.RefreshResult{SourceID: "a", NewItems: 2}, nil)
	if queued := drain(s); len(queued) != 0 {
		t.Errorf("Expected no extraction when disabled, got %d tasks", len(queued))
	}
}

func TestTickCadence(t *testing.T) {
	s, st := newTestScheduler(&MockPipeline{sources: testSources()}, 1)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.tick()
	if s.cycle != 1 {
		t.Fatalf("Expected the first tick to start a cycle, got %d", s.cycle)
	}
	queued := drain(s)
	if len(queued) != 3 {
		t.Errorf("Expected 2 refreshes and a prune, got %d tasks", len(queued))
	}
	s.pending = map[string]bool{}

	now = now.Add(30 * time.Minute)
	s.tick()
	if s.cycle != 1 {
		t.Errorf("Expected no cycle before crawl_interval, got %d", s.cycle)
	}

	now = now.Add(30 * time.Minute)
	s.tick()
	if s.cycle != 2 {
		t.Errorf("Expected a second cycle, got %d", s.cycle)
	}
	drain(s)

	st.settings.CrawlEnabled = false
	now = now.Add(2 * time.Hour)
	s.tick()
	if s.cycle != 2 {
		t.Errorf("Expected no cycle while crawling is disabled, got %d", s.cycle)
	}
}

func TestConcurrencyBoundedByWorkers(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})

	sources := make([]database.Source, 6)
	for i := range sources {
		sources[i] = database.Source{ID: string(rune('a' + i)), Status: database.SourceNormal}
	}

	pipeline := &MockPipeline{
		sources: sources,
		refresh: func(ctx context.Context, id string) (*ingest.RefreshResult, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			defer inFlight.Add(-1)

			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &ingest.RefreshResult{SourceID: id}, nil
		},
	}

	s, _ := newTestScheduler(pipeline, 2)
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for inFlight.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	if got := peak.Load(); got != 2 {
		t.Errorf("Expected 2 refreshes in flight, got %d", got)
	}

	close(release)
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pipeline.mu.Lock()
		n := len(pipeline.refreshd)
		pipeline.mu.Unlock()
		if n == len(sources) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if got := peak.Load(); got > 2 {
		t.Errorf("Expected at most 2 concurrent refreshes, got %d", got)
	}
	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	if len(pipeline.refreshd) != len(sources) {
		t.Errorf("Expected every source refreshed, got %d", len(pipeline.refreshd))
	}
}
