package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/models"
)

// GapAnalysisStarter starts gap-analysis executions.
type GapAnalysisStarter interface {
	StartGapAnalysis(ctx context.Context, in models.GapAnalysisInput) (*models.ExecutionStarted, error)
}

// Scheduler starts a gap analysis for each configured query on a fixed interval.
type Scheduler struct {
	starter  GapAnalysisStarter
	interval time.Duration
	queries  []string
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewScheduler creates a scheduler. A zero interval or an empty query list disables it.
func NewScheduler(starter GapAnalysisStarter, interval time.Duration, queries []string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{starter: starter, interval: interval, queries: queries, logger: logger}
}

// Enabled reports whether the scheduler has anything to run.
func (s *Scheduler) Enabled() bool {
	return s.interval > 0 && len(s.queries) > 0
}

// Start runs the schedule in the background until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || !s.Enabled() {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(ctx, s.stopCh, s.done)
}

// Stop ends the schedule and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()
	<-done
}

func (s *Scheduler) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, q := range s.queries {
		started, err := s.starter.StartGapAnalysis(ctx, models.GapAnalysisInput{QueryText: q})
		if err != nil {
			s.logger.Error("scheduled gap analysis failed to start", zap.String("query", q), zap.Error(err))
			continue
		}
		s.logger.Info("scheduled gap analysis started", zap.String("query", q), zap.String("execution_id", started.ExecutionID))
	}
}
