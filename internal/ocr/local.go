package ocr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/extract"
	"github.com/hyperjump/compliagent/internal/fault"
	"github.com/hyperjump/compliagent/internal/models"
)

// LocalEngineName is reported as the extraction engine in ExtractedContent.
const LocalEngineName = "local-text"

const (
	defaultWorkers      = 2
	defaultPollInterval = 200 * time.Millisecond
	defaultGateTimeout  = 5 * time.Minute
	resultCacheSize     = 1024
)

// ObjectReader reads raw documents.
type ObjectReader interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// Publisher delivers completions, normally to the completion topic.
type Publisher func(ctx context.Context, c Completion) error

// Gate reports whether a job's completion may be delivered yet.
type Gate func(ctx context.Context, jobID string) (bool, error)

type localJob struct {
	id  string
	loc models.ObjectRef
}

type localOutcome struct {
	result *Result
	err    error
}

// LocalEngine extracts text in-process on a small worker pool and reports completions
// asynchronously, like a remote OCR service would.
type LocalEngine struct {
	objects     ObjectReader
	extractor   *extract.Extractor
	publish     Publisher
	gate        Gate
	workers     int
	poll        time.Duration
	gateTimeout time.Duration
	logger      *zap.Logger

	results *lru.Cache[string, localOutcome]
	queue   chan localJob
	wg      sync.WaitGroup
	once    sync.Once
}

// LocalOption configures a LocalEngine.
type LocalOption func(*LocalEngine)

// WithWorkers sets the number of concurrent extractions.
func WithWorkers(n int) LocalOption {
	return func(e *LocalEngine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithDeliveryGate holds each completion until gate reports true, polling every interval.
// The pipeline uses it to wait for the job join to be recorded.
func WithDeliveryGate(gate Gate, interval time.Duration) LocalOption {
	return func(e *LocalEngine) {
		e.gate = gate
		if interval > 0 {
			e.poll = interval
		}
	}
}

// WithGateTimeout bounds how long a completion waits on the gate before it is dropped.
func WithGateTimeout(d time.Duration) LocalOption {
	return func(e *LocalEngine) {
		if d > 0 {
			e.gateTimeout = d
		}
	}
}

// WithLocalLogger sets the logger.
func WithLocalLogger(l *zap.Logger) LocalOption {
	return func(e *LocalEngine) { e.logger = l }
}

// NewLocalEngine creates an engine reading documents from objects.
func NewLocalEngine(objects ObjectReader, publish Publisher, opts ...LocalOption) *LocalEngine {
	e := &LocalEngine{
		objects:     objects,
		extractor:   extract.NewExtractor(),
		publish:     publish,
		workers:     defaultWorkers,
		poll:        defaultPollInterval,
		gateTimeout: defaultGateTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.results, _ = lru.New[string, localOutcome](resultCacheSize)
	e.queue = make(chan localJob, e.workers*16)
	return e
}

// Start launches the workers. They exit when ctx is cancelled.
func (e *LocalEngine) Start(ctx context.Context) {
	e.once.Do(func() {
		for i := 0; i < e.workers; i++ {
			e.wg.Add(1)
			go e.work(ctx)
		}
	})
}

// Wait blocks until the workers have exited.
func (e *LocalEngine) Wait() { e.wg.Wait() }

// StartJob queues the object and returns its job id.
func (e *LocalEngine) StartJob(ctx context.Context, loc models.ObjectRef) (string, error) {
	job := localJob{id: uuid.NewString(), loc: loc}
	select {
	case e.queue <- job:
		return job.id, nil
	case <-ctx.Done():
		return "", fault.Transient("start ocr job", ctx.Err())
	}
}

// GetResult returns the segments of a succeeded job.
func (e *LocalEngine) GetResult(ctx context.Context, jobID string) (*Result, error) {
	out, ok := e.results.Get(jobID)
	if !ok {
		return nil, fault.NotFound("get ocr result", "ocr job not found: %s", jobID)
	}
	if out.err != nil {
		return nil, fault.Unclassified("get ocr result", out.err)
	}
	return out.result, nil
}

func (e *LocalEngine) work(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.queue:
			e.run(ctx, job)
		}
	}
}

func (e *LocalEngine) run(ctx context.Context, job localJob) {
	start := time.Now()
	completion := Completion{JobID: job.id, Status: JobSucceeded}
	segments, err := e.extractJob(ctx, job)
	if err != nil {
		completion.Status = JobFailed
		completion.ErrorCode = CodeJobFailed
		completion.Message = err.Error()
		e.results.Add(job.id, localOutcome{err: err})
		e.logger.Warn("extraction failed", zap.String("job_id", job.id), zap.String("key", job.loc.Key), zap.Error(err))
	} else {
		e.results.Add(job.id, localOutcome{result: &Result{Engine: LocalEngineName, Segments: segments}})
		e.logger.Debug("extraction finished",
			zap.String("job_id", job.id), zap.Int("segments", len(segments)), zap.Duration("took", time.Since(start)))
	}

	if err := e.waitGate(ctx, job.id); err != nil {
		e.logger.Error("completion not delivered", zap.String("job_id", job.id), zap.Error(err))
		return
	}
	if err := e.publish(ctx, completion); err != nil {
		e.logger.Error("failed to publish completion", zap.String("job_id", job.id), zap.Error(err))
	}
}

func (e *LocalEngine) extractJob(ctx context.Context, job localJob) ([]models.Segment, error) {
	data, err := e.objects.Get(ctx, job.loc.Bucket, job.loc.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", job.loc.Bucket, job.loc.Key, err)
	}
	segments, err := e.extractor.Segments(data, job.loc.Key)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("no text found in %s", job.loc.Key)
	}
	return segments, nil
}

func (e *LocalEngine) waitGate(ctx context.Context, jobID string) error {
	if e.gate == nil {
		return nil
	}
	deadline := time.NewTimer(e.gateTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		ok, err := e.gate(ctx, jobID)
		if err != nil && !fault.IsNotFound(err) {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("job %s was never recorded", jobID)
		case <-ticker.C:
		}
	}
}
