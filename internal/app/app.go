// Package app assembles the ingestion pipeline, search, workflows and API into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/config"
	"github.com/hyperjump/compliagent/internal/embedding"
	"github.com/hyperjump/compliagent/internal/ingest"
	"github.com/hyperjump/compliagent/internal/keyword"
	"github.com/hyperjump/compliagent/internal/ledger"
	"github.com/hyperjump/compliagent/internal/llm"
	"github.com/hyperjump/compliagent/internal/models"
	"github.com/hyperjump/compliagent/internal/monitor"
	"github.com/hyperjump/compliagent/internal/notify"
	"github.com/hyperjump/compliagent/internal/objectstore"
	"github.com/hyperjump/compliagent/internal/ocr"
	"github.com/hyperjump/compliagent/internal/realtime"
	"github.com/hyperjump/compliagent/internal/retry"
	"github.com/hyperjump/compliagent/internal/search"
	"github.com/hyperjump/compliagent/internal/server"
	"github.com/hyperjump/compliagent/internal/storage"
	"github.com/hyperjump/compliagent/internal/vector"
	"github.com/hyperjump/compliagent/internal/vectorize"
	"github.com/hyperjump/compliagent/internal/watcher"
	"github.com/hyperjump/compliagent/internal/workflow"
)

const ocrProviderLocal = "local"

// Components holds every long-lived part of the process.
type Components struct {
	Config      *config.Config
	Logger      *zap.Logger
	Store       *storage.SQLiteStorage
	Objects     *objectstore.Store
	Ledger      *ledger.Ledger
	Keyword     *keyword.BleveIndex
	Vectors     *vector.MemoryIndex
	Embedder    embedding.Embedder
	Search      *search.Engine
	Hub         *realtime.Hub
	ObjectTopic *notify.Topic[models.ObjectCreated]
	Completions *notify.Topic[ocr.Completion]
	OCR         *ocr.LocalEngine
	Extraction  *ocr.Stage
	Trigger     *ingest.Trigger
	Vectorizer  *vectorize.Stage
	Watcher     *watcher.Watcher
	Engine      *workflow.Engine
	Workflows   *workflow.Service
	Scheduler   *workflow.Scheduler
	Monitor     *monitor.Monitor
	Server      *server.Server

	cancel context.CancelFunc
	done   chan struct{}
}

// Option overrides a component, mostly for tests.
type Option func(*overrides)

type overrides struct {
	embedder  embedding.Embedder
	generator llm.Generator
}

// WithEmbedder replaces the configured embedding service.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *overrides) { o.embedder = e }
}

// WithGenerator replaces the configured reasoning service.
func WithGenerator(g llm.Generator) Option {
	return func(o *overrides) { o.generator = g }
}

// RetryPolicy converts the retry settings.
func RetryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		CallTimeout:     cfg.CallTimeout,
	}
}

// New opens the stores and wires the components. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *Components, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o overrides
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.OCR.Provider != ocrProviderLocal {
		return nil, fmt.Errorf("unsupported ocr provider: %s", cfg.OCR.Provider)
	}

	c := &Components{Config: cfg, Logger: logger, done: make(chan struct{})}
	defer func() {
		if err != nil {
			_ = c.closeStores()
		}
	}()
	policy := RetryPolicy(cfg.Retry)

	if c.Store, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if c.Keyword, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath); err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	if c.Vectors, err = vector.NewMemoryIndex(cfg.Embedding.Dimensions); err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	n, err := vectorize.RestoreIndex(ctx, c.Store, c.Vectors, cfg.Storage.VectorIndexPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to restore vector index: %w", err)
	}
	logger.Info("vector index ready", zap.Int("chunks", n))

	c.Embedder = o.embedder
	if c.Embedder == nil {
		if c.Embedder, err = embedding.New(ctx, cfg.Embedding, logger); err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}
	gen := o.generator
	if gen == nil {
		if gen, err = llm.New(ctx, cfg.LLM, logger); err != nil {
			return nil, fmt.Errorf("failed to initialize llm: %w", err)
		}
	}

	c.Hub = realtime.NewHub(realtime.WithLogger(logger))
	c.Ledger = ledger.New(c.Store,
		ledger.WithLogger(logger),
		ledger.WithObserver(func(rec *models.DocumentRecord) { c.Hub.Publish(realtime.EventDocumentStatus, rec) }))

	c.Objects, err = objectstore.New(map[string]string{
		objectstore.BucketRaw:       cfg.Buckets.RawDir,
		objectstore.BucketProcessed: cfg.Buckets.ProcessedDir,
	}, objectstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	redelivery := notify.WithRedelivery(cfg.Retry.MaxAttempts, cfg.Retry.InitialInterval, cfg.Retry.MaxInterval)
	c.ObjectTopic = notify.NewTopic[models.ObjectCreated]("object-created", notify.WithLogger(logger), redelivery)
	c.Completions = notify.NewTopic[ocr.Completion]("ocr-completion", notify.WithLogger(logger), redelivery)

	watching := cfg.Ingest.WatchOrDefault()
	c.Objects.SetNotifier(func(ctx context.Context, ev models.ObjectCreated) error {
		if watching && ev.Bucket == objectstore.BucketRaw {
			return nil
		}
		return c.ObjectTopic.Publish(ctx, ev)
	})

	c.OCR = ocr.NewLocalEngine(c.Objects, c.Completions.Publish,
		ocr.WithWorkers(cfg.OCR.Workers),
		ocr.WithDeliveryGate(func(ctx context.Context, jobID string) (bool, error) {
			job, err := c.Store.GetOCRJob(ctx, jobID)
			return job != nil, err
		}, cfg.OCR.PollInterval),
		ocr.WithLocalLogger(logger))
	c.Extraction = ocr.NewStage(c.Ledger, c.Store, c.OCR, c.Objects,
		ocr.WithLogger(logger), ocr.WithRetryPolicy(policy))
	c.Trigger = ingest.NewTrigger(objectstore.BucketRaw, cfg.Ingest.Suffixes, c.Ledger, c.Extraction,
		ingest.WithLogger(logger), ingest.WithPolicyPrefixes(cfg.Ingest.PolicyPrefixes...))
	c.Vectorizer = vectorize.NewStage(c.Ledger, c.Objects, c.Store, c.Embedder, c.Vectors,
		vectorize.WithLogger(logger),
		vectorize.WithRetryPolicy(policy),
		vectorize.WithChunker(vectorize.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.OverlapWords)),
		vectorize.WithBatchSize(cfg.Embedding.BatchSize),
		vectorize.WithKeywordIndex(c.Keyword))

	c.ObjectTopic.Subscribe(c.Trigger.Handle)
	c.ObjectTopic.Subscribe(c.Vectorizer.Handle)
	c.Completions.Subscribe(c.Extraction.HandleCompletion)

	if watching {
		c.Watcher = watcher.New([]string{cfg.Buckets.RawDir}, cfg.Ingest.Suffixes, c.Objects, c.ObjectTopic.Publish,
			watcher.WithLogger(logger))
	}

	c.Search = search.NewEngine(c.Store, c.Embedder, c.Vectors, cfg.Search,
		search.WithLogger(logger), search.WithKeywordIndex(c.Keyword))

	c.Engine = workflow.NewEngine(c.Store,
		workflow.WithLogger(logger),
		workflow.WithRetryPolicy(policy),
		workflow.WithTimeout(cfg.Workflow.Timeout),
		workflow.WithObserver(func(exec *models.WorkflowExecution) { c.Hub.Publish(realtime.EventExecutionFinished, exec) }))
	analyst := llm.NewAnalyst(gen, cfg.LLM.MaxTokens, cfg.LLM.Temperature,
		llm.WithLogger(logger), llm.WithContextLimit(cfg.Workflow.ContextLimit))
	drafter := llm.NewDrafter(gen, cfg.LLM.MaxTokens, cfg.LLM.DraftTemperature, llm.WithLogger(logger))
	c.Workflows = workflow.NewService(c.Engine, c.Store, c.Search, analyst, drafter,
		workflow.WithDraftBatch(cfg.Workflow.DraftBatch),
		workflow.WithContextLimit(cfg.Workflow.ContextLimit),
		workflow.WithGapObserver(func(g *models.GapRecord) { c.Hub.Publish(realtime.EventGapCreated, g) }),
		workflow.WithAmendmentObserver(func(a *models.AmendmentRecord) { c.Hub.Publish(realtime.EventAmendmentCreated, a) }))
	c.Scheduler = workflow.NewScheduler(c.Workflows, cfg.Analysis.Schedule.Interval, cfg.Analysis.Schedule.Queries, logger)

	if cfg.Monitor.Enabled {
		c.Monitor = monitor.New(c.Objects, objectstore.BucketRaw, cfg.Monitor,
			monitor.WithLogger(logger), monitor.WithRetryPolicy(policy))
	}

	c.Server = server.NewServer(server.Deps{
		Store:         c.Store,
		Ledger:        c.Ledger,
		Search:        c.Search,
		Workflows:     c.Workflows,
		ObjectCreated: c.ObjectTopic.Publish,
		Completion:    c.Completions.Publish,
		Events:        c.Hub,
		Stream:        c.Hub,
		Config:        cfg,
	}, logger)
	return c, nil
}

// Start launches the background workers: topic deliveries, local extraction, the bucket
// watcher, the schedule and the source monitor.
func (c *Components) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.ObjectTopic.Start(ctx)
	c.Completions.Start(ctx)
	c.OCR.Start(ctx)
	if c.Watcher != nil {
		if err := c.Watcher.Start(ctx); err != nil {
			c.cancel()
			return fmt.Errorf("failed to watch raw bucket: %w", err)
		}
		go c.Watcher.SyncExisting()
	}
	c.Scheduler.Start(ctx)
	if c.Monitor != nil {
		go func() {
			defer close(c.done)
			c.Monitor.Run(ctx)
		}()
	} else {
		close(c.done)
	}
	c.Logger.Info("pipeline started",
		zap.Bool("watch", c.Watcher != nil),
		zap.Bool("schedule", c.Scheduler.Enabled()),
		zap.Bool("monitor", c.Monitor != nil))
	return nil
}

// Close stops intake, lets in-flight work settle until ctx ends, then persists the vector
// index snapshot and closes the stores.
func (c *Components) Close(ctx context.Context) error {
	c.Scheduler.Stop()
	if c.Watcher != nil {
		c.Watcher.Stop()
	}
	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.ObjectTopic.Drain(drainCtx); err != nil {
		c.Logger.Warn("object events not drained", zap.Error(err))
	}
	if err := c.Completions.Drain(drainCtx); err != nil {
		c.Logger.Warn("completion events not drained", zap.Error(err))
	}
	c.Engine.Shutdown(ctx)
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.OCR.Wait()
	}
	c.ObjectTopic.Close()
	c.Completions.Close()
	c.Hub.Close()

	var errs []error
	if err := c.Vectors.Save(c.Config.Storage.VectorIndexPath); err != nil {
		errs = append(errs, fmt.Errorf("failed to save vector index: %w", err))
	}
	errs = append(errs, c.closeStores())
	return errors.Join(errs...)
}

func (c *Components) closeStores() error {
	var errs []error
	if c.Embedder != nil {
		errs = append(errs, c.Embedder.Close())
	}
	if c.Vectors != nil {
		errs = append(errs, c.Vectors.Close())
	}
	if c.Keyword != nil {
		errs = append(errs, c.Keyword.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}
