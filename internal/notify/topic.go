// Package notify delivers in-process events to subscribers with at-least-once semantics.
// A handler that returns an error gets the message again after a backoff, up to a
// delivery budget. Invalid-transition errors are dropped immediately since redelivery
// cannot change their outcome.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/fault"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("topic closed")

// Handler processes one message.
type Handler[T any] func(ctx context.Context, msg T) error

type settings struct {
	workers       int
	buffer        int
	maxDeliveries int
	initial       time.Duration
	maxInterval   time.Duration
	logger        *zap.Logger
}

// Option configures a Topic.
type Option func(*settings)

// WithWorkers sets how many messages are handled concurrently.
func WithWorkers(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithBuffer sets the queue length before Publish blocks.
func WithBuffer(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.buffer = n
		}
	}
}

// WithRedelivery bounds redelivery of a failed message.
func WithRedelivery(maxDeliveries int, initial, maxInterval time.Duration) Option {
	return func(s *settings) {
		s.maxDeliveries = maxDeliveries
		s.initial = initial
		s.maxInterval = maxInterval
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// Topic fans messages out to every subscribed handler.
type Topic[T any] struct {
	name string
	cfg  settings

	mu       sync.RWMutex
	handlers []Handler[T]

	queue    chan T
	done     chan struct{}
	pending  inflight
	workers  sync.WaitGroup
	start    sync.Once
	stopOnce sync.Once
}

// NewTopic creates a topic. Call Start before publishing.
func NewTopic[T any](name string, opts ...Option) *Topic[T] {
	cfg := settings{
		workers:       2,
		buffer:        64,
		maxDeliveries: 5,
		initial:       200 * time.Millisecond,
		maxInterval:   5 * time.Second,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Topic[T]{
		name:  name,
		cfg:   cfg,
		queue: make(chan T, cfg.buffer),
		done:  make(chan struct{}),
	}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string { return t.name }

// Subscribe adds a handler. Handlers added after Start see only later messages.
func (t *Topic[T]) Subscribe(h Handler[T]) {
	t.mu.Lock()
	t.handlers = append(t.handlers, h)
	t.mu.Unlock()
}

// Start launches the delivery workers. They stop when ctx is cancelled or Close is called.
func (t *Topic[T]) Start(ctx context.Context) {
	t.start.Do(func() {
		for i := 0; i < t.cfg.workers; i++ {
			t.workers.Add(1)
			go t.run(ctx)
		}
	})
}

func (t *Topic[T]) run(ctx context.Context) {
	defer t.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case msg := <-t.queue:
			t.dispatch(ctx, msg)
			t.pending.done()
		}
	}
}

// Publish enqueues msg. It blocks while the queue is full.
func (t *Topic[T]) Publish(ctx context.Context, msg T) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	t.pending.add()
	select {
	case t.queue <- msg:
		return nil
	case <-t.done:
		t.pending.done()
		return ErrClosed
	case <-ctx.Done():
		t.pending.done()
		return ctx.Err()
	}
}

// Drain waits until every published message has been handled or ctx ends.
func (t *Topic[T]) Drain(ctx context.Context) error {
	select {
	case <-t.pending.idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers. Queued messages that were not picked up are discarded.
func (t *Topic[T]) Close() {
	t.stopOnce.Do(func() { close(t.done) })
	t.workers.Wait()
	for {
		select {
		case <-t.queue:
			t.pending.done()
		default:
			return
		}
	}
}

func (t *Topic[T]) dispatch(ctx context.Context, msg T) {
	t.mu.RLock()
	handlers := append([]Handler[T](nil), t.handlers...)
	t.mu.RUnlock()
	for _, h := range handlers {
		t.deliver(ctx, h, msg)
	}
}

func (t *Topic[T]) deliver(ctx context.Context, h Handler[T], msg T) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.cfg.initial
	eb.MaxInterval = t.cfg.maxInterval
	eb.MaxElapsedTime = 0
	retries := t.cfg.maxDeliveries - 1
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	delivery := 0
	err := backoff.RetryNotify(func() error {
		delivery++
		err := h(ctx, msg)
		if err != nil && fault.IsInvalidTransition(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		t.cfg.logger.Warn("handler failed, redelivering",
			zap.String("topic", t.name), zap.Int("delivery", delivery), zap.Duration("wait", wait), zap.Error(err))
	})
	if err == nil {
		return
	}
	if fault.IsInvalidTransition(err) {
		t.cfg.logger.Debug("dropping message after invalid transition", zap.String("topic", t.name), zap.Error(err))
		return
	}
	t.cfg.logger.Error("message dropped after redelivery budget",
		zap.String("topic", t.name), zap.Int("deliveries", delivery), zap.Error(err))
}

// inflight counts published messages that have not finished. Unlike a WaitGroup it
// tolerates adds racing with waiters.
type inflight struct {
	mu   sync.Mutex
	n    int
	zero chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	if f.n == 0 {
		f.zero = make(chan struct{})
	}
	f.n++
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	f.n--
	if f.n == 0 {
		close(f.zero)
	}
	f.mu.Unlock()
}

func (f *inflight) idle() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return f.zero
}
