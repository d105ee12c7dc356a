package llm

import (
	"go.uber.org/zap"

	"github.com/hyperjump/compliagent/internal/retry"
)

const defaultContextLimit = 5

type options struct {
	limiter      *retry.Limiter
	logger       *zap.Logger
	contextLimit int
}

// Option configures generators, the analyst and the drafter.
type Option func(*options)

// WithLimiter throttles requests to the model.
func WithLimiter(l *retry.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithContextLimit caps how many documents of each kind are put into a prompt.
func WithContextLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.contextLimit = n
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), contextLimit: defaultContextLimit}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
