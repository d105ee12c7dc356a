package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/compliagent/internal/fault"
)

func fastTopic(opts ...Option) *Topic[string] {
	opts = append([]Option{WithRedelivery(3, time.Millisecond, 2*time.Millisecond)}, opts...)
	return NewTopic[string]("test", opts...)
}

func TestTopic_DeliversToAllHandlers(t *testing.T) {
	topic := fastTopic()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var a, b atomic.Int32
	topic.Subscribe(func(ctx context.Context, msg string) error { a.Add(1); return nil })
	topic.Subscribe(func(ctx context.Context, msg string) error { b.Add(1); return nil })
	topic.Start(ctx)
	defer topic.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, topic.Publish(ctx, "m"))
	}
	require.NoError(t, topic.Drain(ctx))
	assert.Equal(t, int32(10), a.Load())
	assert.Equal(t, int32(10), b.Load())
}

func TestTopic_RedeliversUntilSuccess(t *testing.T) {
	topic := fastTopic()
	ctx := context.Background()
	var calls atomic.Int32
	topic.Subscribe(func(ctx context.Context, msg string) error {
		if calls.Add(1) < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	topic.Start(ctx)
	defer topic.Close()

	require.NoError(t, topic.Publish(ctx, "m"))
	require.NoError(t, topic.Drain(ctx))
	assert.Equal(t, int32(3), calls.Load())
}

func TestTopic_BoundsRedelivery(t *testing.T) {
	topic := fastTopic()
	ctx := context.Background()
	var calls atomic.Int32
	topic.Subscribe(func(ctx context.Context, msg string) error {
		calls.Add(1)
		return errors.New("always")
	})
	topic.Start(ctx)
	defer topic.Close()

	require.NoError(t, topic.Publish(ctx, "m"))
	require.NoError(t, topic.Drain(ctx))
	assert.Equal(t, int32(3), calls.Load())
}

func TestTopic_DropsInvalidTransition(t *testing.T) {
	topic := fastTopic()
	ctx := context.Background()
	var calls atomic.Int32
	topic.Subscribe(func(ctx context.Context, msg string) error {
		calls.Add(1)
		return fault.InvalidTransition("test", "already done")
	})
	topic.Start(ctx)
	defer topic.Close()

	require.NoError(t, topic.Publish(ctx, "m"))
	require.NoError(t, topic.Drain(ctx))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTopic_PublishAfterClose(t *testing.T) {
	topic := fastTopic()
	topic.Start(context.Background())
	topic.Close()
	assert.ErrorIs(t, topic.Publish(context.Background(), "m"), ErrClosed)
}
