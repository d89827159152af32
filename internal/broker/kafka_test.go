package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wholesale-market/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueReader hands out queued messages, then cancels the consumer.
type queueReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetched   int
	committed []int64
	drained   context.CancelFunc
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.fetched++
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	r.drained()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *queueReader) Close() error { return nil }

type recordingSink struct {
	forwarded []kafka.Message
	causes    []error
	err       error
}

func (s *recordingSink) Forward(ctx context.Context, msg kafka.Message, cause error) error {
	if s.err != nil {
		return s.err
	}
	s.forwarded = append(s.forwarded, msg)
	s.causes = append(s.causes, cause)
	return nil
}

var fastRetries = RetryPolicy{MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func newTestConsumer(ctx context.Context, msgs ...kafka.Message) (*Consumer, *queueReader, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	reader := &queueReader{queue: msgs, drained: cancel}
	return &Consumer{
		reader: reader,
		topic:  "payment-webhooks",
		policy: fastRetries,
		logger: util.GetLogger(),
	}, reader, ctx
}

func TestStartConsuming_RetriesFailedMessageInPlace(t *testing.T) {
	c, reader, ctx := newTestConsumer(context.Background(),
		kafka.Message{Offset: 7, Value: []byte("a")},
		kafka.Message{Offset: 8, Value: []byte("b")},
	)

	var seen []int64
	failures := 2
	err := c.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		seen = append(seen, msg.Offset)
		if msg.Offset == 7 && failures > 0 {
			failures--
			return errors.New("store unavailable")
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{7, 7, 7, 8}, seen)
	assert.Equal(t, []int64{7, 8}, reader.committed)
}

func TestStartConsuming_DeadLettersAfterRetries(t *testing.T) {
	c, reader, ctx := newTestConsumer(context.Background(),
		kafka.Message{Offset: 3, Key: []byte("payment-pay_1"), Value: []byte("{}")},
	)
	sink := &recordingSink{}
	c.deadLetter = sink

	attempts := 0
	err := c.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		attempts++
		return errors.New("order lookup failed")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, attempts, "first try plus two retries")
	require.Len(t, sink.forwarded, 1)
	assert.Equal(t, []byte("payment-pay_1"), sink.forwarded[0].Key)
	assert.ErrorContains(t, sink.causes[0], "order lookup failed")
	assert.Equal(t, []int64{3}, reader.committed)
}

func TestStartConsuming_KeepsRetryingWhenDeadLetterFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, reader, ctx := newTestConsumer(ctx,
		kafka.Message{Offset: 1},
		kafka.Message{Offset: 2},
	)
	c.deadLetter = &recordingSink{err: errors.New("broker down")}

	attempts := 0
	err := c.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		attempts++
		if attempts == 10 {
			cancel()
		}
		return errors.New("still failing")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, attempts, 10)
	assert.Empty(t, reader.committed)
	assert.Equal(t, 1, reader.fetched, "the next message is not fetched past a failing one")
}

func TestWithDeadLetter_IgnoresNilProducer(t *testing.T) {
	c := &Consumer{}
	c.WithDeadLetter(nil)
	assert.Nil(t, c.deadLetter)
}
