package transform

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedService 按顺序返回预设结果，用完后重复最后一个
type scriptedService struct {
	calls   atomic.Int32
	results []result
}

type result struct {
	out string
	err error
}

func (s *scriptedService) Transform(ctx context.Context, text string) (string, error) {
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.results) {
		n = len(s.results) - 1
	}
	r := s.results[n]
	return r.out, r.err
}

func noWait(delays *[]time.Duration) Waiter {
	return func(ctx context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return ctx.Err()
	}
}

func testConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		ContentRetries: 1,
		InitialDelay:   time.Second,
		MaxDelay:       5 * time.Second,
		BackoffFactor:  2,
	}
}

func TestClientSuccess(t *testing.T) {
	svc := &scriptedService{results: []result{{out: "bonjour"}}}
	c := NewClient(svc, testConfig(), WithWaiter(noWait(nil)))

	out, err := c.Transform(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "bonjour", out)
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestClientTransientExhaustsBudget(t *testing.T) {
	svc := &scriptedService{results: []result{{err: NewTransientError(KindRateLimited, "quota", nil)}}}
	var delays []time.Duration
	c := NewClient(svc, testConfig(), WithWaiter(noWait(&delays)))

	_, err := c.Transform(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(1+3), svc.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestClientTransientThenSuccess(t *testing.T) {
	svc := &scriptedService{results: []result{
		{err: NewTransientError(KindUnavailable, "down", nil)},
		{err: context.DeadlineExceeded},
		{out: "ok"},
	}}
	c := NewClient(svc, testConfig(), WithWaiter(noWait(nil)))

	out, err := c.Transform(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), svc.calls.Load())
}

func TestClientPermanentSingleAttempt(t *testing.T) {
	svc := &scriptedService{results: []result{{err: NewPermanentError(KindUnauthenticated, "bad key", nil)}}}
	c := NewClient(svc, testConfig(), WithWaiter(noWait(nil)))

	_, err := c.Transform(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestClientContentRejected(t *testing.T) {
	t.Run("empty output", func(t *testing.T) {
		svc := &scriptedService{results: []result{{out: "   "}}}
		c := NewClient(svc, testConfig(), WithWaiter(noWait(nil)))

		_, err := c.Transform(context.Background(), "x")
		require.Error(t, err)
		assert.True(t, IsContentRejected(err))
		assert.Equal(t, int32(2), svc.calls.Load())
	})

	t.Run("recovers", func(t *testing.T) {
		svc := &scriptedService{results: []result{
			{err: NewContentRejectedError(KindSafety, "blocked", nil)},
			{out: "fine"},
		}}
		c := NewClient(svc, testConfig(), WithWaiter(noWait(nil)))

		out, err := c.Transform(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, "fine", out)
	})
}

func TestClientCancelAbortsBackoff(t *testing.T) {
	svc := &scriptedService{results: []result{{err: NewTransientError(KindTimeout, "slow", nil)}}}
	cfg := testConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	c := NewClient(svc, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.Transform(ctx, "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestClientCancelledBeforeCall(t *testing.T) {
	svc := &scriptedService{results: []result{{out: "never"}}}
	c := NewClient(svc, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Transform(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), svc.calls.Load())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err   error
		class Class
		kind  Kind
	}{
		{errors.New("429 Too Many Requests"), ClassTransient, KindRateLimited},
		{errors.New("upstream timed out"), ClassTransient, KindTimeout},
		{errors.New("401 Unauthorized"), ClassPermanent, KindUnauthenticated},
		{errors.New("403 forbidden"), ClassPermanent, KindPermissionDenied},
		{errors.New("response blocked by safety settings"), ClassContentRejected, KindSafety},
		{errors.New("something odd"), ClassTransient, KindInternal},
		{ErrEmptyOutput, ClassContentRejected, KindEmpty},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			var te *Error
			require.ErrorAs(t, Classify(tc.err), &te)
			assert.Equal(t, tc.class, te.Class)
			assert.Equal(t, tc.kind, te.Kind)
		})
	}

	assert.ErrorIs(t, Classify(context.Canceled), context.Canceled)
	assert.Nil(t, Classify(nil))
}

func TestHTTPStatusError(t *testing.T) {
	assert.Equal(t, ClassPermanent, HTTPStatusError(400, "bad", nil).Class)
	assert.Equal(t, KindRateLimited, HTTPStatusError(429, "slow down", nil).Kind)
	assert.Equal(t, KindUnavailable, HTTPStatusError(503, "down", nil).Kind)
	assert.Equal(t, KindInternal, HTTPStatusError(500, "boom", nil).Kind)
	assert.True(t, HTTPStatusError(504, "late", nil).IsRetryable())
}

func TestPacer(t *testing.T) {
	var p *Pacer
	assert.NoError(t, p.Wait(context.Background()))
	assert.Nil(t, NewPacer(0))

	p = NewPacer(60000)
	require.NotNil(t, p)
	assert.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewPacer(1).Wait(ctx))
}
