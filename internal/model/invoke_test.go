// Copyright 2026 fanjia1024
// Tests for the retrying model invocation layer

package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolforge/internal/model/llm"
)

func newTestInvoker(t *testing.T, client llm.Client, opts ...InvokerOption) (*Invoker, *[]time.Duration) {
	t.Helper()
	r := NewRegistry(newTestLogger(t))
	r.Register(client.Model(), client)
	require.NoError(t, r.SetDefault(client.Model()))

	var slept []time.Duration
	opts = append(opts, withSleep(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))
	return NewInvoker(r, newTestLogger(t), opts...), &slept
}

func TestInvoke_SucceedsFirstAttempt(t *testing.T) {
	client := &fakeClient{
		model: "gpt-4o", provider: "openai",
		responses: []string{`{"signatures": []}`},
	}
	iv, slept := newTestInvoker(t, client)

	obj, err := iv.Invoke(context.Background(), "gpt-4o", signatureSchema(), "system", "user", llm.GenerateOptions{})
	require.NoError(t, err)
	assert.NotNil(t, obj["signatures"])
	assert.Equal(t, 1, client.calls)
	assert.Empty(t, *slept)
}

func TestInvoke_RetriesThenSucceeds(t *testing.T) {
	boom := errors.New("upstream 503")
	client := &fakeClient{
		model: "gpt-4o", provider: "openai",
		errs:      []error{boom, boom, nil},
		responses: []string{"", "", `{"signatures": []}`},
	}
	iv, slept := newTestInvoker(t, client)

	obj, err := iv.Invoke(context.Background(), "gpt-4o", signatureSchema(), "system", "user", llm.GenerateOptions{})
	require.NoError(t, err)
	assert.NotNil(t, obj)
	assert.Equal(t, 3, client.calls)
	// 退避按 base*2^(attempt-1) 递增
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestInvoke_ExhaustsRetryBudget(t *testing.T) {
	boom := errors.New("upstream down")
	client := &fakeClient{
		model: "gpt-4o", provider: "openai",
		errs: []error{boom, boom, boom},
	}
	iv, slept := newTestInvoker(t, client)

	_, err := iv.Invoke(context.Background(), "gpt-4o", signatureSchema(), "system", "user", llm.GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 次尝试")
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, 3, client.calls)

	// 累计退避 >= Σ base*2^(i-1), i=1..maxAttempts-1
	var total time.Duration
	for _, d := range *slept {
		total += d
	}
	assert.GreaterOrEqual(t, total, 3*time.Second)
}

func TestInvoke_SchemaFailureRetried(t *testing.T) {
	client := &fakeClient{
		model: "gpt-4o", provider: "openai",
		responses: []string{"not json at all", `{"signatures": []}`},
	}
	iv, _ := newTestInvoker(t, client)

	obj, err := iv.Invoke(context.Background(), "gpt-4o", signatureSchema(), "system", "user", llm.GenerateOptions{})
	require.NoError(t, err)
	assert.NotNil(t, obj)
	assert.Equal(t, 2, client.calls)
}

func TestInvoke_NeverReturnsInvalidObject(t *testing.T) {
	client := &fakeClient{
		model: "gpt-4o", provider: "openai",
		responses: []string{`{"notes": 1}`, `{"notes": 1}`, `{"notes": 1}`},
	}
	iv, _ := newTestInvoker(t, client)

	obj, err := iv.Invoke(context.Background(), "gpt-4o", signatureSchema(), "system", "user", llm.GenerateOptions{})
	require.Error(t, err)
	assert.Nil(t, obj)
	assert.Equal(t, 3, client.calls)
}

func TestInvoke_CustomAttemptsAndBackoff(t *testing.T) {
	boom := errors.New("flaky")
	client := &fakeClient{
		model: "gpt-4o", provider: "openai",
		errs: []error{boom, boom, boom, boom, boom},
	}
	iv, slept := newTestInvoker(t, client,
		WithMaxAttempts(5), WithBackoffBase(100*time.Millisecond))

	_, err := iv.Invoke(context.Background(), "gpt-4o", signatureSchema(), "system", "user", llm.GenerateOptions{})
	require.Error(t, err)
	assert.Equal(t, 5, client.calls)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}, *slept)
}

func TestInvoke_UnknownModelUsesDefault(t *testing.T) {
	client := &fakeClient{
		model: "gpt-4o", provider: "openai",
		responses: []string{`{"signatures": []}`},
	}
	iv, _ := newTestInvoker(t, client)

	obj, err := iv.Invoke(context.Background(), "some-retired-model", signatureSchema(), "system", "user", llm.GenerateOptions{})
	require.NoError(t, err)
	assert.NotNil(t, obj)
}

func TestInvoke_RateLimited(t *testing.T) {
	client := &fakeClient{
		model: "gpt-4o", provider: "openai",
		responses: []string{`{"signatures": []}`},
	}
	limiter := llm.NewRateLimiter(nil, llm.LimitConfig{MaxConcurrent: 1})
	iv, _ := newTestInvoker(t, client, WithRateLimiter(limiter))

	_, err := iv.Invoke(context.Background(), "gpt-4o", signatureSchema(), "system", "user", llm.GenerateOptions{})
	require.NoError(t, err)

	// slot 已释放，可立即再次获得
	assert.True(t, limiter.Allow("openai"))
}
