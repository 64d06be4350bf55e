// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"context"
	"time"

	"toolforge/internal/model/llm"
	"toolforge/pkg/errors"
	"toolforge/pkg/log"
	"toolforge/pkg/metrics"
	"toolforge/pkg/tracing"
)

const (
	// DefaultMaxAttempts 含首次在内的默认调用次数上限
	DefaultMaxAttempts = 3
	// DefaultBackoffBase 首次重试前的退避时长，之后按 2^(attempt-1) 翻倍
	DefaultBackoffBase = time.Second
)

// sleepFunc 可注入的退避等待，测试替换以避免真实延时
type sleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invoker 模型调用层：解析客户端、限流、重试退避、schema 校验。
// 成功时返回满足 schema 的对象；重试预算耗尽时返回单个聚合错误，从不返回半成品。
type Invoker struct {
	registry    *Registry
	limiter     *llm.RateLimiter
	logger      *log.Logger
	maxAttempts int
	backoffBase time.Duration
	sleep       sleepFunc
}

// InvokerOption Invoker 构造可选项
type InvokerOption func(*Invoker)

// WithMaxAttempts 设置调用次数上限（含首次），<=0 忽略
func WithMaxAttempts(n int) InvokerOption {
	return func(iv *Invoker) {
		if n > 0 {
			iv.maxAttempts = n
		}
	}
}

// WithBackoffBase 设置首次退避时长，<=0 忽略
func WithBackoffBase(d time.Duration) InvokerOption {
	return func(iv *Invoker) {
		if d > 0 {
			iv.backoffBase = d
		}
	}
}

// WithRateLimiter 设置 Provider 限流器
func WithRateLimiter(l *llm.RateLimiter) InvokerOption {
	return func(iv *Invoker) { iv.limiter = l }
}

// withSleep 测试用，替换真实退避
func withSleep(fn sleepFunc) InvokerOption {
	return func(iv *Invoker) { iv.sleep = fn }
}

// NewInvoker 创建模型调用层
func NewInvoker(registry *Registry, logger *log.Logger, opts ...InvokerOption) *Invoker {
	iv := &Invoker{
		registry:    registry,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		sleep:       realSleep,
	}
	for _, opt := range opts {
		opt(iv)
	}
	return iv
}

// Invoke 调用模型并返回满足 schema 的解析对象。
// modelID 为空或未注册时由注册表回退默认模型；任何调用或校验失败都计入
// 重试预算，退避 base*2^(attempt-1) 后重试；预算耗尽则包装最后一个错误返回。
func (iv *Invoker) Invoke(ctx context.Context, modelID string, schema Schema, systemPrompt, userPrompt string, options llm.GenerateOptions) (map[string]any, error) {
	client, err := iv.registry.Resolve(modelID)
	if err != nil {
		return nil, errors.Wrap(err, "解析模型")
	}
	provider := client.Provider()

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	var lastErr error
	for attempt := 1; attempt <= iv.maxAttempts; attempt++ {
		obj, attemptErr := iv.attempt(ctx, client, messages, schema, options)
		iv.logger.Info("模型调用尝试",
			"model_id", client.Model(),
			"provider", provider,
			"attempt", attempt,
			"system_prompt_len", len(systemPrompt),
			"user_prompt_len", len(userPrompt),
			"outcome", outcomeLabel(attemptErr),
		)
		if attemptErr == nil {
			return obj, nil
		}
		lastErr = attemptErr

		if attempt < iv.maxAttempts {
			backoff := iv.backoffBase << (attempt - 1)
			if err := iv.sleep(ctx, backoff); err != nil {
				return nil, errors.Wrapf(err, "模型调用在第 %d 次尝试后被取消", attempt)
			}
		}
	}
	return nil, errors.Wrapf(lastErr, "模型调用 %d 次尝试后失败，最后错误: %v", iv.maxAttempts, lastErr)
}

func (iv *Invoker) attempt(ctx context.Context, client llm.Client, messages []llm.Message, schema Schema, options llm.GenerateOptions) (map[string]any, error) {
	provider := client.Provider()

	if iv.limiter != nil {
		if err := iv.limiter.Wait(ctx, provider); err != nil {
			return nil, err
		}
		defer iv.limiter.Release(provider)
	}

	spanCtx, span := tracing.StartModelSpan(ctx, client.Model(), provider)
	defer span.End()

	start := time.Now()
	raw, err := client.Chat(spanCtx, messages, options)
	metrics.ModelInvokeDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ModelInvokeAttempts.WithLabelValues(provider, "error").Inc()
		return nil, err
	}

	obj, err := schema.Validate(raw)
	if err != nil {
		metrics.ModelInvokeAttempts.WithLabelValues(provider, "invalid").Inc()
		return nil, err
	}
	metrics.ModelInvokeAttempts.WithLabelValues(provider, "success").Inc()
	return obj, nil
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return "error: " + err.Error()
}
