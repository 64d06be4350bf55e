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

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"toolforge/internal/tcc"
	"toolforge/pkg/log"
)

// AdvanceEvent 跨阶段触发消息；ExpectedStep 供处理器做过期自检
type AdvanceEvent struct {
	JobID        string                `json:"jobId"`
	ExpectedStep tcc.OrchestrationStep `json:"expectedStep"`
}

// StageTrigger 异步触发机制：投递一条推进消息使对应阶段处理器运行。
// 至少一次语义，处理器须容忍重复与乱序投递。
type StageTrigger interface {
	Trigger(ctx context.Context, ev AdvanceEvent) error
}

// GoroutineTrigger 进程内触发：在新 goroutine 中直接运行处理器。
// 单进程部署模式；处理器失败只记日志，由处理器自身写 failed 状态。
type GoroutineTrigger struct {
	registry *Registry
	logger   *log.Logger
}

// NewGoroutineTrigger 创建进程内触发器
func NewGoroutineTrigger(registry *Registry, logger *log.Logger) *GoroutineTrigger {
	return &GoroutineTrigger{registry: registry, logger: logger}
}

// Trigger 实现 StageTrigger；派发后立即返回，不等待处理器完成
func (t *GoroutineTrigger) Trigger(ctx context.Context, ev AdvanceEvent) error {
	fn, ok := t.registry.Get(ev.ExpectedStep)
	if !ok {
		return fmt.Errorf("步骤 %s 无处理器", ev.ExpectedStep)
	}
	// 处理器生命周期独立于触发方请求
	runCtx := context.WithoutCancel(ctx)
	go func() {
		if err := fn(runCtx, ev.JobID); err != nil {
			t.logger.Error("阶段处理器失败",
				"job_id", ev.JobID, "step", string(ev.ExpectedStep), "error", err)
		}
	}()
	return nil
}

const defaultStepQueue = "toolforge:steps"

// RedisTrigger Redis list 作触发队列：API 进程投递，Worker 进程消费。
type RedisTrigger struct {
	client *redis.Client
	queue  string
}

// NewRedisTrigger 创建队列触发器；queue 为空用默认队列名
func NewRedisTrigger(client *redis.Client, queue string) *RedisTrigger {
	if queue == "" {
		queue = defaultStepQueue
	}
	return &RedisTrigger{client: client, queue: queue}
}

// Queue 队列名
func (t *RedisTrigger) Queue() string {
	return t.queue
}

// Trigger 实现 StageTrigger；LPUSH 序列化消息
func (t *RedisTrigger) Trigger(ctx context.Context, ev AdvanceEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("序列化推进消息: %w", err)
	}
	if err := t.client.LPush(ctx, t.queue, payload).Err(); err != nil {
		return fmt.Errorf("投递推进消息: %w", err)
	}
	return nil
}

// Receive 阻塞弹出一条推进消息；timeout 内无消息返回 (nil, nil)
func (t *RedisTrigger) Receive(ctx context.Context, timeout time.Duration) (*AdvanceEvent, error) {
	res, err := t.client.BRPop(ctx, timeout, t.queue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取推进消息: %w", err)
	}
	// BRPop 返回 [queue, payload]
	if len(res) != 2 {
		return nil, fmt.Errorf("推进消息格式异常: %v", res)
	}
	var ev AdvanceEvent
	if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
		return nil, fmt.Errorf("解析推进消息: %w", err)
	}
	return &ev, nil
}
