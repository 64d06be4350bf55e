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

package progress

import (
	"context"
	"time"

	"toolforge/internal/tcc"
	"toolforge/pkg/log"
)

// Event 单条进度事件，推送给观察方
type Event struct {
	JobID     string                `json:"jobId"`
	Step      tcc.OrchestrationStep `json:"step"`
	Status    tcc.StepStatus        `json:"status"`
	Message   string                `json:"message"`
	Detail    map[string]any        `json:"detail,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// Emitter 进度通道；fire-and-forget——发送失败不回滚编排步骤，调用方仅记日志
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EmitterFunc 函数适配器
type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// NewEvent 构造带时间戳的事件
func NewEvent(jobID string, step tcc.OrchestrationStep, status tcc.StepStatus, message string, detail map[string]any) Event {
	return Event{
		JobID:     jobID,
		Step:      step,
		Status:    status,
		Message:   message,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}

// logEmitter 仅写日志的实现，无外部推送通道时的缺省
type logEmitter struct {
	logger *log.Logger
}

// NewLogEmitter 创建日志版 Emitter
func NewLogEmitter(logger *log.Logger) Emitter {
	return &logEmitter{logger: logger}
}

func (e *logEmitter) Emit(ctx context.Context, ev Event) error {
	e.logger.Info("进度事件",
		"job_id", ev.JobID,
		"step", string(ev.Step),
		"status", string(ev.Status),
		"message", ev.Message,
	)
	return nil
}

// Multi 扇出到多个 Emitter；任一失败不影响其余，返回首个错误
func Multi(emitters ...Emitter) Emitter {
	return EmitterFunc(func(ctx context.Context, ev Event) error {
		var first error
		for _, e := range emitters {
			if e == nil {
				continue
			}
			if err := e.Emit(ctx, ev); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
