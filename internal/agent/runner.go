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

package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"toolforge/internal/model"
	"toolforge/internal/model/llm"
	"toolforge/internal/orchestrator"
	"toolforge/internal/progress"
	"toolforge/internal/tcc"
	"toolforge/pkg/errors"
	"toolforge/pkg/log"
	"toolforge/pkg/metrics"
	"toolforge/pkg/tracing"
)

// Stage 一个流水线阶段的生成逻辑定义
type Stage struct {
	// Step 该阶段绑定的编排步骤
	Step tcc.OrchestrationStep
	// Name Agent 名，用于 agentModelMapping 覆盖解析
	Name string
	// DefaultModel 无任何覆盖时使用的内建默认模型
	DefaultModel string
	// Schema 期望的模型结构化输出
	Schema model.Schema
	// BuildPrompt 由当前 TCC 生成提示词
	BuildPrompt func(c *tcc.ToolConstructionContext) (system, user string)
	// BuildPatch 把校验后的模型输出转为 TCC patch
	BuildPatch func(c *tcc.ToolConstructionContext, obj map[string]any) (tcc.Patch, error)
	// Options 模型生成参数
	Options llm.GenerateOptions
}

// Runner 通用阶段执行器：重读 TCC、过期自检、暂停检查点、模型调用、
// 产物合入并推进。所有模型驱动的阶段共用这一条执行路径。
type Runner struct {
	store      tcc.Store
	invoker    *model.Invoker
	dispatcher *orchestrator.Dispatcher
	emitter    progress.Emitter
	logger     *log.Logger
}

// NewRunner 创建阶段执行器
func NewRunner(store tcc.Store, invoker *model.Invoker, dispatcher *orchestrator.Dispatcher, emitter progress.Emitter, logger *log.Logger) *Runner {
	return &Runner{
		store:      store,
		invoker:    invoker,
		dispatcher: dispatcher,
		emitter:    emitter,
		logger:     logger,
	}
}

// Handler 返回 stage 的处理函数，供注册到 orchestrator.Registry
func (r *Runner) Handler(stage Stage) orchestrator.HandlerFunc {
	return func(ctx context.Context, jobID string) error {
		return r.run(ctx, jobID, stage)
	}
}

func (r *Runner) run(ctx context.Context, jobID string, stage Stage) error {
	// 触发消息可能重复或乱序，以存量 TCC 为准
	c, err := r.store.Get(ctx, jobID)
	if err != nil {
		return errors.Wrapf(err, "读取 TCC %s", jobID)
	}
	if c.CurrentOrchestrationStep != stage.Step {
		metrics.StaleTriggerTotal.WithLabelValues(string(stage.Step)).Inc()
		r.logger.Warn("过期触发，忽略",
			"job_id", jobID,
			"stage", stage.Name,
			"expected_step", string(stage.Step),
			"current_step", string(c.CurrentOrchestrationStep))
		return nil
	}

	// 模型调用前的协作式暂停检查点
	if c.Status == tcc.StatusPaused {
		r.logger.Info("任务已暂停，处理器让出", "job_id", jobID, "stage", stage.Name)
		return nil
	}

	inProgress := tcc.StatusInProgress
	c, err = r.store.Update(ctx, jobID, c.Revision, tcc.Patch{
		Status: &inProgress,
		ProgressEntries: []tcc.ProgressEntry{{
			Step:    stage.Step,
			Status:  tcc.StatusInProgress,
			Message: fmt.Sprintf("%s 阶段开始", stage.Step),
		}},
	})
	if err != nil {
		if stderrors.Is(err, tcc.ErrRevisionMismatch) {
			metrics.StaleTriggerTotal.WithLabelValues(string(stage.Step)).Inc()
			r.logger.Warn("并发写者抢先，处理器让出", "job_id", jobID, "stage", stage.Name)
			return nil
		}
		return errors.Wrapf(err, "标记 %s 为 in_progress", stage.Step)
	}
	r.emit(ctx, jobID, stage.Step, tcc.StatusInProgress, fmt.Sprintf("%s 阶段开始", stage.Step))

	spanCtx, span := tracing.StartStepSpan(ctx, jobID, string(stage.Step))
	defer span.End()
	start := time.Now()

	modelID := model.ResolveAgentModel(stage.Name, c)
	if modelID == "" {
		modelID = stage.DefaultModel
	}
	system, user := stage.BuildPrompt(c)

	obj, err := r.invoker.Invoke(spanCtx, modelID, stage.Schema, system, user, stage.Options)
	if err != nil {
		return r.fail(ctx, c, stage, err)
	}
	patch, err := stage.BuildPatch(c, obj)
	if err != nil {
		return r.fail(ctx, c, stage, errors.Wrap(err, "构建阶段产物"))
	}

	metrics.StepDuration.WithLabelValues(string(stage.Step)).Observe(time.Since(start).Seconds())

	if _, err := r.dispatcher.Advance(ctx, c, stage.Step, patch); err != nil {
		if stderrors.Is(err, orchestrator.ErrStaleStep) {
			r.logger.Warn("推进时发现步骤已前移", "job_id", jobID, "stage", stage.Name)
			return nil
		}
		return r.fail(ctx, c, stage, err)
	}
	return nil
}

// fail 写 failed 状态并发 failed 事件；步骤保持不变，等待外部重新触发
func (r *Runner) fail(ctx context.Context, c *tcc.ToolConstructionContext, stage Stage, cause error) error {
	metrics.StepTotal.WithLabelValues(string(stage.Step), string(tcc.StatusFailed)).Inc()
	r.logger.Error("阶段失败",
		"job_id", c.JobID, "stage", stage.Name, "step", string(stage.Step), "error", cause)

	failed := tcc.StatusFailed
	if _, err := r.store.Update(ctx, c.JobID, tcc.AnyRevision, tcc.Patch{
		Status: &failed,
		ProgressEntries: []tcc.ProgressEntry{{
			Step:    stage.Step,
			Status:  tcc.StatusFailed,
			Message: cause.Error(),
		}},
	}); err != nil {
		r.logger.Error("写 failed 状态失败", "job_id", c.JobID, "error", err)
	}

	r.emit(ctx, c.JobID, stage.Step, tcc.StatusFailed, cause.Error())
	return cause
}

func (r *Runner) emit(ctx context.Context, jobID string, step tcc.OrchestrationStep, status tcc.StepStatus, message string) {
	if r.emitter == nil {
		return
	}
	if err := r.emitter.Emit(ctx, progress.NewEvent(jobID, step, status, message, nil)); err != nil {
		r.logger.Warn("进度事件发送失败", "job_id", jobID, "error", err)
	}
}
