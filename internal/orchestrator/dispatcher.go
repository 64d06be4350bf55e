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
	stderrors "errors"
	"fmt"

	"toolforge/internal/progress"
	"toolforge/internal/tcc"
	"toolforge/pkg/errors"
	"toolforge/pkg/log"
	"toolforge/pkg/metrics"
)

// ErrStaleStep 推进请求携带的步骤与存量 TCC 不一致；过期触发，按 no-op 处理
var ErrStaleStep = stderrors.New("orchestrator: stale step, tcc already advanced")

// Dispatcher 步骤推进器：持久化已完成阶段的产物，发进度事件，异步触发下一阶段。
// 触发是 fire-and-forget，下一阶段的失败不回滚本次持久化。
type Dispatcher struct {
	store   tcc.Store
	trigger StageTrigger
	emitter progress.Emitter
	logger  *log.Logger
}

// NewDispatcher 创建推进器；trigger/emitter 可为 nil（纯持久化模式，测试用）
func NewDispatcher(store tcc.Store, trigger StageTrigger, emitter progress.Emitter, logger *log.Logger) *Dispatcher {
	return &Dispatcher{store: store, trigger: trigger, emitter: emitter, logger: logger}
}

// Advance 将 completedStep 的产物合入 TCC 并推进到下一步。
// 空 patch 也推进（阶段可以不产出新字段）。持久化失败对本步骤是致命的，
// 返回错误由调用方重试；进度事件与触发失败只记日志。
func (d *Dispatcher) Advance(ctx context.Context, c *tcc.ToolConstructionContext, completedStep tcc.OrchestrationStep, patch tcc.Patch) (*tcc.ToolConstructionContext, error) {
	if c == nil {
		return nil, fmt.Errorf("advance: tcc 为空")
	}
	if c.CurrentOrchestrationStep != completedStep {
		metrics.StaleTriggerTotal.WithLabelValues(string(completedStep)).Inc()
		d.logger.Warn("过期推进，忽略",
			"job_id", c.JobID,
			"expected_step", string(completedStep),
			"current_step", string(c.CurrentOrchestrationStep))
		return nil, ErrStaleStep
	}

	next, ok := completedStep.Next()
	if !ok {
		return nil, fmt.Errorf("advance: 步骤 %s 已是终态", completedStep)
	}
	status := tcc.StatusPending
	if next.IsTerminal() {
		status = tcc.StatusCompleted
	}
	patch.Step = &next
	patch.Status = &status
	patch.ProgressEntries = append(patch.ProgressEntries, tcc.ProgressEntry{
		Step:    completedStep,
		Status:  tcc.StatusCompleted,
		Message: fmt.Sprintf("%s 阶段完成", completedStep),
	})

	updated, err := d.store.Update(ctx, c.JobID, c.Revision, patch)
	if stderrors.Is(err, tcc.ErrRevisionMismatch) {
		// revision 过期：重读判定是并发写完了同一步骤，还是无关字段更新
		fresh, gerr := d.store.Get(ctx, c.JobID)
		if gerr != nil {
			return nil, errors.Wrap(err, "advance: 重读 TCC")
		}
		if fresh.CurrentOrchestrationStep != completedStep {
			metrics.StaleTriggerTotal.WithLabelValues(string(completedStep)).Inc()
			d.logger.Warn("并发写者已推进该步骤，忽略",
				"job_id", c.JobID, "step", string(completedStep))
			return nil, ErrStaleStep
		}
		updated, err = d.store.Update(ctx, c.JobID, fresh.Revision, patch)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "advance: 持久化步骤 %s", completedStep)
	}
	metrics.StepTotal.WithLabelValues(string(completedStep), string(tcc.StatusCompleted)).Inc()

	if d.emitter != nil {
		ev := progress.NewEvent(c.JobID, completedStep, tcc.StatusCompleted,
			fmt.Sprintf("%s 阶段完成", completedStep), nil)
		if err := d.emitter.Emit(ctx, ev); err != nil {
			d.logger.Warn("进度事件发送失败", "job_id", c.JobID, "error", err)
		}
	}

	if !next.IsTerminal() && d.trigger != nil {
		ev := AdvanceEvent{JobID: c.JobID, ExpectedStep: next}
		if err := d.trigger.Trigger(ctx, ev); err != nil {
			d.logger.Error("触发下一阶段失败",
				"job_id", c.JobID, "next_step", string(next), "error", err)
		}
	}
	return updated, nil
}
