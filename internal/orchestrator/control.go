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
	"strings"

	"toolforge/internal/progress"
	"toolforge/internal/tcc"
	"toolforge/pkg/errors"
	"toolforge/pkg/log"
)

// minDescriptionLength start 输入描述的最小长度
const minDescriptionLength = 10

// ErrInvalidInput userInput 未通过校验
var ErrInvalidInput = stderrors.New("orchestrator: invalid user input")

// ValidateUserInput 校验创建任务的输入；不通过时包装 ErrInvalidInput
func ValidateUserInput(input tcc.UserInput) error {
	desc := strings.TrimSpace(input.Description)
	if desc == "" {
		return fmt.Errorf("%w: 描述不能为空", ErrInvalidInput)
	}
	if len(desc) < minDescriptionLength {
		return fmt.Errorf("%w: 描述至少 %d 个字符", ErrInvalidInput, minDescriptionLength)
	}
	return nil
}

// Control 编排控制面：start / pause / resume / status。
// pause 与 resume 以调用方提交的 TCC 为准，持久化仅尽力而为。
type Control struct {
	store      tcc.Store
	dispatcher *Dispatcher
	emitter    progress.Emitter
	logger     *log.Logger
}

// NewControl 创建控制面
func NewControl(store tcc.Store, dispatcher *Dispatcher, emitter progress.Emitter, logger *log.Logger) *Control {
	return &Control{store: store, dispatcher: dispatcher, emitter: emitter, logger: logger}
}

// StartOption 创建任务时的可选覆盖
type StartOption func(*tcc.ToolConstructionContext)

// WithSelectedModel 任务级模型覆盖；空串忽略
func WithSelectedModel(modelID string) StartOption {
	return func(c *tcc.ToolConstructionContext) {
		if modelID != "" {
			c.SelectedModel = modelID
		}
	}
}

// WithAgentModelMapping 按 Agent 名的模型覆盖
func WithAgentModelMapping(mapping map[string]string) StartOption {
	return func(c *tcc.ToolConstructionContext) {
		if len(mapping) > 0 {
			c.AgentModelMapping = mapping
		}
	}
}

// Start 创建 TCC 并启动流水线。同步部分只做两次持久化：创建记录、
// 推进到第一个实际阶段；首个阶段处理器异步触发，不等待完成即返回。
func (ct *Control) Start(ctx context.Context, userID string, input tcc.UserInput, opts ...StartOption) (*tcc.ToolConstructionContext, error) {
	if err := ValidateUserInput(input); err != nil {
		return nil, err
	}

	c := tcc.New(userID, input)
	for _, opt := range opts {
		opt(c)
	}
	c.AppendProgress(tcc.StepInitialization, tcc.StatusPending, "任务已创建")
	if err := ct.store.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "创建 TCC")
	}
	ct.logger.Info("任务已创建", "job_id", c.JobID, "user_id", c.UserID)

	updated, err := ct.dispatcher.Advance(ctx, c, tcc.StepInitialization, tcc.Patch{})
	if err != nil {
		return nil, errors.Wrap(err, "初始化推进")
	}
	return updated, nil
}

// Pause 暂停任务。不取消在途处理器，只写 paused 状态；阶段处理器在
// 模型调用前的检查点读到 paused 会主动让出。
func (ct *Control) Pause(ctx context.Context, jobID string, c *tcc.ToolConstructionContext) (*tcc.ToolConstructionContext, string, error) {
	return ct.setSessionStatus(ctx, jobID, c, tcc.StatusPaused, "任务已暂停")
}

// Resume 恢复任务为 in_progress。不重新触发处理器，由调用方重新投递
// 当前步骤的触发消息。
func (ct *Control) Resume(ctx context.Context, jobID string, c *tcc.ToolConstructionContext) (*tcc.ToolConstructionContext, string, error) {
	return ct.setSessionStatus(ctx, jobID, c, tcc.StatusInProgress, "任务已恢复")
}

func (ct *Control) setSessionStatus(ctx context.Context, jobID string, c *tcc.ToolConstructionContext, status tcc.StepStatus, message string) (*tcc.ToolConstructionContext, string, error) {
	if c == nil {
		return nil, "", fmt.Errorf("%w: 缺少 TCC", ErrInvalidInput)
	}
	if c.JobID != jobID {
		return nil, "", fmt.Errorf("%w: jobId 与 TCC 不一致", ErrInvalidInput)
	}

	out := c.Clone()
	out.Status = status
	out.AppendProgress(out.CurrentOrchestrationStep, status, message)

	// 调用方持有的 TCC 是事实来源，存储落后时也不报错
	st := status
	patch := tcc.Patch{
		Status: &st,
		ProgressEntries: []tcc.ProgressEntry{{
			Step:    out.CurrentOrchestrationStep,
			Status:  status,
			Message: message,
		}},
	}
	if _, err := ct.store.Update(ctx, jobID, tcc.AnyRevision, patch); err != nil {
		ct.logger.Warn("暂停/恢复状态持久化失败",
			"job_id", jobID, "status", string(status), "error", err)
	}

	if ct.emitter != nil {
		ev := progress.NewEvent(jobID, out.CurrentOrchestrationStep, status, message, nil)
		if err := ct.emitter.Emit(ctx, ev); err != nil {
			ct.logger.Warn("进度事件发送失败", "job_id", jobID, "error", err)
		}
	}

	confirmation := fmt.Sprintf("%s（job %s，当前步骤 %s）", message, jobID, out.CurrentOrchestrationStep)
	return out, confirmation, nil
}

// Status 返回完整 TCC；无记录时透传 tcc.ErrNotFound
func (ct *Control) Status(ctx context.Context, jobID string) (*tcc.ToolConstructionContext, error) {
	return ct.store.Get(ctx, jobID)
}
