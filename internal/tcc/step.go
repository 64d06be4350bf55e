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

package tcc

import "fmt"

// OrchestrationStep 工具构建流水线步骤；全序固定，只能前进不能回退
type OrchestrationStep string

const (
	StepInitialization     OrchestrationStep = "initialization"
	StepPlanningSignatures OrchestrationStep = "planning_function_signatures"
	StepDesigningState     OrchestrationStep = "designing_state"
	StepDesigningLayout    OrchestrationStep = "designing_layout"
	StepApplyingStyling    OrchestrationStep = "applying_styling"
	StepAssembling         OrchestrationStep = "assembling_component"
	StepValidating         OrchestrationStep = "validating"
	StepFinalizing         OrchestrationStep = "finalizing"
	StepCompleted          OrchestrationStep = "completed"
)

// stepOrder 步骤全序表；Next/Index 均以此为准
var stepOrder = [...]OrchestrationStep{
	StepInitialization,
	StepPlanningSignatures,
	StepDesigningState,
	StepDesigningLayout,
	StepApplyingStyling,
	StepAssembling,
	StepValidating,
	StepFinalizing,
	StepCompleted,
}

// Steps 返回步骤全序的副本
func Steps() []OrchestrationStep {
	out := make([]OrchestrationStep, len(stepOrder))
	copy(out, stepOrder[:])
	return out
}

// Index 返回步骤在全序中的下标；未知步骤返回 -1
func (s OrchestrationStep) Index() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Valid 判断是否为合法步骤
func (s OrchestrationStep) Valid() bool {
	return s.Index() >= 0
}

// IsTerminal 判断是否为终态步骤
func (s OrchestrationStep) IsTerminal() bool {
	return s == StepCompleted
}

// Next 返回下一步骤；终态或未知步骤返回 false
func (s OrchestrationStep) Next() (OrchestrationStep, bool) {
	i := s.Index()
	if i < 0 || i == len(stepOrder)-1 {
		return "", false
	}
	return stepOrder[i+1], true
}

// ParseStep 解析步骤字符串
func ParseStep(s string) (OrchestrationStep, error) {
	step := OrchestrationStep(s)
	if !step.Valid() {
		return "", fmt.Errorf("tcc: unknown orchestration step: %q", s)
	}
	return step, nil
}

// StepStatus 当前步骤的状态；Paused 仅由 Control API 写入，阶段处理器不产生
type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusFailed     StepStatus = "failed"
	StatusPaused     StepStatus = "paused"
)

// Valid 判断是否为合法状态
func (s StepStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusPaused:
		return true
	}
	return false
}
