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

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version 存储记录的 schema 版本号，向前兼容用
const Version = "1.0"

// AnonymousUserID 未认证请求的归属哨兵值
const AnonymousUserID = "anonymous"

// DefaultModelSentinel selectedModel 的"使用各 Agent 默认模型"哨兵值
const DefaultModelSentinel = "default"

// UserInput 创建时捕获的用户输入；创建后不可变，是下游所有生成的唯一事实来源
type UserInput struct {
	Description    string   `json:"description"`
	TargetAudience string   `json:"targetAudience,omitempty"`
	Industry       string   `json:"industry,omitempty"`
	ToolType       string   `json:"toolType,omitempty"`
	Features       []string `json:"features,omitempty"`
}

// ProgressEntry 进度日志条目；progressLog 只追加，不截断不重排
type ProgressEntry struct {
	Step      OrchestrationStep `json:"step"`
	Status    StepStatus        `json:"status"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
}

// FunctionSignature 签名规划阶段的产物
type FunctionSignature struct {
	Name        string `json:"name"`
	Parameters  string `json:"parameters,omitempty"`
	Returns     string `json:"returns,omitempty"`
	Description string `json:"description,omitempty"`
}

// StateVariable 状态设计中的单个状态变量
type StateVariable struct {
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	InitialValue string `json:"initialValue,omitempty"`
	Description  string `json:"description,omitempty"`
}

// StateDesign 状态设计阶段的产物
type StateDesign struct {
	Variables []StateVariable `json:"variables,omitempty"`
	Functions []string        `json:"functions,omitempty"`
}

// LayoutNode 布局树节点
type LayoutNode struct {
	Element  string       `json:"element"`
	ID       string       `json:"id,omitempty"`
	Label    string       `json:"label,omitempty"`
	Children []LayoutNode `json:"children,omitempty"`
}

// LayoutDesign 布局阶段的产物
type LayoutDesign struct {
	Root        LayoutNode `json:"root"`
	Description string     `json:"description,omitempty"`
}

// Styling 样式阶段的产物；StyleMap 为 element id 到样式声明的映射
type Styling struct {
	Theme    string            `json:"theme,omitempty"`
	StyleMap map[string]string `json:"styleMap,omitempty"`
}

// ValidationIssue 校验阶段发现的单个问题
type ValidationIssue struct {
	Severity string `json:"severity"` // error | warning
	Message  string `json:"message"`
}

// ValidationReport 校验阶段的产物
type ValidationReport struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// FinalProduct 收尾阶段的产物：对外交付的工具定义
type FinalProduct struct {
	Title         string    `json:"title,omitempty"`
	ComponentCode string    `json:"componentCode"`
	FinalizedAt   time.Time `json:"finalizedAt"`
}

// ToolConstructionContext 工具构建任务的唯一工作单元（TCC）
// jobId 为主键，创建后不可变；所有阶段产物字段只新增、不删除
type ToolConstructionContext struct {
	JobID  string `json:"jobId"`
	UserID string `json:"userId"`

	CurrentOrchestrationStep OrchestrationStep `json:"currentOrchestrationStep"`
	Status                   StepStatus        `json:"status"`

	UserInput UserInput `json:"userInput"`

	// SelectedModel 任务级模型覆盖；DefaultModelSentinel 表示使用各 Agent 默认
	SelectedModel string `json:"selectedModel,omitempty"`
	// AgentModelMapping Agent 名 -> 模型 ID 覆盖；缺省回退 SelectedModel
	AgentModelMapping map[string]string `json:"agentModelMapping,omitempty"`

	ProgressLog []ProgressEntry `json:"progressLog"`

	FunctionSignatures []FunctionSignature `json:"functionSignatures,omitempty"`
	StateDesign        *StateDesign        `json:"stateDesign,omitempty"`
	Layout             *LayoutDesign       `json:"layout,omitempty"`
	Styling            *Styling            `json:"styling,omitempty"`
	AssembledCode      string              `json:"assembledCode,omitempty"`
	ValidationReport   *ValidationReport   `json:"validationReport,omitempty"`
	FinalProduct       *FinalProduct       `json:"finalProduct,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Revision 乐观并发令牌；Store.Update 按持有值 CAS 后自增
	Revision int `json:"revision"`

	TCCVersion string `json:"tccVersion"`
}

// New 创建处于 (initialization, pending) 的 TCC；userID 为空时使用匿名哨兵
func New(userID string, input UserInput) *ToolConstructionContext {
	if strings.TrimSpace(userID) == "" {
		userID = AnonymousUserID
	}
	now := time.Now().UTC()
	return &ToolConstructionContext{
		JobID:                    "tcc-" + uuid.New().String(),
		UserID:                   userID,
		CurrentOrchestrationStep: StepInitialization,
		Status:                   StatusPending,
		UserInput:                input,
		SelectedModel:            DefaultModelSentinel,
		ProgressLog:              []ProgressEntry{},
		CreatedAt:                now,
		UpdatedAt:                now,
		TCCVersion:               Version,
	}
}

// AppendProgress 追加一条进度日志并刷新 UpdatedAt
func (c *ToolConstructionContext) AppendProgress(step OrchestrationStep, status StepStatus, message string) {
	now := time.Now().UTC()
	c.ProgressLog = append(c.ProgressLog, ProgressEntry{
		Step:      step,
		Status:    status,
		Message:   message,
		Timestamp: now,
	})
	c.UpdatedAt = now
}

// Clone 深拷贝，供 Store 返回副本避免共享可变状态
func (c *ToolConstructionContext) Clone() *ToolConstructionContext {
	if c == nil {
		return nil
	}
	out := *c
	if c.AgentModelMapping != nil {
		out.AgentModelMapping = make(map[string]string, len(c.AgentModelMapping))
		for k, v := range c.AgentModelMapping {
			out.AgentModelMapping[k] = v
		}
	}
	if c.ProgressLog != nil {
		out.ProgressLog = make([]ProgressEntry, len(c.ProgressLog))
		copy(out.ProgressLog, c.ProgressLog)
	}
	if c.UserInput.Features != nil {
		out.UserInput.Features = append([]string(nil), c.UserInput.Features...)
	}
	if c.FunctionSignatures != nil {
		out.FunctionSignatures = append([]FunctionSignature(nil), c.FunctionSignatures...)
	}
	if c.StateDesign != nil {
		sd := *c.StateDesign
		sd.Variables = append([]StateVariable(nil), c.StateDesign.Variables...)
		sd.Functions = append([]string(nil), c.StateDesign.Functions...)
		out.StateDesign = &sd
	}
	if c.Layout != nil {
		l := *c.Layout
		l.Root = cloneLayoutNode(c.Layout.Root)
		out.Layout = &l
	}
	if c.Styling != nil {
		st := *c.Styling
		if c.Styling.StyleMap != nil {
			st.StyleMap = make(map[string]string, len(c.Styling.StyleMap))
			for k, v := range c.Styling.StyleMap {
				st.StyleMap[k] = v
			}
		}
		out.Styling = &st
	}
	if c.ValidationReport != nil {
		vr := *c.ValidationReport
		vr.Issues = append([]ValidationIssue(nil), c.ValidationReport.Issues...)
		out.ValidationReport = &vr
	}
	if c.FinalProduct != nil {
		fp := *c.FinalProduct
		out.FinalProduct = &fp
	}
	return &out
}

func cloneLayoutNode(n LayoutNode) LayoutNode {
	out := n
	if n.Children != nil {
		out.Children = make([]LayoutNode, len(n.Children))
		for i := range n.Children {
			out.Children[i] = cloneLayoutNode(n.Children[i])
		}
	}
	return out
}
