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
	"context"
	"errors"
)

var (
	// ErrNotFound 指定 jobID 无记录
	ErrNotFound = errors.New("tcc: context not found")
	// ErrRevisionMismatch Update 时持有的 revision 与存储当前值不一致
	ErrRevisionMismatch = errors.New("tcc: revision mismatch on update")
	// ErrAlreadyExists Save 创建时 jobID 已存在
	ErrAlreadyExists = errors.New("tcc: context already exists")
	// ErrTerminal 终态 TCC 仅允许修改 status
	ErrTerminal = errors.New("tcc: completed context is immutable except status")
)

// AnyRevision Update 的 expectedRevision 传此值时跳过 CAS（last-write-wins 兼容路径）
const AnyRevision = -1

// Patch TCC 的一次局部更新；nil/零值字段不触碰对应存量字段，阶段产物只增不删
type Patch struct {
	Step   *OrchestrationStep
	Status *StepStatus

	SelectedModel     *string
	AgentModelMapping map[string]string

	FunctionSignatures []FunctionSignature
	StateDesign        *StateDesign
	Layout             *LayoutDesign
	Styling            *Styling
	AssembledCode      *string
	ValidationReport   *ValidationReport
	FinalProduct       *FinalProduct

	// ProgressEntries 追加到 progressLog 末尾（Message 为空的条目由 Apply 补时间戳）
	ProgressEntries []ProgressEntry
}

// statusOnly 判断 patch 是否只改 status（与进度日志）；终态 TCC 仅接受此类更新
func (p Patch) statusOnly() bool {
	return p.Step == nil &&
		p.SelectedModel == nil && p.AgentModelMapping == nil &&
		p.FunctionSignatures == nil && p.StateDesign == nil &&
		p.Layout == nil && p.Styling == nil &&
		p.AssembledCode == nil && p.ValidationReport == nil &&
		p.FinalProduct == nil
}

// Apply 将 patch 施加到 ctx（就地修改）；由各 Store 实现持锁或在事务内调用
func (p Patch) Apply(c *ToolConstructionContext) {
	if p.Step != nil {
		c.CurrentOrchestrationStep = *p.Step
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.SelectedModel != nil {
		c.SelectedModel = *p.SelectedModel
	}
	if p.AgentModelMapping != nil {
		if c.AgentModelMapping == nil {
			c.AgentModelMapping = make(map[string]string, len(p.AgentModelMapping))
		}
		for k, v := range p.AgentModelMapping {
			c.AgentModelMapping[k] = v
		}
	}
	if p.FunctionSignatures != nil {
		c.FunctionSignatures = p.FunctionSignatures
	}
	if p.StateDesign != nil {
		c.StateDesign = p.StateDesign
	}
	if p.Layout != nil {
		c.Layout = p.Layout
	}
	if p.Styling != nil {
		c.Styling = p.Styling
	}
	if p.AssembledCode != nil {
		c.AssembledCode = *p.AssembledCode
	}
	if p.ValidationReport != nil {
		c.ValidationReport = p.ValidationReport
	}
	if p.FinalProduct != nil {
		c.FinalProduct = p.FinalProduct
	}
	for _, e := range p.ProgressEntries {
		c.AppendProgress(e.Step, e.Status, e.Message)
	}
}

// Store TCC 持久化接口；jobID 为主键，实现需返回深拷贝
type Store interface {
	// Get 按 jobID 读取；无记录返回 ErrNotFound
	Get(ctx context.Context, jobID string) (*ToolConstructionContext, error)
	// Save 创建新记录；jobID 已存在返回 ErrAlreadyExists
	Save(ctx context.Context, c *ToolConstructionContext) error
	// Update 读-改-写：按 expectedRevision CAS（AnyRevision 跳过），应用 patch，
	// revision 自增并刷新 updatedAt，返回更新后的副本
	Update(ctx context.Context, jobID string, expectedRevision int, patch Patch) (*ToolConstructionContext, error)
}
