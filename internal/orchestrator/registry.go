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
	"fmt"

	"toolforge/internal/tcc"
)

// HandlerFunc 单个阶段的处理函数；只接收 jobID，TCC 由处理器自行重新读取，
// 避免在异步边界上携带过期快照
type HandlerFunc func(ctx context.Context, jobID string) error

// Registry 阶段处理器注册表。按步骤枚举建静态表，注册发生在启动期，
// 运行期只读，不做运行时字符串查找。
type Registry struct {
	table  []HandlerFunc
	sealed bool
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{table: make([]HandlerFunc, len(tcc.Steps()))}
}

// Register 为步骤登记处理器；重复登记或终态步骤报错
func (r *Registry) Register(step tcc.OrchestrationStep, fn HandlerFunc) error {
	if r.sealed {
		return fmt.Errorf("registry 已封闭，不接受新处理器")
	}
	if step.IsTerminal() {
		return fmt.Errorf("终态步骤 %s 不可登记处理器", step)
	}
	idx := step.Index()
	if idx < 0 {
		return fmt.Errorf("未知步骤: %s", step)
	}
	if r.table[idx] != nil {
		return fmt.Errorf("步骤 %s 已登记处理器", step)
	}
	r.table[idx] = fn
	return nil
}

// Seal 封闭注册表；启动装配完成后调用，之后 Register 报错
func (r *Registry) Seal() {
	r.sealed = true
}

// Get 取步骤的处理器
func (r *Registry) Get(step tcc.OrchestrationStep) (HandlerFunc, bool) {
	idx := step.Index()
	if idx < 0 || r.table[idx] == nil {
		return nil, false
	}
	return r.table[idx], true
}
