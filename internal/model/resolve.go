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
	"toolforge/internal/tcc"
)

// ResolveAgentModel 解析某 Agent 本次运行使用的模型覆盖。
// 优先级固定：任务的 agentModelMapping 显式条目 > 任务级 selectedModel
// （哨兵值 "default" 除外）> 空串表示无覆盖，由 Agent 用内建默认。
// 该顺序决定计费与实际推理用的模型，不可调换。
func ResolveAgentModel(agentName string, c *tcc.ToolConstructionContext) string {
	if c == nil {
		return ""
	}
	if id, ok := c.AgentModelMapping[agentName]; ok && id != "" {
		return id
	}
	if c.SelectedModel != "" && c.SelectedModel != tcc.DefaultModelSentinel {
		return c.SelectedModel
	}
	return ""
}
