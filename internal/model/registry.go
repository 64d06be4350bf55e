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
	"fmt"
	"sync"

	"toolforge/internal/model/llm"
	"toolforge/pkg/config"
	"toolforge/pkg/log"
)

// Registry 模型注册表：按模型 ID 解析 LLM 客户端。
// 未知 ID 回退到默认模型并告警，解析阶段从不失败关闭。
type Registry struct {
	mu           sync.RWMutex
	clients      map[string]llm.Client
	defaultModel string
	logger       *log.Logger
}

// NewRegistry 创建空注册表
func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		clients: make(map[string]llm.Client),
		logger:  logger,
	}
}

// NewRegistryFromConfig 根据模型配置构建注册表，为每个 provider 的每个模型创建客户端
func NewRegistryFromConfig(cfg config.ModelConfig, logger *log.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	for provider, pc := range cfg.LLM.Providers {
		for modelID, info := range pc.Models {
			name := info.Name
			if name == "" {
				name = modelID
			}
			c, err := llm.NewClient(provider, name, pc.APIKey, pc.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("创建 LLM 客户端 %s/%s: %w", provider, modelID, err)
			}
			r.Register(modelID, c)
		}
	}
	if cfg.Defaults.LLM != "" {
		if err := r.SetDefault(cfg.Defaults.LLM); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册 LLM 实现
func (r *Registry) Register(modelID string, c llm.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[modelID] = c
}

// SetDefault 设置默认模型，必须已注册
func (r *Registry) SetDefault(modelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[modelID]; !ok {
		return fmt.Errorf("默认模型未注册: %s", modelID)
	}
	r.defaultModel = modelID
	return nil
}

// Resolve 按模型 ID 获取客户端；ID 为空或未注册时回退默认模型。
// 仅当无默认模型可用时返回错误。
func (r *Registry) Resolve(modelID string) (llm.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if modelID != "" {
		if c, ok := r.clients[modelID]; ok {
			return c, nil
		}
		if r.logger != nil {
			r.logger.Warn("模型未注册，回退默认模型",
				"model_id", modelID, "default", r.defaultModel)
		}
	}
	if r.defaultModel == "" {
		return nil, fmt.Errorf("模型未注册且无默认模型: %q", modelID)
	}
	c, ok := r.clients[r.defaultModel]
	if !ok {
		return nil, fmt.Errorf("默认模型未注册: %s", r.defaultModel)
	}
	return c, nil
}

// Models 已注册模型 ID 列表（诊断用）
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for id := range r.clients {
		out = append(out, id)
	}
	return out
}
