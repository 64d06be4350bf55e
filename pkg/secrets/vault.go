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

package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig HashiCorp Vault 后端配置
type VaultConfig struct {
	// Address Vault 服务地址，空值回退 http://localhost:8200
	Address string `yaml:"address"`
	// Token 访问令牌
	Token string `yaml:"token"`
	// PathPrefix 键路径前缀，空值回退 "toolforge"
	PathPrefix string `yaml:"path_prefix"`
}

// vaultStore Vault KV 后端：键存于 <prefix>/<key>，值取 data["value"]。
// Set 写穿后留本地副本，同进程内读写不再回源
type vaultStore struct {
	client *vault.Client
	prefix string

	mu    sync.RWMutex
	local map[string]string
}

// NewVaultStore 创建 Vault 后端并做一次健康检查
func NewVaultStore(config VaultConfig) (Store, error) {
	if config.Address == "" {
		config.Address = "http://localhost:8200"
	}

	cfg := vault.DefaultConfig()
	cfg.Address = config.Address
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Vault 客户端失败: %w", err)
	}
	if config.Token != "" {
		client.SetToken(config.Token)
	}
	if _, err := client.Sys().Health(); err != nil {
		return nil, fmt.Errorf("连接 Vault 失败: %w", err)
	}

	prefix := "toolforge"
	if config.PathPrefix != "" {
		prefix = config.PathPrefix
	}
	return &vaultStore{
		client: client,
		prefix: prefix,
		local:  make(map[string]string),
	}, nil
}

func (v *vaultStore) Get(ctx context.Context, key string) (string, error) {
	v.mu.RLock()
	if val, ok := v.local[key]; ok {
		v.mu.RUnlock()
		return val, nil
	}
	v.mu.RUnlock()

	secret, err := v.client.Logical().ReadWithContext(ctx, v.keyPath(key))
	if err != nil {
		return "", fmt.Errorf("读取 Vault secret 失败: %w", err)
	}
	if secret == nil {
		return "", fmt.Errorf("secret 不存在: %s", key)
	}
	if val, ok := secret.Data["value"].(string); ok {
		return val, nil
	}
	// 没有 "value" 字段时取首个字符串值，容忍手工写入的 KV
	for _, raw := range secret.Data {
		if val, ok := raw.(string); ok {
			return val, nil
		}
	}
	return "", fmt.Errorf("secret %s 无字符串值", key)
}

func (v *vaultStore) Set(ctx context.Context, key string, value string) error {
	_, err := v.client.Logical().WriteWithContext(ctx, v.keyPath(key), map[string]interface{}{
		"value": value,
	})
	if err != nil {
		return fmt.Errorf("写入 Vault secret 失败: %w", err)
	}
	v.mu.Lock()
	v.local[key] = value
	v.mu.Unlock()
	return nil
}

func (v *vaultStore) Delete(ctx context.Context, key string) error {
	if _, err := v.client.Logical().DeleteWithContext(ctx, v.keyPath(key)); err != nil {
		return fmt.Errorf("删除 Vault secret 失败: %w", err)
	}
	v.mu.Lock()
	delete(v.local, key)
	v.mu.Unlock()
	return nil
}

func (v *vaultStore) List(ctx context.Context, prefix string) ([]string, error) {
	searchPath := v.prefix
	if prefix != "" {
		searchPath = fmt.Sprintf("%s/metadata/%s", v.prefix, prefix)
	}
	secret, err := v.client.Logical().ListWithContext(ctx, searchPath)
	if err != nil {
		return nil, fmt.Errorf("列举 Vault secret 失败: %w", err)
	}
	if secret == nil {
		return nil, nil
	}
	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}
	var keys []string
	for _, item := range raw {
		str, ok := item.(string)
		if !ok {
			continue
		}
		if prefix != "" && !strings.HasPrefix(str, prefix) {
			str = prefix + "/" + str
		}
		keys = append(keys, str)
	}
	return keys, nil
}

func (v *vaultStore) keyPath(key string) string {
	return v.prefix + "/" + key
}
