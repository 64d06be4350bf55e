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
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// K8sConfig Kubernetes 挂载型 secret 后端配置
type K8sConfig struct {
	// ServiceAccountPath service account 挂载目录，
	// 空值回退 /var/run/secrets/kubernetes.io/serviceaccount
	ServiceAccountPath string `yaml:"service_account_path"`
	// SecretsPath 业务 secret（各 Provider 的 API key 等）的挂载目录，
	// 空值回退 /etc/toolforge/secrets，文件名即键名
	SecretsPath string `yaml:"secrets_path"`
}

// k8sStore 从 pod 内挂载文件读取 secret；挂载内容只读，
// Set/Delete 只作用于进程内覆盖层
type k8sStore struct {
	saPath      string
	secretsPath string

	mu       sync.RWMutex
	override map[string]string
}

// NewK8sStore 创建 Kubernetes 后端；不在集群内（SA 目录缺失）时报错
func NewK8sStore(config K8sConfig) (Store, error) {
	saPath := "/var/run/secrets/kubernetes.io/serviceaccount"
	if config.ServiceAccountPath != "" {
		saPath = config.ServiceAccountPath
	}
	if _, err := os.Stat(saPath); err != nil {
		return nil, fmt.Errorf("service account 目录不可用（未运行在 Kubernetes 内？）: %s", saPath)
	}

	secretsPath := "/etc/toolforge/secrets"
	if config.SecretsPath != "" {
		secretsPath = config.SecretsPath
	}
	return &k8sStore{
		saPath:      saPath,
		secretsPath: secretsPath,
		override:    make(map[string]string),
	}, nil
}

func (k *k8sStore) Get(ctx context.Context, key string) (string, error) {
	k.mu.RLock()
	if val, ok := k.override[key]; ok {
		k.mu.RUnlock()
		return val, nil
	}
	k.mu.RUnlock()

	// 先查业务 secret 目录，再查 SA 目录（token、ca.crt 等）
	for _, dir := range []string{k.secretsPath, k.saPath} {
		data, err := os.ReadFile(filepath.Join(dir, key))
		if err != nil {
			continue
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("secret 不存在: %s", key)
}

func (k *k8sStore) Set(ctx context.Context, key string, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.override[key] = value
	return nil
}

func (k *k8sStore) Delete(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.override, key)
	return nil
}

func (k *k8sStore) List(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	var keys []string

	k.mu.RLock()
	for key := range k.override {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	k.mu.RUnlock()

	for _, dir := range []string{k.secretsPath, k.saPath} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			key := e.Name()
			if prefix != "" && !strings.HasPrefix(key, prefix) {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys, nil
}
