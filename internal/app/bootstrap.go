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

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"toolforge/internal/model"
	"toolforge/internal/model/llm"
	"toolforge/internal/tcc"
	"toolforge/pkg/config"
	"toolforge/pkg/log"
	"toolforge/pkg/secrets"
)

// Bootstrap 统一初始化：供 api 与 worker 复用，避免在 cmd 内写装配逻辑
type Bootstrap struct {
	Config   *config.Config
	Logger   *log.Logger
	Secrets  secrets.Store
	Store    tcc.Store
	Registry *model.Registry
	Invoker  *model.Invoker
}

// NewBootstrap 根据配置创建 Bootstrap（日志、密钥、TCC 存储、模型注册表、调用器）
func NewBootstrap(cfg *config.Config) (*Bootstrap, error) {
	logCfg := &log.Config{}
	if cfg != nil {
		logCfg.Level = cfg.Log.Level
		logCfg.Format = cfg.Log.Format
		logCfg.File = cfg.Log.File
	}
	logger, err := log.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	secretsCfg := secrets.Config{}
	if cfg != nil {
		secretsCfg.Provider = cfg.Secrets.Type
		secretsCfg.Config = cfg.Secrets.Options
	}
	sec, err := secrets.NewStore(secretsCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化密钥存储失败: %w", err)
	}
	if cfg != nil {
		fillProviderKeys(cfg, sec)
	}

	store, err := NewTCCStore(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化 TCC 存储失败: %w", err)
	}

	var registry *model.Registry
	if cfg != nil {
		registry, err = model.NewRegistryFromConfig(cfg.Model, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化模型注册表失败: %w", err)
		}
	} else {
		registry = model.NewRegistry(logger)
	}

	invoker := model.NewInvoker(registry, logger, invokerOptions(cfg)...)

	return &Bootstrap{
		Config:   cfg,
		Logger:   logger,
		Secrets:  sec,
		Store:    store,
		Registry: registry,
		Invoker:  invoker,
	}, nil
}

// NewTCCStore 按配置创建 TCC 存储；type 为空时使用内存实现
func NewTCCStore(ctx context.Context, cfg *config.Config) (tcc.Store, error) {
	if cfg == nil {
		return tcc.NewMemoryStore(), nil
	}
	switch cfg.TCCStore.Type {
	case "", "memory":
		return tcc.NewMemoryStore(), nil
	case "postgres":
		if cfg.TCCStore.DSN == "" {
			return nil, fmt.Errorf("tcc_store.type=postgres 需要 dsn")
		}
		return tcc.NewPostgresStore(ctx, cfg.TCCStore.DSN)
	case "sqlite":
		if cfg.TCCStore.Path == "" {
			return nil, fmt.Errorf("tcc_store.type=sqlite 需要 path")
		}
		return tcc.NewSQLiteStore(ctx, cfg.TCCStore.Path)
	default:
		return nil, fmt.Errorf("未知的 tcc_store.type: %s", cfg.TCCStore.Type)
	}
}

// NewRedisClient 创建 Redis 客户端（进度发布与阶段触发队列共用一份连接配置）
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// fillProviderKeys 从密钥存储补齐未在配置中给出的 Provider API Key，
// 键名约定 <PROVIDER>_API_KEY
func fillProviderKeys(cfg *config.Config, sec secrets.Store) {
	for name, pc := range cfg.Model.LLM.Providers {
		if pc.APIKey != "" {
			continue
		}
		key := strings.ToUpper(name) + "_API_KEY"
		if v, err := sec.Get(context.Background(), key); err == nil && v != "" {
			pc.APIKey = v
			cfg.Model.LLM.Providers[name] = pc
		}
	}
}

// invokerOptions 由配置推导模型调用器选项（重试与限流）
func invokerOptions(cfg *config.Config) []model.InvokerOption {
	var opts []model.InvokerOption
	if cfg == nil {
		return opts
	}
	if cfg.Model.Retry.MaxAttempts > 0 {
		opts = append(opts, model.WithMaxAttempts(cfg.Model.Retry.MaxAttempts))
	}
	if cfg.Model.Retry.BackoffBase != "" {
		if d, err := time.ParseDuration(cfg.Model.Retry.BackoffBase); err == nil && d > 0 {
			opts = append(opts, model.WithBackoffBase(d))
		}
	}
	if len(cfg.RateLimits.LLM) > 0 {
		limits := make(map[string]llm.LimitConfig, len(cfg.RateLimits.LLM))
		for provider, lc := range cfg.RateLimits.LLM {
			limits[provider] = llm.LimitConfig{
				RequestsPerMinute: lc.RequestsPerMinute,
				MaxConcurrent:     lc.MaxConcurrent,
			}
		}
		limiter := llm.NewRateLimiter(limits, llm.LimitConfig{
			RequestsPerMinute: 60,
			MaxConcurrent:     4,
		})
		opts = append(opts, model.WithRateLimiter(limiter))
	}
	return opts
}
