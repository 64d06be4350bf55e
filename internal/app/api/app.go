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

package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/redis/go-redis/v9"

	"toolforge/internal/agent"
	"toolforge/internal/api/http"
	"toolforge/internal/api/http/middleware"
	"toolforge/internal/app"
	"toolforge/internal/orchestrator"
	"toolforge/internal/progress"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配 HTTP Router、Handler、Middleware 与编排组件）
type App struct {
	bootstrap    *app.Bootstrap
	router       *http.Router
	hertz        *server.Hertz
	buffer       *progress.Buffer
	bufferCancel context.CancelFunc
	redisClient  *redis.Client
	otelProvider otelProviderShutdown
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	logger := bootstrap.Logger

	// 进度链路：Hub 供进程内长轮询订阅，外部通道（log/redis）经 Buffer 批量刷新
	hub := progress.NewHub()
	var redisClient *redis.Client
	var subscriber http.ProgressSubscriber = hub

	var sink progress.Emitter
	if cfg != nil && cfg.Progress.Emitter == "redis" {
		redisClient = app.NewRedisClient(cfg.Progress.Redis)
		redisEmitter := progress.NewRedisEmitterWithClient(redisClient)
		sink = redisEmitter
		// 多副本部署时进度可能由别的进程产生，订阅走 Redis Pub/Sub
		subscriber = redisEmitter
	} else {
		sink = progress.NewLogEmitter(logger)
	}

	bufCfg := progress.BufferConfig{}
	if cfg != nil {
		bufCfg.MaxBuffer = cfg.Progress.MaxBuffer
		bufCfg.MaxRetries = cfg.Progress.MaxRetries
		bufCfg.FlushInterval = parseDuration(cfg.Progress.FlushInterval, 2*time.Second)
	}
	buffer := progress.NewBuffer(sink, bufCfg, logger)
	emitter := progress.Multi(hub, buffer)

	// 阶段触发：redis 时仅入队（Worker 消费），否则进程内 goroutine 执行
	stepRegistry := orchestrator.NewRegistry()
	var trigger orchestrator.StageTrigger
	inProcess := cfg == nil || cfg.Worker.Trigger != "redis"
	if inProcess {
		trigger = orchestrator.NewGoroutineTrigger(stepRegistry, logger)
	} else {
		if redisClient == nil {
			redisClient = app.NewRedisClient(cfg.Progress.Redis)
		}
		queue := ""
		if cfg != nil {
			queue = cfg.Worker.Queue
		}
		trigger = orchestrator.NewRedisTrigger(redisClient, queue)
	}

	dispatcher := orchestrator.NewDispatcher(bootstrap.Store, trigger, emitter, logger)
	runner := agent.NewRunner(bootstrap.Store, bootstrap.Invoker, dispatcher, emitter, logger)
	if inProcess {
		var modelDefaults map[string]string
		if cfg != nil {
			modelDefaults = cfg.Model.AgentModels
		}
		if err := agent.RegisterAllWithModels(stepRegistry, runner, modelDefaults); err != nil {
			return nil, fmt.Errorf("注册阶段处理器失败: %w", err)
		}
	}

	control := orchestrator.NewControl(bootstrap.Store, dispatcher, emitter, logger)
	handler := http.NewHandler(control, logger)
	handler.SetProgressSubscriber(subscriber)

	mw := middleware.NewMiddleware()
	router := http.NewRouter(handler, mw)
	if cfg != nil {
		if cfg.API.CORS.Enable {
			router.SetCORSOrigins(cfg.API.CORS.AllowOrigins)
		}
		if cfg.API.Middleware.RateLimit && cfg.API.Middleware.RateLimitRPS > 0 {
			router.SetRateLimit(cfg.API.Middleware.RateLimitRPS)
		}
		if cfg.API.Middleware.Auth && cfg.API.Middleware.JWTKey != "" {
			timeout := parseDuration(cfg.API.Middleware.JWTTimeout, time.Hour)
			maxRefresh := parseDuration(cfg.API.Middleware.JWTMaxRefresh, time.Hour)
			jwtAuth, err := middleware.NewJWTAuth([]byte(cfg.API.Middleware.JWTKey), timeout, maxRefresh)
			if err != nil {
				logger.Warn("JWT 初始化失败，将跳过认证", "error", err)
			} else {
				router.SetJWT(jwtAuth)
				logger.Info("JWT 认证已启用")
			}
		}
	}

	return &App{
		bootstrap:   bootstrap,
		router:      router,
		buffer:      buffer,
		redisClient: redisClient,
	}, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	cfg := a.bootstrap.Config
	a.bootstrap.Logger.Info("API 服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 配置对齐
	output := os.Stdout
	if cfg != nil && cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(slog.LevelInfo)
	if cfg != nil {
		switch cfg.Log.Level {
		case "debug":
			levelVar.Set(slog.LevelDebug)
		case "warn":
			levelVar.Set(slog.LevelWarn)
		case "error":
			levelVar.Set(slog.LevelError)
		}
	}
	hertzLogger := hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	)
	hlog.SetLogger(hertzLogger)

	bufCtx, bufCancel := context.WithCancel(context.Background())
	a.bufferCancel = bufCancel
	a.buffer.Start(bufCtx)

	// 可选：启用链路追踪（OpenTelemetry）
	if cfg != nil && cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "toolforge-api"
		}
		exportEndpoint := cfg.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if cfg.Monitoring.Tracing.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			p := provider.NewOpenTelemetryProvider(opts...)
			a.otelProvider = p
			tracerOpt, tracerCfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(tracerCfg))
			a.bootstrap.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		} else {
			a.hertz = a.router.Build(addr)
		}
	} else {
		a.hertz = a.router.Build(addr)
	}

	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	if a.bufferCancel != nil {
		a.bufferCancel()
	}
	if a.buffer != nil {
		a.buffer.Stop()
	}
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// parseDuration 解析时长字符串，无效或空时返回 defaultVal
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
