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

package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"toolforge/internal/agent"
	"toolforge/internal/app"
	"toolforge/internal/orchestrator"
	"toolforge/internal/progress"
	"toolforge/pkg/config"
	"toolforge/pkg/log"
	"toolforge/pkg/metrics"
)

const (
	defaultConcurrency = 4
	defaultPollTimeout = 5 * time.Second
)

// App Worker 应用：从 Redis 队列取阶段触发消息，执行已注册的阶段处理器。
// 推进由 Dispatcher 完成，下一步触发消息重新入队，由任意 Worker 消费。
type App struct {
	config      *config.Config
	logger      *log.Logger
	bootstrap   *app.Bootstrap
	registry    *orchestrator.Registry
	trigger     *orchestrator.RedisTrigger
	buffer      *progress.Buffer
	redisClient *redis.Client
	workerID    string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp 创建新的 Worker 应用
func NewApp(cfg *config.Config) (*App, error) {
	bootstrap, err := app.NewBootstrap(cfg)
	if err != nil {
		return nil, err
	}
	logger := bootstrap.Logger

	redisCfg := config.RedisConfig{}
	queue := ""
	if cfg != nil {
		redisCfg = cfg.Progress.Redis
		queue = cfg.Worker.Queue
	}
	redisClient := app.NewRedisClient(redisCfg)

	var sink progress.Emitter
	if cfg != nil && cfg.Progress.Emitter == "redis" {
		sink = progress.NewRedisEmitterWithClient(redisClient)
	} else {
		sink = progress.NewLogEmitter(logger)
	}
	bufCfg := progress.BufferConfig{}
	if cfg != nil {
		bufCfg.MaxBuffer = cfg.Progress.MaxBuffer
		bufCfg.MaxRetries = cfg.Progress.MaxRetries
		if d, err := time.ParseDuration(cfg.Progress.FlushInterval); err == nil && d > 0 {
			bufCfg.FlushInterval = d
		}
	}
	buffer := progress.NewBuffer(sink, bufCfg, logger)

	stepRegistry := orchestrator.NewRegistry()
	trigger := orchestrator.NewRedisTrigger(redisClient, queue)
	dispatcher := orchestrator.NewDispatcher(bootstrap.Store, trigger, buffer, logger)
	runner := agent.NewRunner(bootstrap.Store, bootstrap.Invoker, dispatcher, buffer, logger)
	var modelDefaults map[string]string
	if cfg != nil {
		modelDefaults = cfg.Model.AgentModels
	}
	if err := agent.RegisterAllWithModels(stepRegistry, runner, modelDefaults); err != nil {
		return nil, fmt.Errorf("注册阶段处理器失败: %w", err)
	}

	return &App{
		config:      cfg,
		logger:      logger,
		bootstrap:   bootstrap,
		registry:    stepRegistry,
		trigger:     trigger,
		buffer:      buffer,
		redisClient: redisClient,
		workerID:    DefaultWorkerID(),
	}, nil
}

// Start 启动消费循环
func (a *App) Start() error {
	a.logger.Info("启动 worker 应用", "worker_id", a.workerID, "queue", a.trigger.Queue())

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.buffer.Start(ctx)

	concurrency := defaultConcurrency
	pollTimeout := defaultPollTimeout
	if a.config != nil {
		if a.config.Worker.Concurrency > 0 {
			concurrency = a.config.Worker.Concurrency
		}
		if d, err := time.ParseDuration(a.config.Worker.PollTimeout); err == nil && d > 0 {
			pollTimeout = d
		}
	}

	a.wg.Add(1)
	go a.consume(ctx, concurrency, pollTimeout)

	a.logger.Info("worker 应用启动成功", "concurrency", concurrency)
	return nil
}

// consume 阻塞拉取触发消息并并发执行，信号量限制在途阶段数
func (a *App) consume(ctx context.Context, concurrency int, pollTimeout time.Duration) {
	defer a.wg.Done()
	sem := make(chan struct{}, concurrency)

	for {
		if ctx.Err() != nil {
			return
		}
		ev, err := a.trigger.Receive(ctx, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("拉取触发消息失败", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if ev == nil {
			continue
		}

		handler, ok := a.registry.Get(ev.ExpectedStep)
		if !ok {
			a.logger.Error("触发消息指向未注册步骤，丢弃",
				"job_id", ev.JobID, "step", string(ev.ExpectedStep))
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		a.wg.Add(1)
		metrics.WorkerBusy.WithLabelValues(a.workerID).Inc()
		// 关停只停止拉取，在途阶段不随 ctx 取消，由 Shutdown 等待收尾
		runCtx := context.WithoutCancel(ctx)
		go func(ev orchestrator.AdvanceEvent) {
			defer func() {
				metrics.WorkerBusy.WithLabelValues(a.workerID).Dec()
				<-sem
				a.wg.Done()
			}()
			if err := handler(runCtx, ev.JobID); err != nil {
				a.logger.Error("阶段执行失败",
					"job_id", ev.JobID, "step", string(ev.ExpectedStep), "error", err)
			}
		}(*ev)
	}
}

// Shutdown 关闭应用；等待在途阶段执行完毕后做最终 flush
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("关闭 worker 应用")

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("等待在途阶段超时，强制退出")
	}

	a.buffer.Stop()
	if err := a.redisClient.Close(); err != nil {
		a.logger.Error("关闭 Redis 连接失败", "error", err)
	}

	a.logger.Info("worker 应用关闭成功")
	return nil
}

// DefaultWorkerID 主机名加进程号，多副本部署时区分指标来源
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
