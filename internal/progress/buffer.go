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

package progress

import (
	"context"
	"sync"
	"time"

	"toolforge/pkg/log"
	"toolforge/pkg/metrics"
)

// TickerFactory 返回触发 flush 的时钟通道与停止函数；测试可注入手动通道
type TickerFactory func(d time.Duration) (<-chan time.Time, func())

// defaultTicker 标准 time.Ticker
func defaultTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// BufferConfig 批量发送配置
type BufferConfig struct {
	// FlushInterval 定时 flush 周期，<=0 时默认 2s
	FlushInterval time.Duration
	// MaxBuffer 队列上限，超出时丢弃最旧事件；<=0 时默认 1024
	MaxBuffer int
	// MaxRetries 单条事件 flush 失败后的最大重试次数（不含首次），超过即丢弃；<0 时默认 2
	MaxRetries int
	// Ticker 可注入时钟，nil 时使用 time.Ticker
	Ticker TickerFactory
}

type bufferedEvent struct {
	ev       Event
	attempts int
}

// Buffer 批量进度发送器：事件先入队，由自有 flush 循环定期推给下游 Emitter。
// 显式 Start/Stop 生命周期，时钟可注入；flush 失败有界重试后丢弃，队列不会无界增长。
type Buffer struct {
	sink   Emitter
	cfg    BufferConfig
	logger *log.Logger

	mu    sync.Mutex
	queue []bufferedEvent

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewBuffer 创建批量发送器；sink 为下游通道
func NewBuffer(sink Emitter, cfg BufferConfig, logger *log.Logger) *Buffer {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = 1024
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Ticker == nil {
		cfg.Ticker = defaultTicker
	}
	return &Buffer{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Emit 实现 Emitter；入队即返回，满队列时丢最旧的事件
func (b *Buffer) Emit(ctx context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) >= b.cfg.MaxBuffer {
		b.queue = b.queue[1:]
		metrics.ProgressDroppedTotal.WithLabelValues("overflow").Inc()
	}
	b.queue = append(b.queue, bufferedEvent{ev: ev})
	return nil
}

// Start 启动 flush 循环；ctx 取消或 Stop 调用时退出
func (b *Buffer) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		tick, stop := b.cfg.Ticker(b.cfg.FlushInterval)
		defer stop()
		for {
			select {
			case <-b.stopCh:
				return
			case <-ctx.Done():
				return
			case <-tick:
				b.Flush(ctx)
			}
		}
	}()
}

// Stop 停止循环并做最终 flush
func (b *Buffer) Stop() {
	b.stopped.Do(func() { close(b.stopCh) })
	b.wg.Wait()
	b.Flush(context.Background())
}

// Flush 推送当前队列；失败事件在重试预算内重新入队，预算耗尽丢弃并记日志
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	var requeue []bufferedEvent
	for _, item := range batch {
		if err := b.sink.Emit(ctx, item.ev); err != nil {
			item.attempts++
			if item.attempts > b.cfg.MaxRetries {
				metrics.ProgressDroppedTotal.WithLabelValues("retry_exhausted").Inc()
				b.logger.Warn("进度事件重试耗尽，丢弃",
					"job_id", item.ev.JobID, "step", string(item.ev.Step), "error", err)
				continue
			}
			requeue = append(requeue, item)
		}
	}
	if len(requeue) > 0 {
		b.mu.Lock()
		b.queue = append(requeue, b.queue...)
		b.mu.Unlock()
	}
}

// Len 当前排队事件数（监控/测试用）
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
