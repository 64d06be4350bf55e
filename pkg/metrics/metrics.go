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

package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		StepTotal, StepDuration, StaleTriggerTotal,
		ModelInvokeAttempts, ModelInvokeDuration,
		ProgressDroppedTotal, WorkerBusy,
	)
}

// StepTotal 编排步骤结果总数（按步骤与结果状态）
var StepTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "toolforge_step_total",
		Help: "编排步骤结果总数（按步骤与状态）",
	},
	[]string{"step", "status"}, // completed | failed
)

// StepDuration 单步执行耗时（秒）
var StepDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "toolforge_step_duration_seconds",
		Help:    "编排步骤执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"step"},
)

// StaleTriggerTotal 过期触发（步骤不匹配被忽略）总数
var StaleTriggerTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "toolforge_stale_trigger_total",
		Help: "步骤不匹配被忽略的触发总数",
	},
	[]string{"step"},
)

// ModelInvokeAttempts 模型调用尝试总数（按 provider 与结果）
var ModelInvokeAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "toolforge_model_invoke_attempts_total",
		Help: "模型调用尝试总数（按 provider 与结果）",
	},
	[]string{"provider", "outcome"}, // success | failure
)

// ModelInvokeDuration 模型调用耗时（秒，单次尝试）
var ModelInvokeDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "toolforge_model_invoke_duration_seconds",
		Help:    "模型单次调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"provider"},
)

// ProgressDroppedTotal 被丢弃的进度事件数（按原因）
var ProgressDroppedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "toolforge_progress_dropped_total",
		Help: "被丢弃的进度事件数（按原因）",
	},
	[]string{"reason"}, // overflow | retry_exhausted
)

// WorkerBusy 当前正在执行的阶段处理器数（每 Worker）
var WorkerBusy = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "toolforge_worker_busy",
		Help: "当前正在执行的阶段处理器数",
	},
	[]string{"worker_id"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
