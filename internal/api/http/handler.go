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

package http

import (
	"bytes"
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"toolforge/internal/api/http/middleware"
	"toolforge/internal/orchestrator"
	"toolforge/internal/progress"
	"toolforge/internal/tcc"
	"toolforge/pkg/log"
	"toolforge/pkg/metrics"
)

// ProgressSubscriber 进度事件订阅；进程内 Hub 或 Redis Pub/Sub 均可
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, jobID string) <-chan progress.Event
}

// Handler HTTP 处理器
type Handler struct {
	control    *orchestrator.Control
	subscriber ProgressSubscriber
	logger     *log.Logger
}

// NewHandler 创建 HTTP 处理器
func NewHandler(control *orchestrator.Control, logger *log.Logger) *Handler {
	return &Handler{control: control, logger: logger}
}

// SetProgressSubscriber 启用进度事件长轮询端点
func (h *Handler) SetProgressSubscriber(sub ProgressSubscriber) {
	h.subscriber = sub
}

// startRequest 创建任务请求体
type startRequest struct {
	UserID            string            `json:"userId"`
	Description       string            `json:"description"`
	TargetAudience    string            `json:"targetAudience"`
	Industry          string            `json:"industry"`
	ToolType          string            `json:"toolType"`
	Features          []string          `json:"features"`
	SelectedModel     string            `json:"selectedModel"`
	AgentModelMapping map[string]string `json:"agentModelMapping"`
}

// sessionRequest pause/resume 请求体；TCC 以调用方提交的为准
type sessionRequest struct {
	TCC *tcc.ToolConstructionContext `json:"tcc"`
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(http.StatusOK, utils.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "toolforge-api",
	})
}

// Metrics Prometheus 指标导出
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		h.logger.Error("导出指标失败", "error", err)
		c.JSON(http.StatusInternalServerError, utils.H{"error": "导出指标失败"})
		return
	}
	c.Data(http.StatusOK, "text/plain; version=0.0.4", buf.Bytes())
}

// StartTool 创建工具构建任务；accepted 语义，立即返回 jobId 不等待阶段完成
func (h *Handler) StartTool(ctx context.Context, c *app.RequestContext) {
	var req startRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "请求体不是合法 JSON"})
		return
	}

	userID := middleware.UserID(c)
	if userID == tcc.AnonymousUserID && req.UserID != "" {
		userID = req.UserID
	}

	input := tcc.UserInput{
		Description:    req.Description,
		TargetAudience: req.TargetAudience,
		Industry:       req.Industry,
		ToolType:       req.ToolType,
		Features:       req.Features,
	}
	created, err := h.control.Start(ctx, userID, input,
		orchestrator.WithSelectedModel(req.SelectedModel),
		orchestrator.WithAgentModelMapping(req.AgentModelMapping),
	)
	if err != nil {
		if stderrors.Is(err, orchestrator.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
			return
		}
		h.logger.Error("创建任务失败", "error", err)
		c.JSON(http.StatusInternalServerError, utils.H{"error": "创建任务失败"})
		return
	}

	c.JSON(http.StatusAccepted, utils.H{
		"jobId":  created.JobID,
		"step":   created.CurrentOrchestrationStep,
		"status": created.Status,
	})
}

// GetTool 查询任务完整 TCC
func (h *Handler) GetTool(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("id")
	record, err := h.control.Status(ctx, jobID)
	if err != nil {
		if stderrors.Is(err, tcc.ErrNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": "任务不存在"})
			return
		}
		h.logger.Error("查询任务失败", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, utils.H{"error": "查询任务失败"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetProgress 查询任务进度日志
func (h *Handler) GetProgress(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("id")
	record, err := h.control.Status(ctx, jobID)
	if err != nil {
		if stderrors.Is(err, tcc.ErrNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": "任务不存在"})
			return
		}
		h.logger.Error("查询进度失败", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, utils.H{"error": "查询进度失败"})
		return
	}
	c.JSON(http.StatusOK, utils.H{
		"jobId":    record.JobID,
		"step":     record.CurrentOrchestrationStep,
		"status":   record.Status,
		"progress": record.ProgressLog,
	})
}

const (
	defaultWatchTimeout = 25 * time.Second
	maxWatchTimeout     = 60 * time.Second
)

// WatchProgress 长轮询进度事件：阻塞至产生新事件或超时，返回本次等待
// 期间收到的全部事件。客户端拿到响应后立即再次轮询。
func (h *Handler) WatchProgress(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("id")
	if h.subscriber == nil {
		c.JSON(http.StatusServiceUnavailable, utils.H{"error": "进度订阅未启用"})
		return
	}

	timeout := defaultWatchTimeout
	if raw := c.Query("timeout"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			timeout = d
		}
	}
	if timeout > maxWatchTimeout {
		timeout = maxWatchTimeout
	}

	subCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sub := h.subscriber.Subscribe(subCtx, jobID)

	events := make([]progress.Event, 0, 4)
	select {
	case ev, ok := <-sub:
		if ok {
			events = append(events, ev)
		}
	case <-subCtx.Done():
	}
	// 首个事件之后把已经排队的事件一并带回
drain:
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				break drain
			}
			events = append(events, ev)
		default:
			break drain
		}
	}

	c.JSON(http.StatusOK, utils.H{
		"jobId":  jobID,
		"events": events,
	})
}

// PauseTool 暂停任务；协作式，不中断在途阶段
func (h *Handler) PauseTool(ctx context.Context, c *app.RequestContext) {
	h.setSessionStatus(ctx, c, h.control.Pause)
}

// ResumeTool 恢复任务；不自动重触发当前阶段
func (h *Handler) ResumeTool(ctx context.Context, c *app.RequestContext) {
	h.setSessionStatus(ctx, c, h.control.Resume)
}

type sessionOp func(ctx context.Context, jobID string, c *tcc.ToolConstructionContext) (*tcc.ToolConstructionContext, string, error)

func (h *Handler) setSessionStatus(ctx context.Context, c *app.RequestContext, op sessionOp) {
	jobID := c.Param("id")

	var req sessionRequest
	_ = c.BindJSON(&req)

	record := req.TCC
	if record == nil {
		// 未随请求提交 TCC 时以存储为准
		stored, err := h.control.Status(ctx, jobID)
		if err != nil {
			if stderrors.Is(err, tcc.ErrNotFound) {
				c.JSON(http.StatusNotFound, utils.H{"error": "任务不存在且请求未附带 TCC"})
				return
			}
			h.logger.Error("读取任务失败", "job_id", jobID, "error", err)
			c.JSON(http.StatusInternalServerError, utils.H{"error": "读取任务失败"})
			return
		}
		record = stored
	}

	updated, message, err := op(ctx, jobID, record)
	if err != nil {
		if stderrors.Is(err, orchestrator.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, utils.H{"error": err.Error()})
			return
		}
		h.logger.Error("更新任务状态失败", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, utils.H{"error": "更新任务状态失败"})
		return
	}

	c.JSON(http.StatusOK, utils.H{
		"message": message,
		"tcc":     updated,
	})
}
