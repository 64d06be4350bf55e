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
	"encoding/json"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"

	"toolforge/internal/api/http/middleware"
	"toolforge/internal/orchestrator"
	"toolforge/internal/progress"
	"toolforge/internal/tcc"
	"toolforge/pkg/log"
)

func buildServerForTest(t *testing.T) (*server.Hertz, tcc.Store) {
	t.Helper()
	logger, err := log.NewLogger(&log.Config{Level: "error"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	store := tcc.NewMemoryStore()
	dispatcher := orchestrator.NewDispatcher(store, nil, nil, logger)
	control := orchestrator.NewControl(store, dispatcher, nil, logger)
	h := NewHandler(control, logger)
	r := NewRouter(h, middleware.NewMiddleware())
	return r.Build(":0"), store
}

func performJSON(s *server.Hertz, method, path string, payload any) *ut.ResponseRecorder {
	var body []byte
	if payload != nil {
		body, _ = json.Marshal(payload)
	}
	return ut.PerformRequest(s.Engine, method, path, &ut.Body{Body: bytes.NewReader(body), Len: len(body)})
}

func startJob(t *testing.T, s *server.Hertz) string {
	t.Helper()
	w := performJSON(s, "POST", "/api/tools/start", map[string]any{
		"description":    "一个根据人数和小费比例分摊账单的计算器",
		"targetAudience": "聚餐用户",
		"toolType":       "calculator",
	})
	if got := w.Result().StatusCode(); got != 202 {
		t.Fatalf("POST /api/tools/start status = %d, want 202, body: %s", got, w.Result().Body())
	}
	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(w.Result().Body(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("响应缺少 jobId")
	}
	return resp.JobID
}

func TestRouter_HealthCheck(t *testing.T) {
	s, _ := buildServerForTest(t)

	w := performJSON(s, "GET", "/api/health", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("GET /api/health status = %d, want 200", got)
	}
	if !bytes.Contains(w.Result().Body(), []byte(`"status":"ok"`)) {
		t.Fatalf("健康检查响应异常: %s", w.Result().Body())
	}
}

func TestRouter_Metrics(t *testing.T) {
	s, _ := buildServerForTest(t)

	w := performJSON(s, "GET", "/api/metrics", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("GET /api/metrics status = %d, want 200", got)
	}
}

func TestStartTool_CreatesJob(t *testing.T) {
	s, store := buildServerForTest(t)

	jobID := startJob(t, s)

	stored, err := store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get(%s): %v", jobID, err)
	}
	if stored.CurrentOrchestrationStep != tcc.StepPlanningSignatures {
		t.Fatalf("step = %s, want %s", stored.CurrentOrchestrationStep, tcc.StepPlanningSignatures)
	}
}

func TestStartTool_SelectedModelOverride(t *testing.T) {
	s, store := buildServerForTest(t)

	w := performJSON(s, "POST", "/api/tools/start", map[string]any{
		"description":       "一个按揭贷款月供计算器，支持提前还款对比",
		"selectedModel":     "claude-3-7-sonnet",
		"agentModelMapping": map[string]string{"validator": "gpt-4o-mini"},
	})
	if got := w.Result().StatusCode(); got != 202 {
		t.Fatalf("status = %d, want 202", got)
	}
	var resp struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(w.Result().Body(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	stored, err := store.Get(context.Background(), resp.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.SelectedModel != "claude-3-7-sonnet" {
		t.Fatalf("selectedModel = %q", stored.SelectedModel)
	}
	if stored.AgentModelMapping["validator"] != "gpt-4o-mini" {
		t.Fatalf("agentModelMapping = %v", stored.AgentModelMapping)
	}
}

func TestStartTool_RejectsShortDescription(t *testing.T) {
	s, _ := buildServerForTest(t)

	w := performJSON(s, "POST", "/api/tools/start", map[string]any{"description": "太短"})
	if got := w.Result().StatusCode(); got != 400 {
		t.Fatalf("status = %d, want 400", got)
	}
}

func TestStartTool_InvalidJSON(t *testing.T) {
	s, _ := buildServerForTest(t)

	body := []byte(`{not json`)
	w := ut.PerformRequest(s.Engine, "POST", "/api/tools/start", &ut.Body{Body: bytes.NewReader(body), Len: len(body)})
	if got := w.Result().StatusCode(); got != 400 {
		t.Fatalf("status = %d, want 400", got)
	}
}

func TestGetTool_NotFound(t *testing.T) {
	s, _ := buildServerForTest(t)

	w := performJSON(s, "GET", "/api/tools/tcc-missing", nil)
	if got := w.Result().StatusCode(); got != 404 {
		t.Fatalf("status = %d, want 404", got)
	}
}

func TestGetTool_ReturnsRecord(t *testing.T) {
	s, _ := buildServerForTest(t)

	jobID := startJob(t, s)
	w := performJSON(s, "GET", "/api/tools/"+jobID, nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("status = %d, want 200", got)
	}
	if !bytes.Contains(w.Result().Body(), []byte(jobID)) {
		t.Fatalf("响应缺少 jobId: %s", w.Result().Body())
	}
}

func TestGetProgress(t *testing.T) {
	s, _ := buildServerForTest(t)

	jobID := startJob(t, s)
	w := performJSON(s, "GET", "/api/tools/"+jobID+"/progress", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("status = %d, want 200", got)
	}
	var resp struct {
		JobID    string              `json:"jobId"`
		Progress []tcc.ProgressEntry `json:"progress"`
	}
	if err := json.Unmarshal(w.Result().Body(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.JobID != jobID {
		t.Fatalf("jobId = %q, want %q", resp.JobID, jobID)
	}
	// 创建 + 初始化完成
	if len(resp.Progress) != 2 {
		t.Fatalf("progress 条目数 = %d, want 2", len(resp.Progress))
	}
}

func TestPauseAndResume(t *testing.T) {
	s, store := buildServerForTest(t)

	jobID := startJob(t, s)

	w := performJSON(s, "POST", "/api/tools/"+jobID+"/pause", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("pause status = %d, want 200, body: %s", got, w.Result().Body())
	}
	stored, err := store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != tcc.StatusPaused {
		t.Fatalf("status = %s, want %s", stored.Status, tcc.StatusPaused)
	}

	w = performJSON(s, "POST", "/api/tools/"+jobID+"/resume", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("resume status = %d, want 200", got)
	}
	stored, err = store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != tcc.StatusInProgress {
		t.Fatalf("status = %s, want %s", stored.Status, tcc.StatusInProgress)
	}
	if stored.CurrentOrchestrationStep != tcc.StepPlanningSignatures {
		t.Fatalf("暂停恢复不应改变步骤, step = %s", stored.CurrentOrchestrationStep)
	}
}

func buildServerWithHub(t *testing.T) (*server.Hertz, *progress.Hub) {
	t.Helper()
	logger, err := log.NewLogger(&log.Config{Level: "error"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	store := tcc.NewMemoryStore()
	hub := progress.NewHub()
	dispatcher := orchestrator.NewDispatcher(store, nil, hub, logger)
	control := orchestrator.NewControl(store, dispatcher, hub, logger)
	h := NewHandler(control, logger)
	h.SetProgressSubscriber(hub)
	r := NewRouter(h, middleware.NewMiddleware())
	return r.Build(":0"), hub
}

func TestWatchProgress_ReturnsEvents(t *testing.T) {
	s, hub := buildServerWithHub(t)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = hub.Emit(context.Background(), progress.NewEvent(
			"tcc-watch", tcc.StepValidating, tcc.StatusCompleted, "validating 阶段完成", nil))
	}()

	w := performJSON(s, "GET", "/api/tools/tcc-watch/events?timeout=2s", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("status = %d, want 200", got)
	}
	var resp struct {
		JobID  string           `json:"jobId"`
		Events []progress.Event `json:"events"`
	}
	if err := json.Unmarshal(w.Result().Body(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("事件数 = %d, want 1", len(resp.Events))
	}
	if resp.Events[0].Step != tcc.StepValidating {
		t.Fatalf("step = %s", resp.Events[0].Step)
	}
}

func TestWatchProgress_TimeoutReturnsEmpty(t *testing.T) {
	s, _ := buildServerWithHub(t)

	w := performJSON(s, "GET", "/api/tools/tcc-idle/events?timeout=50ms", nil)
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("status = %d, want 200", got)
	}
	if !bytes.Contains(w.Result().Body(), []byte(`"events":[]`)) {
		t.Fatalf("超时应返回空事件列表: %s", w.Result().Body())
	}
}

func TestWatchProgress_DisabledWithoutSubscriber(t *testing.T) {
	s, _ := buildServerForTest(t)

	w := performJSON(s, "GET", "/api/tools/tcc-x/events", nil)
	if got := w.Result().StatusCode(); got != 503 {
		t.Fatalf("status = %d, want 503", got)
	}
}

func TestPause_MissingJob(t *testing.T) {
	s, _ := buildServerForTest(t)

	w := performJSON(s, "POST", "/api/tools/tcc-missing/pause", nil)
	if got := w.Result().StatusCode(); got != 404 {
		t.Fatalf("status = %d, want 404", got)
	}
}

func TestPause_CallerSuppliedTCC(t *testing.T) {
	s, _ := buildServerForTest(t)

	// 存储中不存在的任务，调用方自带 TCC 也可以暂停
	record := tcc.New("user-1", tcc.UserInput{Description: "一个计算每日饮水量建议的小工具"})
	w := performJSON(s, "POST", "/api/tools/"+record.JobID+"/pause", map[string]any{"tcc": record})
	if got := w.Result().StatusCode(); got != 200 {
		t.Fatalf("status = %d, want 200, body: %s", got, w.Result().Body())
	}
	if !bytes.Contains(w.Result().Body(), []byte("任务已暂停")) {
		t.Fatalf("响应缺少确认信息: %s", w.Result().Body())
	}
}
