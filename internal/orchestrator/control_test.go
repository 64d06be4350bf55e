// Copyright 2026 fanjia1024
// Tests for the orchestration control surface

package orchestrator

import (
	"context"
	"errors"
	"testing"

	"toolforge/internal/tcc"
	"toolforge/pkg/log"
)

func newControlFixture(t *testing.T) (*Control, tcc.Store, *recordTrigger, *recordEmitter) {
	t.Helper()
	logger, err := log.NewLogger(nil)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	store := tcc.NewMemoryStore()
	trigger := &recordTrigger{}
	emitter := &recordEmitter{}
	d := NewDispatcher(store, trigger, emitter, logger)
	return NewControl(store, d, emitter, logger), store, trigger, emitter
}

func validInput() tcc.UserInput {
	return tcc.UserInput{
		Description:    "an interactive mortgage calculator for first-time home buyers",
		TargetAudience: "first-time buyers",
		ToolType:       "calculator",
	}
}

func TestStart_CreatesAndAdvances(t *testing.T) {
	ct, store, trigger, _ := newControlFixture(t)

	c, err := ct.Start(context.Background(), "user-1", validInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.CurrentOrchestrationStep != tcc.StepPlanningSignatures {
		t.Errorf("step after start: got %s", c.CurrentOrchestrationStep)
	}
	if c.Status != tcc.StatusPending {
		t.Errorf("status after start: got %s", c.Status)
	}
	if len(c.ProgressLog) != 2 {
		t.Fatalf("progress log: got %d entries, want 2", len(c.ProgressLog))
	}
	if c.ProgressLog[0].Step != tcc.StepInitialization || c.ProgressLog[0].Status != tcc.StatusPending {
		t.Errorf("first entry: %+v", c.ProgressLog[0])
	}
	if c.ProgressLog[1].Step != tcc.StepInitialization || c.ProgressLog[1].Status != tcc.StatusCompleted {
		t.Errorf("second entry: %+v", c.ProgressLog[1])
	}

	stored, err := store.Get(context.Background(), c.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.CurrentOrchestrationStep != tcc.StepPlanningSignatures {
		t.Errorf("stored step: got %s", stored.CurrentOrchestrationStep)
	}

	trg := trigger.triggered()
	if len(trg) != 1 || trg[0].ExpectedStep != tcc.StepPlanningSignatures {
		t.Errorf("first stage trigger: %+v", trg)
	}
}

func TestStart_AnonymousUser(t *testing.T) {
	ct, _, _, _ := newControlFixture(t)

	c, err := ct.Start(context.Background(), "", validInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.UserID != tcc.AnonymousUserID {
		t.Errorf("user id: got %q", c.UserID)
	}
}

func TestStart_RejectsShortDescription(t *testing.T) {
	ct, _, _, _ := newControlFixture(t)

	_, err := ct.Start(context.Background(), "user-1", tcc.UserInput{Description: "tool"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	_, err = ct.Start(context.Background(), "user-1", tcc.UserInput{Description: "   "})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank description, got %v", err)
	}
}

func TestPauseThenResume(t *testing.T) {
	ct, _, _, _ := newControlFixture(t)

	c, err := ct.Start(context.Background(), "user-1", validInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stepBefore := c.CurrentOrchestrationStep

	paused, msg, err := ct.Pause(context.Background(), c.JobID, c)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused.Status != tcc.StatusPaused {
		t.Errorf("paused status: got %s", paused.Status)
	}
	if paused.CurrentOrchestrationStep != stepBefore {
		t.Errorf("pause must not change step: got %s", paused.CurrentOrchestrationStep)
	}
	if msg == "" {
		t.Error("expected confirmation message")
	}

	resumed, _, err := ct.Resume(context.Background(), c.JobID, paused)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != tcc.StatusInProgress {
		t.Errorf("resumed status: got %s", resumed.Status)
	}
	if resumed.CurrentOrchestrationStep != stepBefore {
		t.Errorf("resume must not change step: got %s", resumed.CurrentOrchestrationStep)
	}
}

func TestPause_CallerSuppliedTCCIsSourceOfTruth(t *testing.T) {
	ct, store, _, _ := newControlFixture(t)

	// 存储中不存在的任务也可以暂停，调用方提交的 TCC 即事实
	c := tcc.New("user-1", validInput())
	_ = store // 故意不 Save
	paused, _, err := ct.Pause(context.Background(), c.JobID, c)
	if err != nil {
		t.Fatalf("Pause without stored record: %v", err)
	}
	if paused.Status != tcc.StatusPaused {
		t.Errorf("status: got %s", paused.Status)
	}
}

func TestPause_JobIDMismatch(t *testing.T) {
	ct, _, _, _ := newControlFixture(t)
	c := tcc.New("user-1", validInput())

	if _, _, err := ct.Pause(context.Background(), "tcc-another", c); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, _, err := ct.Pause(context.Background(), c.JobID, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for nil TCC, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	ct, _, _, _ := newControlFixture(t)

	c, err := ct.Start(context.Background(), "user-1", validInput())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, err := ct.Status(context.Background(), c.JobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.JobID != c.JobID {
		t.Errorf("job id: got %q", got.JobID)
	}

	if _, err := ct.Status(context.Background(), "tcc-missing"); !errors.Is(err, tcc.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
